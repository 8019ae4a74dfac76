// File path: internal/api/transcript.go
package api

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/normalize"
)

// spliceTranscript fills a missing result on a claude-code Stop hook by
// reading the session transcript locally and extracting the latest assistant
// turn. Any failure is logged at debug and otherwise ignored; the event is
// processed without the splice.
func spliceTranscript(source event.Source, raw normalize.RawEvent, maxBytes int64) {
	if source != event.SourceClaudeCode {
		return
	}
	hook, _ := raw["hook_event_name"].(string)
	if hook != "Stop" {
		return
	}
	if result, ok := raw["result"].(string); ok && result != "" {
		return
	}
	path, _ := raw["transcript_path"].(string)
	if path == "" {
		return
	}
	text, err := latestAssistantTurn(path, maxBytes)
	if err != nil {
		common.Logger().Debug("api: transcript splice skipped", "path", path, "error", err)
		return
	}
	if text != "" {
		raw["result"] = text
	}
}

// transcriptRecord is the subset of a transcript JSONL line the splice needs.
type transcriptRecord struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// latestAssistantTurn scans a JSONL transcript and returns the concatenated
// text blocks of the last contiguous run of assistant records. Files larger
// than maxBytes are read from the tail only, dropping the first partial line.
func latestAssistantTurn(path string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var reader io.Reader = f
	if info, err := f.Stat(); err == nil && info.Size() > maxBytes {
		if _, err := f.Seek(-maxBytes, io.SeekEnd); err == nil {
			buffered := bufio.NewReader(f)
			// Discard up to the next newline so every scanned line is whole.
			if _, err := buffered.ReadString('\n'); err != nil {
				return "", err
			}
			reader = buffered
		}
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var turn []string
	inTurn := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec transcriptRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type != "assistant" && rec.Message.Role != "assistant" {
			inTurn = false
			continue
		}
		if !inTurn {
			turn = turn[:0]
			inTurn = true
		}
		for _, block := range rec.Message.Content {
			if block.Type == "text" && block.Text != "" {
				turn = append(turn, block.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(turn, "\n"), nil
}
