// File path: internal/insight/analyzer.go
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/llm"
)

const systemPrompt = `You are an observability analyst for AI-assisted coding sessions.
You have read-only SQL access to the session database through the provided tools.
Inspect the user's recent sessions and events, then respond with ONLY a JSON object:
{
  "summary": "what the user worked on and how it went",
  "userIntent": "what the user was trying to achieve",
  "frustrationPoints": ["..."],
  "improvements": ["..."],
  "followUpActions": [{"title": "...", "priority": "low|medium|high", "category": "tooling|workflow|knowledge|other"}],
  "questions": ["clarifying questions for the user, only if needed"],
  "stats": {"sessionsAnalyzed": 0, "eventsAnalyzed": 0}
}`

// analyzerResult is the fixed JSON contract the analyzer must return.
type analyzerResult struct {
	Summary           string                 `json:"summary"`
	UserIntent        string                 `json:"userIntent"`
	FrustrationPoints []string               `json:"frustrationPoints"`
	Improvements      []string               `json:"improvements"`
	FollowUpActions   []event.FollowUpAction `json:"followUpActions"`
	Questions         []string               `json:"questions"`
	Stats             struct {
		SessionsAnalyzed int `json:"sessionsAnalyzed"`
		EventsAnalyzed   int `json:"eventsAnalyzed"`
	} `json:"stats"`
}

// render flattens the structured result into the stored insight content.
func (r analyzerResult) render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Summary))
	if intent := strings.TrimSpace(r.UserIntent); intent != "" {
		b.WriteString("\n\n**Intent:** ")
		b.WriteString(intent)
	}
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n\n**")
		b.WriteString(title)
		b.WriteString(":**")
		for _, item := range items {
			b.WriteString("\n- ")
			b.WriteString(item)
		}
	}
	writeList("Frustration points", r.FrustrationPoints)
	writeList("Improvements", r.Improvements)
	return b.String()
}

// categories derives the insight's category tags from its follow-up actions.
func (r analyzerResult) categories() []string {
	seen := make(map[string]struct{})
	for _, action := range r.FollowUpActions {
		if action.Category != "" {
			seen[action.Category] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for category := range seen {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

func initialPrompt(userID string, sinceMillis int64) string {
	since := "the beginning"
	if sinceMillis > 0 {
		since = time.UnixMilli(sinceMillis).UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf(
		"Analyze the coding activity of user %q since %s. "+
			"Filter queries with user_id = %q and timestamp > %d. "+
			"Use get_schema first if you are unsure of the tables.",
		userID, since, userID, sinceMillis)
}

func refinementPrompt(in event.Insight, answered []event.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You previously produced this insight (round %d):\n\n%s\n\n", in.Round, in.Content)
	b.WriteString("The user has now answered your questions:\n")
	for _, q := range answered {
		fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", q.Text, q.Answer)
	}
	b.WriteString("\nRevise the insight with this new information. Respond with the same JSON object shape. " +
		"Ask further questions only if something essential is still unclear.")
	return b.String()
}

// analyze drives one analyzer conversation: prompt, tool loop, JSON result.
func (s *Scheduler) analyze(ctx context.Context, prompt string) (analyzerResult, int, error) {
	chat := s.provider.NewChat(systemPrompt, s.tools.Defs())
	turn, err := chat.Send(ctx, prompt)
	if err != nil {
		return analyzerResult{}, 0, err
	}
	for i := 0; i < s.cfg.MaxToolIterations && turn.FinishReason == llm.FinishToolCalls; i++ {
		results := make([]llm.ToolResult, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			results = append(results, llm.ToolResult{
				ToolCallID: call.ID,
				Content:    s.tools.Dispatch(ctx, call),
			})
		}
		turn, err = chat.SendToolResults(ctx, results)
		if err != nil {
			return analyzerResult{}, chat.TokensUsed(), err
		}
	}
	result, err := parseResult(turn.Text)
	if err != nil {
		return analyzerResult{}, chat.TokensUsed(), err
	}
	return result, chat.TokensUsed(), nil
}

// parseResult decodes the analyzer's JSON, tolerating markdown code fences.
func parseResult(text string) (analyzerResult, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var result analyzerResult
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return analyzerResult{}, fmt.Errorf("analyzer returned invalid JSON: %w", err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return analyzerResult{}, fmt.Errorf("analyzer result missing summary")
	}
	return result, nil
}
