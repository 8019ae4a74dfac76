// File path: internal/agenttools/registry_test.go
package agenttools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/llm"
	"github.com/coreflowai/agent-dog/internal/normalize"
	"github.com/coreflowai/agent-dog/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tools-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewRegistry(st), st
}

func TestQueryEventsTool(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	for i, prompt := range []string{"first", "second"} {
		ev := normalize.Normalize(event.SourceClaudeCode, "S1", map[string]interface{}{
			"hook_event_name": "UserPromptSubmit",
			"prompt":          prompt,
			"timestamp":       1000 + i,
		})
		if err := st.Append(ctx, ev, "user-1"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	out := reg.Dispatch(ctx, llm.ToolCall{
		Name:      "query_events",
		Arguments: `{"sql": "SELECT type, text FROM events ORDER BY timestamp"}`,
	})
	var result struct {
		Rows  []map[string]interface{} `json:"rows"`
		Count int                      `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("tool output not JSON: %s", out)
	}
	if result.Count != 2 || result.Rows[0]["text"] != "first" {
		t.Fatalf("unexpected rows: %s", out)
	}
}

func TestQueryToolRejectsWrites(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, sql := range []string{
		"DELETE FROM events",
		"UPDATE sessions SET status = 'error'",
		"SELECT 1; DROP TABLE events",
		"INSERT INTO events (id) VALUES ('x')",
	} {
		out := reg.Dispatch(ctx, llm.ToolCall{Name: "query_events", Arguments: `{"sql": ` + quoteJSON(sql) + `}`})
		if !strings.HasPrefix(out, "error:") {
			t.Fatalf("expected rejection for %q, got %s", sql, out)
		}
	}

	// WITH-prefixed reads are allowed.
	out := reg.Dispatch(ctx, llm.ToolCall{
		Name:      "query_events",
		Arguments: `{"sql": "WITH c AS (SELECT COUNT(*) AS n FROM events) SELECT n FROM c"}`,
	})
	if strings.HasPrefix(out, "error:") {
		t.Fatalf("WITH query rejected: %s", out)
	}
}

func quoteJSON(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func TestSchemaTool(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Dispatch(context.Background(), llm.ToolCall{Name: "get_schema", Arguments: "{}"})
	for _, table := range []string{"sessions", "events", "insights", "cron_jobs"} {
		if !strings.Contains(out, table) {
			t.Fatalf("schema missing table %s:\n%s", table, out)
		}
	}
}

func TestUnknownTool(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Dispatch(context.Background(), llm.ToolCall{Name: "nope", Arguments: "{}"})
	if !strings.Contains(out, "unknown tool") {
		t.Fatalf("expected unknown tool error, got %s", out)
	}
	if len(reg.Defs()) != 2 {
		t.Fatalf("expected two registered tools, got %d", len(reg.Defs()))
	}
}
