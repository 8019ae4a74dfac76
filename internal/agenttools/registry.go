// File path: internal/agenttools/registry.go
//
// Package agenttools is the tool registry handed to the analyzer and to cron
// job runs: a read-only SQL tool over the event store plus a schema tool so
// the model can discover what to query.
package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/llm"
	"github.com/coreflowai/agent-dog/internal/store"
)

const maxRows = 200

// Tool pairs a model-facing definition with its local executor.
type Tool struct {
	Def llm.ToolDef
	Run func(ctx context.Context, args string) (string, error)
}

// Registry holds the tools available to one agent loop.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds the standard registry over the store.
func NewRegistry(st *store.Store) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(Tool{
		Def: llm.ToolDef{
			Name:        "query_events",
			Description: "Run a read-only SQL SELECT against the observability database (sessions, events, insights, cron_jobs tables). Returns rows as JSON.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sql": map[string]interface{}{
						"type":        "string",
						"description": "A single SELECT statement.",
					},
				},
				"required": []string{"sql"},
			},
		},
		Run: func(ctx context.Context, args string) (string, error) {
			return runQuery(ctx, st, args)
		},
	})
	r.Register(Tool{
		Def: llm.ToolDef{
			Name:        "get_schema",
			Description: "Return the SQL schema of the observability database.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		Run: func(ctx context.Context, args string) (string, error) {
			return schemaDump(ctx, st)
		},
	})
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Def.Name]; !exists {
		r.order = append(r.order, tool.Def.Name)
	}
	r.tools[tool.Def.Name] = tool
}

// Defs lists the tool definitions in registration order.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Def)
	}
	return defs
}

// Dispatch executes one requested call. Failures come back as tool output so
// the model can correct itself instead of aborting the loop.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) string {
	tool, ok := r.tools[call.Name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	out, err := tool.Run(ctx, call.Arguments)
	if err != nil {
		common.Logger().Debug("agenttools: tool failed", "tool", call.Name, "error", err)
		return "error: " + err.Error()
	}
	return out
}

type queryArgs struct {
	SQL string `json:"sql"`
}

// readOnly reports whether the statement is a single SELECT (or WITH...SELECT).
func readOnly(sql string) bool {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	if strings.ContainsRune(trimmed, ';') {
		return false
	}
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

func runQuery(ctx context.Context, st *store.Store, args string) (string, error) {
	var parsed queryArgs
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(parsed.SQL) == "" {
		return "", fmt.Errorf("sql is required")
	}
	if !readOnly(parsed.SQL) {
		return "", fmt.Errorf("only single SELECT statements are allowed")
	}

	rows, err := st.DB().QueryxContext(ctx, parsed.SQL)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	truncated := false
	for rows.Next() {
		if len(out) >= maxRows {
			truncated = true
			break
		}
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		for key, value := range row {
			if raw, ok := value.([]byte); ok {
				row[key] = string(raw)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}

	result := map[string]interface{}{"rows": out, "count": len(out)}
	if truncated {
		result["truncated"] = true
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(encoded), nil
}

func schemaDump(ctx context.Context, st *store.Store) (string, error) {
	rows, err := st.DB().QueryxContext(ctx,
		`SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return "", fmt.Errorf("schema query failed: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return "", fmt.Errorf("schema scan failed: %w", err)
		}
		parts = append(parts, ddl+";")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("schema query failed: %w", err)
	}
	return strings.Join(parts, "\n\n"), nil
}
