// File path: internal/normalize/opencode.go
package normalize

import "github.com/coreflowai/agent-dog/internal/event"

// opencode ships two dialects through the same adapter: hook-style events
// (session.created, session.idle, message.updated, message.part.updated) and
// jsonl transcript records (step_start, step_finish, text, tool_use). Both
// live in one table keyed by the raw type.
var opencodeTable = map[string]mapper{
	"session.created": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySession
		ev.Type = event.TypeSessionStart
	},
	// opencode never emits an explicit end; idle is the closest signal.
	"session.idle": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySession
		ev.Type = event.TypeSessionEnd
	},
	"message.updated":      opencodePart,
	"message.part.updated": opencodePart,
	"step_start": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySystem
		ev.Type = event.TypeTurnStart
	},
	"step_finish": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySystem
		ev.Type = "turn.end"
		if usage, ok := raw["tokens"]; ok {
			ev.Meta = map[string]interface{}{"tokens": usage}
		}
	},
	"text": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategoryMessage
		ev.Type = event.TypeMessageAssistant
		ev.Role = "assistant"
		if role := str(raw, "_role", "role"); role == "user" {
			ev.Type = event.TypeMessageUser
			ev.Role = "user"
		}
		ev.Text = str(raw, "text", "content")
	},
	"tool_use": func(raw RawEvent, ev *event.Event) {
		state := obj(raw, "state")
		ev.Category = event.CategoryTool
		ev.ToolName = str(raw, "tool", "name")
		if str(state, "status") == "completed" {
			ev.Type = event.TypeToolEnd
			ev.ToolOutput = event.TruncateToolOutput(state["output"])
			return
		}
		ev.Type = event.TypeToolStart
		ev.ToolInput = state["input"]
	},
}

// opencodePart handles message.updated / message.part.updated payloads, which
// carry the interesting data inside part.
func opencodePart(raw RawEvent, ev *event.Event) {
	part := obj(raw, "part")
	if part == nil {
		part = obj(obj(raw, "properties"), "part")
	}
	switch str(part, "type") {
	case "text":
		ev.Category = event.CategoryMessage
		role := str(raw, "_role", "role")
		if role == "" {
			role = str(part, "_role", "role")
		}
		if role == "user" {
			ev.Type = event.TypeMessageUser
			ev.Role = "user"
		} else {
			ev.Type = event.TypeMessageAssistant
			ev.Role = "assistant"
		}
		ev.Text = str(part, "text", "content")
	case "tool":
		state := obj(part, "state")
		ev.Category = event.CategoryTool
		ev.ToolName = str(part, "tool", "name")
		switch str(state, "status") {
		case "completed":
			ev.Type = event.TypeToolEnd
			ev.ToolOutput = event.TruncateToolOutput(state["output"])
		default:
			ev.Type = event.TypeToolStart
			ev.ToolInput = state["input"]
		}
	default:
		fallback(raw, ev, rawType(raw))
	}
}

func normalizeOpenCode(raw RawEvent, ev *event.Event) {
	if m, ok := opencodeTable[str(raw, "type")]; ok {
		m(raw, ev)
		return
	}
	fallback(raw, ev, rawType(raw))
}
