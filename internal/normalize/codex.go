// File path: internal/normalize/codex.go
package normalize

import "github.com/coreflowai/agent-dog/internal/event"

// codexTable maps codex thread-stream event types. Item events sub-dispatch on
// the embedded item type.
var codexTable = map[string]mapper{
	"thread.started": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySession
		ev.Type = event.TypeSessionStart
	},
	"turn.started": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySystem
		ev.Type = event.TypeTurnStart
	},
	"turn.completed": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySession
		ev.Type = event.TypeSessionEnd
	},
	"item.started":   codexItemStarted,
	"item.completed": codexItemCompleted,
	"error": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategoryError
		ev.Type = event.TypeError
		ev.Error = str(raw, "message", "error")
	},
}

// codexToolItems are the item types that represent tool invocations.
var codexToolItems = map[string]bool{
	"command_execution": true,
	"file_change":       true,
}

func codexItemStarted(raw RawEvent, ev *event.Event) {
	item := obj(raw, "item")
	itemType := str(item, "type")
	switch {
	case codexToolItems[itemType]:
		ev.Category = event.CategoryTool
		ev.Type = event.TypeToolStart
		ev.ToolName = itemType
		if itemType == "command_execution" {
			ev.ToolInput = map[string]interface{}{"command": item["command"]}
		} else {
			ev.ToolInput = map[string]interface{}{"file": item["file"], "patch": item["patch"]}
		}
	case itemType == "agent_message":
		ev.Category = event.CategoryMessage
		ev.Type = event.TypeMessageAssistant
		ev.Role = "assistant"
		ev.Text = str(item, "content", "text")
	default:
		fallback(raw, ev, rawType(raw))
	}
}

func codexItemCompleted(raw RawEvent, ev *event.Event) {
	item := obj(raw, "item")
	itemType := str(item, "type")
	switch {
	case codexToolItems[itemType]:
		ev.Category = event.CategoryTool
		ev.Type = event.TypeToolEnd
		ev.ToolName = itemType
		output := item["output"]
		if output == nil {
			output = item["aggregated_output"]
		}
		ev.ToolOutput = event.TruncateToolOutput(output)
	case itemType == "agent_message":
		ev.Category = event.CategoryMessage
		ev.Type = event.TypeMessageAssistant
		ev.Role = "assistant"
		ev.Text = str(item, "content", "text")
	default:
		fallback(raw, ev, rawType(raw))
	}
}

func normalizeCodex(raw RawEvent, ev *event.Event) {
	if m, ok := codexTable[str(raw, "type")]; ok {
		m(raw, ev)
		return
	}
	fallback(raw, ev, rawType(raw))
}
