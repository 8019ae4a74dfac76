// File path: internal/normalize/claudecode.go
package normalize

import "github.com/coreflowai/agent-dog/internal/event"

// claudeCodeTable maps hook_event_name values emitted by the claude-code hook
// adapter onto canonical events.
var claudeCodeTable = map[string]mapper{
	"SessionStart": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySession
		ev.Type = event.TypeSessionStart
	},
	"UserPromptSubmit": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategoryMessage
		ev.Type = event.TypeMessageUser
		ev.Role = "user"
		ev.Text = str(raw, "user_message", "message", "text", "prompt")
	},
	"PreToolUse": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategoryTool
		ev.Type = event.TypeToolStart
		ev.ToolName = str(raw, "tool_name")
		ev.ToolInput = raw["tool_input"]
	},
	"PostToolUse": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategoryTool
		ev.Type = event.TypeToolEnd
		ev.ToolName = str(raw, "tool_name")
		output := raw["tool_response"]
		if output == nil {
			output = raw["tool_output"]
		}
		ev.ToolOutput = event.TruncateToolOutput(output)
	},
	"Stop": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategoryMessage
		ev.Type = event.TypeMessageAssistant
		ev.Role = "assistant"
		ev.Text = str(raw, "result", "response")
		if reason := str(raw, "stop_reason"); reason != "" {
			ev.Meta = map[string]interface{}{"stop_reason": reason}
		}
	},
	"SessionEnd": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategorySession
		ev.Type = event.TypeSessionEnd
	},
	"Error": func(raw RawEvent, ev *event.Event) {
		ev.Category = event.CategoryError
		ev.Type = event.TypeError
		ev.Error = str(raw, "error", "message")
	},
}

func normalizeClaudeCode(raw RawEvent, ev *event.Event) {
	name := str(raw, "hook_event_name")
	if m, ok := claudeCodeTable[name]; ok {
		m(raw, ev)
		return
	}
	fallback(raw, ev, rawType(raw))
}
