// File path: internal/llm/providers/types.go
package providers

import "context"

// ToolDef declares one callable tool offered to the model. Parameters is a
// JSON-schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is one tool invocation requested by the model. Arguments is the
// raw JSON argument object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult carries a tool's output back into the conversation.
type ToolResult struct {
	ToolCallID string
	Content    string
}

// Turn is the model's response to one completion round.
type Turn struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string // "stop" or "tool_calls"
}

// FinishStop and FinishToolCalls are the turn outcomes callers branch on.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Chat is one stateful tool-calling conversation.
type Chat interface {
	// Send appends a user message and runs a completion round.
	Send(ctx context.Context, content string) (*Turn, error)
	// SendToolResults feeds tool outputs back and runs the next round.
	SendToolResults(ctx context.Context, results []ToolResult) (*Turn, error)
	// TokensUsed reports the cumulative token count across rounds.
	TokensUsed() int
}

// Provider creates chats against one model backend.
type Provider interface {
	NewChat(system string, tools []ToolDef) Chat
	Model() string
	Name() string
}
