// File path: internal/llm/providers/local.go
package providers

import (
	"context"
	"fmt"
	"strings"
)

// LocalProvider is the offline fallback used when no API key is configured.
// It never requests tools and echoes the last user message, which keeps the
// schedulers and their tests runnable without network access.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) NewChat(system string, tools []ToolDef) Chat {
	return &localChat{}
}

func (l *LocalProvider) Model() string {
	return "local-stub"
}

func (l *LocalProvider) Name() string {
	return "local"
}

type localChat struct {
	rounds int
}

func (c *localChat) Send(ctx context.Context, content string) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("no content provided")
	}
	c.rounds++
	return &Turn{
		Text:         "[local-stub] " + strings.TrimSpace(content),
		FinishReason: FinishStop,
	}, nil
}

func (c *localChat) SendToolResults(ctx context.Context, results []ToolResult) (*Turn, error) {
	c.rounds++
	return &Turn{
		Text:         fmt.Sprintf("[local-stub] received %d tool results", len(results)),
		FinishReason: FinishStop,
	}, nil
}

func (c *localChat) TokensUsed() int {
	return 0
}
