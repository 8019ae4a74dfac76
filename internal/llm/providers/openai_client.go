// File path: internal/llm/providers/openai_client.go
package providers

import (
	"context"
	"fmt"
	"os"
	"sync"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"

	"github.com/coreflowai/agent-dog/internal/common"
)

type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	model := os.Getenv("OPENAI_CHAT_MODEL")
	if model == "" {
		model = "gpt-4o"
	}
	common.Logger().Info("llm: OpenAI provider configured", "chat_model", model)
	return &OpenAIProvider{client: client, model: model}
}

func (o *OpenAIProvider) NewChat(system string, tools []ToolDef) Chat {
	chat := &openAIChat{provider: o}
	if system != "" {
		chat.history = append(chat.history, openai.SystemMessage(system))
	}
	for _, tool := range tools {
		chat.tools = append(chat.tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  shared.FunctionParameters(tool.Parameters),
		}))
	}
	return chat
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}

type openAIChat struct {
	provider *OpenAIProvider

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
	tools   []openai.ChatCompletionToolUnionParam
	tokens  int
}

func (c *openAIChat) Send(ctx context.Context, content string) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, openai.UserMessage(content))
	return c.complete(ctx)
}

func (c *openAIChat) SendToolResults(ctx context.Context, results []ToolResult) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(results) == 0 {
		return nil, fmt.Errorf("no tool results provided")
	}
	for _, result := range results {
		c.history = append(c.history, openai.ToolMessage(result.Content, result.ToolCallID))
	}
	return c.complete(ctx)
}

func (c *openAIChat) complete(ctx context.Context) (*Turn, error) {
	logger := common.Logger()
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.provider.model),
		Messages: c.history,
	}
	if len(c.tools) > 0 {
		params.Tools = c.tools
	}
	logger.Debug("llm: chat completion request", "model", c.provider.model, "messages", len(c.history))
	resp, err := c.provider.client.Chat.Completions.New(ctx, params)
	if err != nil {
		logger.Error("llm: chat completion failed", "error", err)
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	choice := resp.Choices[0]
	c.history = append(c.history, choice.Message.ToParam())
	c.tokens += int(resp.Usage.PromptTokens + resp.Usage.CompletionTokens)

	turn := &Turn{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, call := range choice.Message.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if len(turn.ToolCalls) > 0 {
		turn.FinishReason = FinishToolCalls
	} else if turn.FinishReason == "" {
		turn.FinishReason = FinishStop
	}
	logger.Debug("llm: chat completion succeeded", "finish", turn.FinishReason, "tool_calls", len(turn.ToolCalls))
	return turn, nil
}

func (c *openAIChat) TokensUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}
