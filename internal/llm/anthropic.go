package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// anthropicMaxTokens bounds one completion.
const anthropicMaxTokens = 4096

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Anthropic talks to the Messages API. It has no embeddings endpoint,
// so deployments pair it with an Ollama embedder. The think flag maps
// to nothing: extended thinking stays off because tool loops always
// disable reasoning anyway.
type Anthropic struct {
	client anthropic.Client
	model  string
}

var _ Client = (*Anthropic)(nil)

// NewAnthropic creates the Anthropic backend.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}
}

// Chat runs a plain completion.
func (a *Anthropic) Chat(ctx context.Context, messages []models.Message, think bool) (string, *Usage, error) {
	resp, err := a.chat(ctx, messages, nil)
	if err != nil {
		return "", nil, err
	}
	return resp.Content, &Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}, nil
}

// ChatWithTools runs a completion with tool schemas offered.
func (a *Anthropic) ChatWithTools(ctx context.Context, messages []models.Message, tools []ToolDef, think bool) (*ChatResponse, error) {
	return a.chat(ctx, messages, tools)
}

func (a *Anthropic) chat(ctx context.Context, messages []models.Message, tools []ToolDef) (*ChatResponse, error) {
	converted, system, err := convertAnthropicMessages(messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  converted,
		MaxTokens: anthropicMaxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat failed: %w", err)
	}

	resp := &ChatResponse{
		InputTokens:     int(msg.Usage.InputTokens),
		OutputTokens:    int(msg.Usage.OutputTokens),
		Model:           string(msg.Model),
		TotalDurationMS: time.Since(start).Milliseconds(),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	resp.Content = StripReasoning(resp.Content)
	return resp, nil
}

// Embed always fails: Anthropic exposes no embeddings endpoint.
func (a *Anthropic) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}

// convertAnthropicMessages maps conversation history onto the Messages
// API shape: system prompts ride in a dedicated field, tool results
// become user-role tool_result blocks, assistant tool calls become
// tool_use blocks.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	var (
		converted []anthropic.MessageParam
		system    []anthropic.TextBlockParam
	)
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})

		case models.RoleTool:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))

		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			converted = append(converted, anthropic.NewAssistantMessage(blocks...))

		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return converted, system, nil
}
