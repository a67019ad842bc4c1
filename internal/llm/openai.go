package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible backend. BaseURL may
// point at any server speaking the chat-completions API (vLLM,
// llama.cpp, LM Studio, OpenRouter, or OpenAI itself).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	Timeout    time.Duration
}

// OpenAI is the chat-completions backend. The think flag is ignored:
// the chat-completions API has no reasoning toggle, so StripReasoning
// handles models that emit <think> blocks anyway.
type OpenAI struct {
	client     *openai.Client
	model      string
	embedModel string
}

var _ Client = (*OpenAI)(nil)

// NewOpenAI creates the OpenAI-compatible backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = string(openai.SmallEmbedding3)
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
	}
}

// Chat runs a plain completion.
func (o *OpenAI) Chat(ctx context.Context, messages []models.Message, think bool) (string, *Usage, error) {
	resp, err := o.chat(ctx, messages, nil)
	if err != nil {
		return "", nil, err
	}
	return resp.Content, &Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}, nil
}

// ChatWithTools runs a completion with tool schemas offered.
func (o *OpenAI) ChatWithTools(ctx context.Context, messages []models.Message, tools []ToolDef, think bool) (*ChatResponse, error) {
	return o.chat(ctx, messages, tools)
}

func (o *OpenAI) chat(ctx context.Context, messages []models.Message, tools []ToolDef) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.convertMessages(messages),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat returned no choices")
	}

	choice := resp.Choices[0].Message
	out := &ChatResponse{
		Content:         StripReasoning(choice.Content),
		InputTokens:     resp.Usage.PromptTokens,
		OutputTokens:    resp.Usage.CompletionTokens,
		Model:           resp.Model,
		TotalDurationMS: time.Since(start).Milliseconds(),
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Embed generates an embedding for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings returned no data")
	}
	return resp.Data[0].Embedding, nil
}

func (o *OpenAI) convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		out = append(out, om)
	}
	return out
}
