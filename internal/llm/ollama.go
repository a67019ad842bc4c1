package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// OllamaConfig configures the native Ollama backend.
type OllamaConfig struct {
	BaseURL    string // Default: http://localhost:11434
	Model      string
	EmbedModel string // nomic-embed-text, mxbai-embed-large
	Timeout    time.Duration
}

// Ollama talks to a local Ollama server over its native API. It is the
// default backend: the native endpoints expose the think flag and exact
// token counters that the OpenAI-compatible shim hides.
type Ollama struct {
	baseURL    string
	model      string
	embedModel string
	client     *http.Client
}

var _ Client = (*Ollama)(nil)

// NewOllama creates the native Ollama backend.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Ollama{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Think    bool            `json:"think"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	TotalDuration   int64         `json:"total_duration"` // nanoseconds
}

// Chat runs a plain completion.
func (o *Ollama) Chat(ctx context.Context, messages []models.Message, think bool) (string, *Usage, error) {
	resp, err := o.chat(ctx, messages, nil, think)
	if err != nil {
		return "", nil, err
	}
	return resp.Content, &Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}, nil
}

// ChatWithTools runs a completion with tool schemas offered.
func (o *Ollama) ChatWithTools(ctx context.Context, messages []models.Message, tools []ToolDef, think bool) (*ChatResponse, error) {
	return o.chat(ctx, messages, tools, think)
}

func (o *Ollama) chat(ctx context.Context, messages []models.Message, tools []ToolDef, think bool) (*ChatResponse, error) {
	req := ollamaChatRequest{
		Model:    o.model,
		Messages: convertMessages(messages),
		Think:    think,
		Stream:   false,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	var result ollamaChatResponse
	if err := o.post(ctx, "/api/chat", req, &result); err != nil {
		return nil, err
	}

	resp := &ChatResponse{
		Content:         StripReasoning(result.Message.Content),
		InputTokens:     result.PromptEvalCount,
		OutputTokens:    result.EvalCount,
		Model:           result.Model,
		TotalDurationMS: result.TotalDuration / int64(time.Millisecond),
	}
	// Ollama does not assign call ids; synthesize stable ones so tool
	// results can reference their call by index.
	for i, tc := range result.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:    fmt.Sprintf("call_%d", i),
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}
	return resp, nil
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for a single text via /api/embed, which
// replaced the deprecated /api/embeddings endpoint.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	req := ollamaEmbedRequest{Model: o.embedModel, Input: text}
	var result ollamaEmbedResponse
	if err := o.post(ctx, "/api/embed", req, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embedding for input")
	}
	return result.Embeddings[0], nil
}

func (o *Ollama) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("ollama returned status %d and failed to read body: %w", resp.StatusCode, readErr)
		}
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func convertMessages(messages []models.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaToolFunction{Name: tc.Name, Arguments: tc.Input},
			})
		}
		out = append(out, om)
	}
	return out
}
