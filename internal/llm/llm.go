// Package llm defines the inference boundary: chat, tool-calling chat and
// embeddings against a local or remote model server. Every backend strips
// reasoning tags before returning content so <think> blocks never leak
// into conversation history.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// ErrEmbeddingsUnsupported is returned by backends without an embeddings
// endpoint. Callers pair those with a dedicated embedder.
var ErrEmbeddingsUnsupported = errors.New("llm: embeddings not supported by this backend")

// Usage carries the token counters of one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolDef is a tool schema offered to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatResponse is the result of a tool-calling completion.
type ChatResponse struct {
	Content         string
	ToolCalls       []models.ToolCall
	InputTokens     int
	OutputTokens    int
	Model           string
	TotalDurationMS int64
}

// Client is the inference boundary consumed by the pipeline and the agent
// runtime. think toggles reasoning on models that support it; callers
// disable it whenever tools are present.
type Client interface {
	Chat(ctx context.Context, messages []models.Message, think bool) (string, *Usage, error)
	ChatWithTools(ctx context.Context, messages []models.Message, tools []ToolDef, think bool) (*ChatResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}
