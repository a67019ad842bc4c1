// Package tools defines the tool surface offered to the model: the Tool
// interface, the category-aware registry, the budget-distributing
// selector, the request_more_tools meta-tool and the intent classifier.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Tool is one callable capability. Execute returns errors as values: a
// failed execution yields IsError=true and the message goes back to the
// model as an observation.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error)
}

// Func adapts a function into a Tool. Built-in tools derive their schema
// from an args struct at registration time.
type Func struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, input json.RawMessage) (*models.ToolResult, error)
}

// NewFunc builds a Tool from a handler and a pre-rendered schema.
func NewFunc(name, description string, schema json.RawMessage, fn func(ctx context.Context, input json.RawMessage) (*models.ToolResult, error)) *Func {
	return &Func{name: name, description: description, schema: schema, fn: fn}
}

func (f *Func) Name() string            { return f.name }
func (f *Func) Description() string     { return f.description }
func (f *Func) Schema() json.RawMessage { return f.schema }

func (f *Func) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	return f.fn(ctx, input)
}

// SchemaFor derives a JSON Schema for an args struct via reflection.
// Definitions are inlined so the result is a single self-contained object.
func SchemaFor(args any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(args)
	data, err := json.Marshal(schema)
	if err != nil {
		// Reflection over our own structs; a failure is a programming error.
		panic(fmt.Sprintf("tools: schema reflection failed: %v", err))
	}
	return data
}

// Defs renders tools as LLM tool definitions, preserving order.
func Defs(ts []Tool) []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
