package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator compiles tool schemas once and checks call arguments before
// dispatch. Invalid arguments never reach a handler; the failure flows
// back to the model as an error observation.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator creates an empty validator cache.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks input against the tool's schema. A tool without a
// schema accepts anything. Schema compile errors fail the call: a tool
// with a broken contract must not execute.
func (v *Validator) Validate(tool Tool, input json.RawMessage) error {
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}
	schema, err := v.compile(tool.Name(), raw)
	if err != nil {
		return fmt.Errorf("tool %s has an invalid schema: %w", tool.Name(), err)
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", tool.Name(), err)
	}
	return nil
}

func (v *Validator) compile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[name]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[name] = schema
	return schema, nil
}
