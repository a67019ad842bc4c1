package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// JSONSchema renders the JSON Schema for the config file, as printed by
// `sidekick config schema`. Field names follow the yaml tags so the
// schema describes exactly what Load parses.
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(&Config{})
	schema.Title = "Sidekick configuration"
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering config schema: %w", err)
	}
	return data, nil
}
