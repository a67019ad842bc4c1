package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// rulesSchema is the contract of the rules file, checked before the
// struct-level compile so an operator gets one precise error instead of
// a half-loaded ruleset.
const rulesSchema = `{
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "target_tool", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "target_tool": {"type": "string", "minLength": 1},
          "action": {"enum": ["allow", "flag", "block"]},
          "reason": {"type": "string"},
          "argument_match": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledRulesSchema = jsonschema.MustCompileString("policy://rules.json", rulesSchema)

// validateAgainstSchema checks raw YAML rules against the embedded schema.
func validateAgainstSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse policy rules: %w", err)
	}
	// Round-trip through JSON so map keys become strings.
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to normalize policy rules: %w", err)
	}
	var normalized any
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.UseNumber()
	if err := dec.Decode(&normalized); err != nil {
		return err
	}
	if err := compiledRulesSchema.Validate(normalized); err != nil {
		return fmt.Errorf("policy rules do not match schema: %w", err)
	}
	return nil
}
