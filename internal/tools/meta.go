package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
)

// MetaToolName is the executor-handled tool that enlarges the offered
// tool set mid-loop. It is always first in the tools array and exempt
// from policy evaluation and audit.
const MetaToolName = "request_more_tools"

// MetaToolArgs is the argument payload of request_more_tools.
type MetaToolArgs struct {
	Categories []string `json:"categories"`
	Reason     string   `json:"reason"`
}

// BuildRequestMoreToolsSchema renders the meta-tool definition. The
// description enumerates the available categories (sorted) so the model
// knows what it may request.
func BuildRequestMoreToolsSchema(availableCategories []string) llm.ToolDef {
	sorted := make([]string, len(availableCategories))
	copy(sorted, availableCategories)
	// CategoryTags already sorts, but callers may pass raw lists.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"categories": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Tool categories to load",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the current tools are not enough",
			},
		},
		"required": []string{"categories"},
	}
	raw, _ := json.Marshal(schema)
	return llm.ToolDef{
		Name: MetaToolName,
		Description: fmt.Sprintf(
			"Request additional tools when the current set cannot complete the task. Available categories: %s",
			strings.Join(sorted, ", ")),
		Parameters: raw,
	}
}

// IsMetaCall reports whether a tool call targets the meta-tool.
func IsMetaCall(name string) bool { return name == MetaToolName }
