// Package compaction shrinks oversized tool outputs while preserving exact
// identifiers. JSON extraction runs first because a summarizing model
// tends to replace real ids with placeholders; the LLM path is the
// fallback for prose, and hard truncation the last resort.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// fieldWhitelist are the JSON keys worth keeping, in render order.
var fieldWhitelist = []string{
	"name", "full_name", "id", "title", "description", "html_url", "url",
	"state", "number", "login", "path", "status", "message",
	"created_at", "updated_at",
}

// Compactor compacts tool outputs above a size threshold.
type Compactor struct {
	llm       llm.Client
	threshold int
	logger    *slog.Logger
}

// New builds a compactor. threshold is the character count above which an
// output is compacted (spec default 20000).
func New(client llm.Client, threshold int, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{llm: client, threshold: threshold, logger: logger.With("component", "compaction")}
}

// Threshold returns the configured compaction threshold.
func (c *Compactor) Threshold() int { return c.threshold }

// Compact returns text unchanged when it fits, otherwise the smallest
// faithful form it can produce: JSON field extraction, LLM summary, or a
// hard truncation with marker.
func (c *Compactor) Compact(ctx context.Context, toolName, text, userRequest string) string {
	if len(text) <= c.threshold {
		return text
	}
	if extracted, ok := ExtractJSON(text, c.threshold); ok {
		return extracted
	}
	if c.llm != nil {
		if summary, err := c.summarize(ctx, toolName, text, userRequest); err == nil && summary != "" {
			return summary
		} else if err != nil {
			c.logger.Warn("compaction summarization failed",
				slog.String("tool", toolName), slog.Any("error", err))
		}
	}
	return text[:c.threshold] + "\n… [output truncated]"
}

func (c *Compactor) summarize(ctx context.Context, toolName, text, userRequest string) (string, error) {
	prompt := fmt.Sprintf(`Summarize this %s tool output so it still answers the user's request.

User request: %s

RULES:
- Keep every exact identifier (names, urls, ids, numbers) verbatim.
- NEVER substitute real identifiers with [placeholders].
- Be concise; drop boilerplate, keep data.

Output:
%s`, toolName, userRequest, text)

	msgs := []models.Message{{Role: models.RoleUser, Content: prompt}}
	summary, _, err := c.llm.Chat(ctx, msgs, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// ExtractJSON reduces a JSON object or array to its whitelisted fields.
// Returns false when text is not valid JSON so callers can fall through.
func ExtractJSON(text string, maxLength int) (string, bool) {
	trimmed := strings.TrimSpace(text)
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return "", false
	}
	switch v := parsed.(type) {
	case map[string]any:
		// An object carrying an items array compacts like a list.
		if items, ok := v["items"].([]any); ok {
			return renderList(items, maxLength), true
		}
		return renderObject(v), true
	case []any:
		return renderList(v, maxLength), true
	default:
		return "", false
	}
}

func renderObject(obj map[string]any) string {
	var lines []string
	for _, key := range fieldWhitelist {
		val, ok := obj[key]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", key, renderValue(val)))
	}
	// One level of nested user/owner/author flattening.
	for _, nested := range []string{"user", "owner", "author"} {
		if sub, ok := obj[nested].(map[string]any); ok {
			if login, ok := sub["login"]; ok {
				lines = append(lines, fmt.Sprintf("%s.login: %s", nested, renderValue(login)))
			} else if name, ok := sub["name"]; ok {
				lines = append(lines, fmt.Sprintf("%s.name: %s", nested, renderValue(name)))
			}
		}
	}
	if len(lines) == 0 {
		return "(no recognized fields)"
	}
	return strings.Join(lines, "\n")
}

func renderList(items []any, maxLength int) string {
	total := len(items)
	var sb strings.Builder
	shown := 0
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := "- " + strings.ReplaceAll(renderObject(obj), "\n", ", ") + "\n"
		if sb.Len()+len(entry) > maxLength {
			break
		}
		sb.WriteString(entry)
		shown++
	}
	if shown < total {
		fmt.Fprintf(&sb, "(Showing %d of %d)", shown, total)
	}
	return strings.TrimSpace(sb.String())
}

func renderValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
