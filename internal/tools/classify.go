package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// CategoryFetch is the dynamic category registered when a fetch backend
// is configured. The URL fast-path forces it regardless of classifier
// output so a pasted link always gets tools.
const CategoryFetch = "fetch"

// CategoryNone is the classifier's "no tools needed" answer.
const CategoryNone = "none"

var urlRe = regexp.MustCompile(`https?://[^\s<>"]+`)

// ContainsURL reports whether text carries an http(s) URL.
func ContainsURL(text string) bool { return urlRe.MatchString(text) }

// classifierRecentWindow bounds how much context the classifier sees.
const classifierRecentWindow = 6

// ClassifyIntent returns the tool categories for a user message.
//
// Fast path: a URL in the text forces fetch into the result without an
// LLM call. Otherwise one classifier call runs with the recent messages
// and the sticky categories as context; "none" with sticky present falls
// back to sticky.
func ClassifyIntent(ctx context.Context, userText string, recent []models.Message, sticky []string, registry *Registry, client llm.Client) ([]string, error) {
	forced := ContainsURL(userText) && registry.HasCategory(CategoryFetch)

	cats, err := classifyLLM(ctx, userText, recent, sticky, registry, client)
	if err != nil {
		if forced {
			return []string{CategoryFetch}, nil
		}
		return nil, err
	}

	if len(cats) == 0 && len(sticky) > 0 {
		cats = append([]string(nil), sticky...)
	}
	if forced && !contains(cats, CategoryFetch) {
		cats = append([]string{CategoryFetch}, cats...)
	}
	return cats, nil
}

func classifyLLM(ctx context.Context, userText string, recent []models.Message, sticky []string, registry *Registry, client llm.Client) ([]string, error) {
	available := registry.CategoryTags()
	if len(available) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Classify which tool categories this message needs.
Available categories: %s
Reply with a comma-separated subset, or "none" if no tools are needed.

`, strings.Join(available, ", "))
	if len(sticky) > 0 {
		fmt.Fprintf(&sb, "Categories used in the previous turn: %s\n", strings.Join(sticky, ", "))
	}
	if len(recent) > 0 {
		start := len(recent) - classifierRecentWindow
		if start < 0 {
			start = 0
		}
		sb.WriteString("Recent conversation:\n")
		for _, m := range recent[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&sb, "\nMessage: %s", userText)

	reply, _, err := client.Chat(ctx, []models.Message{{Role: models.RoleUser, Content: sb.String()}}, false)
	if err != nil {
		return nil, fmt.Errorf("intent classification failed: %w", err)
	}
	return ParseCategoryList(reply, available), nil
}

// ParseCategoryList normalizes a comma-separated classifier reply against
// the known categories. "none" (or nothing valid) yields an empty slice.
func ParseCategoryList(reply string, available []string) []string {
	known := make(map[string]bool, len(available))
	for _, c := range available {
		known[c] = true
	}
	var cats []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(reply, ",") {
		c := strings.ToLower(strings.TrimSpace(part))
		c = strings.Trim(c, `"'.`)
		if c == "" || c == CategoryNone || !known[c] || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	return cats
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
