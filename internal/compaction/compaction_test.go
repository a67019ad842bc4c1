package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

type stubLLM struct {
	llm.Client
	reply string
	err   error
}

func (s *stubLLM) Chat(context.Context, []models.Message, bool) (string, *llm.Usage, error) {
	return s.reply, nil, s.err
}

func TestCompactUnderThresholdUnchanged(t *testing.T) {
	c := New(nil, 100, nil)
	in := "short output"
	if got := c.Compact(context.Background(), "t", in, "req"); got != in {
		t.Errorf("short output changed: %q", got)
	}
}

func TestExtractJSONObjectKeepsIdentifiers(t *testing.T) {
	raw := fmt.Sprintf(`{"name":"wasap-assistant","full_name":"haasonsaas/wasap-assistant","stargazers_count":12,"html_url":"https://github.com/haasonsaas/wasap-assistant","padding":%q}`,
		strings.Repeat("x", 200))
	c := New(nil, 100, nil)

	got := c.Compact(context.Background(), "github_get_repo", raw, "find my repo")
	if !strings.Contains(got, "wasap-assistant") {
		t.Errorf("identifier lost:\n%s", got)
	}
	if !strings.Contains(got, "https://github.com/haasonsaas/wasap-assistant") {
		t.Errorf("url lost:\n%s", got)
	}
	if strings.Contains(got, "padding") {
		t.Errorf("non-whitelisted field kept:\n%s", got)
	}
}

func TestExtractJSONListTruncates(t *testing.T) {
	var items []string
	for i := 0; i < 50; i++ {
		items = append(items, fmt.Sprintf(`{"name":"repo-%d","number":%d}`, i, i))
	}
	raw := "[" + strings.Join(items, ",") + "]"

	got, ok := ExtractJSON(raw, 200)
	if !ok {
		t.Fatal("valid JSON not extracted")
	}
	if !strings.Contains(got, "repo-0") {
		t.Errorf("first item missing:\n%s", got)
	}
	if !strings.Contains(got, "(Showing ") || !strings.Contains(got, " of 50)") {
		t.Errorf("truncation annotation missing:\n%s", got)
	}
}

func TestExtractJSONItemsArray(t *testing.T) {
	raw := `{"total_count":2,"items":[{"title":"fix bug","number":7},{"title":"add feature","number":9}]}`
	got, ok := ExtractJSON(raw, 1000)
	if !ok {
		t.Fatal("items object not extracted")
	}
	if !strings.Contains(got, "fix bug") || !strings.Contains(got, "number: 9") {
		t.Errorf("items lost:\n%s", got)
	}
}

func TestExtractJSONNestedLogin(t *testing.T) {
	raw := `{"title":"PR","user":{"login":"haasonsaas","followers":3}}`
	got, ok := ExtractJSON(raw, 1000)
	if !ok {
		t.Fatal("not extracted")
	}
	if !strings.Contains(got, "user.login: haasonsaas") {
		t.Errorf("nested login lost:\n%s", got)
	}
}

func TestCompactProseUsesLLM(t *testing.T) {
	c := New(&stubLLM{reply: "summary with id abc-123"}, 50, nil)
	long := strings.Repeat("words and more words. ", 20)

	got := c.Compact(context.Background(), "fetch_url", long, "what does the page say")
	if got != "summary with id abc-123" {
		t.Errorf("LLM summary not used: %q", got)
	}
}

func TestCompactHardTruncateOnLLMFailure(t *testing.T) {
	c := New(&stubLLM{err: errors.New("model down")}, 50, nil)
	long := strings.Repeat("z", 300)

	got := c.Compact(context.Background(), "fetch_url", long, "req")
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("missing truncation marker: %q", got)
	}
	if len(got) > 50+len("\n… [output truncated]") {
		t.Errorf("truncated output too long: %d", len(got))
	}
}
