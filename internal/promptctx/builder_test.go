package promptctx

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

func TestBuilderOmitsEmptySections(t *testing.T) {
	got := NewBuilder("You are Sidekick.").
		AddSection(SectionMemories, "- likes coffee").
		AddSection(SectionNotes, "  \n ").
		AddSection(SectionSummary, "earlier: ordered beans").
		BuildSystemMessage()

	if !strings.Contains(got, "<user_memories>\n- likes coffee\n</user_memories>") {
		t.Errorf("memories section malformed:\n%s", got)
	}
	if strings.Contains(got, "relevant_notes") {
		t.Error("empty section was not omitted")
	}
	if !strings.HasPrefix(got, "You are Sidekick.") {
		t.Error("base prompt not first")
	}
	if !strings.Contains(got, "<conversation_summary>") {
		t.Error("summary section missing")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 1},
		{"abc", 1},
		{"abcd", 1},
		{strings.Repeat("a", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestCapabilitiesFiltering(t *testing.T) {
	descs := map[string]string{
		"github": "issues and PRs",
		"notes":  "personal notes",
		"shell":  "run commands",
	}
	commands := "Commands: /cancel /approve /reject /status"

	if got := Capabilities(nil, descs, commands); got != "" {
		t.Errorf("no categories should yield no section, got %q", got)
	}
	if got := Capabilities([]string{"none"}, descs, commands); got != "" {
		t.Errorf("[none] should yield no section, got %q", got)
	}

	got := Capabilities([]string{"github", "nonexistent", "github"}, descs, commands)
	if !strings.Contains(got, "github: issues and PRs") {
		t.Errorf("active capability missing: %q", got)
	}
	if strings.Contains(got, "notes") {
		t.Errorf("inactive capability leaked: %q", got)
	}
	if !strings.Contains(got, "/cancel") {
		t.Errorf("commands missing: %q", got)
	}
	if strings.Count(got, "github:") != 1 {
		t.Errorf("duplicate category not collapsed: %q", got)
	}
}

type historyRepo struct {
	store.Repository
	total   int
	msgs    []models.Message
	summary string
}

func (r *historyRepo) CountMessages(context.Context, int64) (int, error) { return r.total, nil }
func (r *historyRepo) GetRecentMessages(_ context.Context, _ int64, limit, _ int) ([]models.Message, error) {
	if len(r.msgs) > limit {
		return r.msgs[len(r.msgs)-limit:], nil
	}
	return r.msgs, nil
}
func (r *historyRepo) GetLatestSummary(context.Context, int64) (string, error) {
	return r.summary, nil
}

func TestWindowedHistory(t *testing.T) {
	msgs := make([]models.Message, 12)
	for i := range msgs {
		msgs[i] = models.Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)}
	}

	t.Run("short conversation returns everything, no summary", func(t *testing.T) {
		repo := &historyRepo{total: 5, msgs: msgs[:5], summary: "should not be used"}
		got, summary, err := WindowedHistory(context.Background(), repo, 1, 8)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 5 || summary != "" {
			t.Errorf("got %d msgs, summary %q; want 5 and empty", len(got), summary)
		}
	})

	t.Run("long conversation windows and carries summary", func(t *testing.T) {
		repo := &historyRepo{total: 12, msgs: msgs, summary: "earlier talk"}
		got, summary, err := WindowedHistory(context.Background(), repo, 1, 8)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 8 {
			t.Errorf("window = %d, want 8", len(got))
		}
		if got[len(got)-1].Content != "m11" {
			t.Errorf("window should end at the latest message, got %q", got[len(got)-1].Content)
		}
		if summary != "earlier talk" {
			t.Errorf("summary = %q", summary)
		}
	})
}
