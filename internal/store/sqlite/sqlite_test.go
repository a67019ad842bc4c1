package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertProcessedMessageExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.InsertProcessedMessage(ctx, "wamid.abc123")
	if err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if !first {
		t.Fatal("first delivery not recognized as new")
	}

	for i := 0; i < 3; i++ {
		again, err := s.InsertProcessedMessage(ctx, "wamid.abc123")
		if err != nil {
			t.Fatalf("retry %d error = %v", i, err)
		}
		if again {
			t.Fatalf("retry %d treated as first delivery", i)
		}
	}
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetOrCreateConversation(ctx, "+5491122334455")
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}
	id2, err := s.GetOrCreateConversation(ctx, "+5491122334455")
	if err != nil {
		t.Fatalf("second GetOrCreateConversation() error = %v", err)
	}
	if id != id2 {
		t.Fatalf("same handle produced two conversations: %d, %d", id, id2)
	}

	for _, m := range []struct {
		role    models.Role
		content string
	}{
		{models.RoleUser, "hola"},
		{models.RoleAssistant, "hola! en qué te ayudo?"},
		{models.RoleUser, "nada, gracias"},
	} {
		if err := s.SaveMessage(ctx, id, m.role, m.content); err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}

	msgs, err := s.GetRecentMessages(ctx, id, 2, 0)
	if err != nil {
		t.Fatalf("GetRecentMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	// Chronological order within the window.
	if msgs[0].Content != "hola! en qué te ayudo?" || msgs[1].Content != "nada, gracias" {
		t.Errorf("window = [%q, %q], want the two latest in order", msgs[0].Content, msgs[1].Content)
	}

	n, err := s.CountMessages(ctx, id)
	if err != nil || n != 3 {
		t.Errorf("CountMessages() = %d, %v, want 3", n, err)
	}
}

func TestSummaryLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.GetOrCreateConversation(ctx, "h")

	got, err := s.GetLatestSummary(ctx, id)
	if err != nil || got != "" {
		t.Fatalf("empty summary = %q, %v, want \"\"", got, err)
	}

	s.SaveSummary(ctx, id, "first")
	s.SaveSummary(ctx, id, "second")

	got, err = s.GetLatestSummary(ctx, id)
	if err != nil {
		t.Fatalf("GetLatestSummary() error = %v", err)
	}
	if got != "second" {
		t.Errorf("latest summary = %q, want second", got)
	}
}

func TestMemorySearchWithDistance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		content string
		vec     []float32
	}{
		{"likes mate", []float32{1, 0, 0}},
		{"works at acme", []float32{0, 1, 0}},
		{"lives in madrid", []float32{0.9, 0.1, 0}},
	}
	for _, m := range seed {
		if _, err := s.AddMemory(ctx, m.content, "general", m.vec); err != nil {
			t.Fatalf("AddMemory() error = %v", err)
		}
	}

	hits, err := s.SearchSimilarMemories(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchSimilarMemories() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len = %d, want 2", len(hits))
	}
	if hits[0].Content != "likes mate" {
		t.Errorf("nearest = %q, want likes mate", hits[0].Content)
	}
	if hits[0].Distance > hits[1].Distance {
		t.Errorf("distances not ascending: %v > %v", hits[0].Distance, hits[1].Distance)
	}
}

func TestDeactivatedMemoriesExcluded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.AddMemory(ctx, "stale fact", "general", []float32{1, 0})
	s.AddMemory(ctx, "fresh fact", "general", []float32{1, 0})

	if err := s.DeactivateMemory(ctx, id); err != nil {
		t.Fatalf("DeactivateMemory() error = %v", err)
	}

	active, err := s.GetActiveMemories(ctx)
	if err != nil {
		t.Fatalf("GetActiveMemories() error = %v", err)
	}
	if len(active) != 1 || active[0].Content != "fresh fact" {
		t.Errorf("active = %+v, want only fresh fact", active)
	}

	hits, _ := s.SearchSimilarMemories(ctx, []float32{1, 0}, 10)
	if len(hits) != 1 {
		t.Errorf("search returned %d hits, want 1 (deactivated excluded)", len(hits))
	}
}

func TestStickyCategoriesLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.GetOrCreateConversation(ctx, "h")

	cats, err := s.GetStickyCategories(ctx, id)
	if err != nil || cats != nil {
		t.Fatalf("initial sticky = %v, %v, want nil", cats, err)
	}

	if err := s.SaveStickyCategories(ctx, id, []string{"github", "projects"}); err != nil {
		t.Fatalf("SaveStickyCategories() error = %v", err)
	}
	cats, _ = s.GetStickyCategories(ctx, id)
	if len(cats) != 2 || cats[0] != "github" || cats[1] != "projects" {
		t.Errorf("sticky = %v, want [github projects]", cats)
	}

	// Overwrite keeps one row per conversation.
	s.SaveStickyCategories(ctx, id, []string{"fetch"})
	cats, _ = s.GetStickyCategories(ctx, id)
	if len(cats) != 1 || cats[0] != "fetch" {
		t.Errorf("sticky after overwrite = %v, want [fetch]", cats)
	}

	if err := s.ClearStickyCategories(ctx, id); err != nil {
		t.Fatalf("ClearStickyCategories() error = %v", err)
	}
	cats, _ = s.GetStickyCategories(ctx, id)
	if cats != nil {
		t.Errorf("sticky after clear = %v, want nil", cats)
	}
}

func TestPromptVersionSingleActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.SavePromptVersion(ctx, &models.PromptVersion{
			PromptName: "system_base",
			Content:    "v content",
			CreatedBy:  "human",
		}); err != nil {
			t.Fatalf("SavePromptVersion() error = %v", err)
		}
	}

	if err := s.ActivatePromptVersion(ctx, "system_base", 1); err != nil {
		t.Fatalf("activate v1 error = %v", err)
	}
	if err := s.ActivatePromptVersion(ctx, "system_base", 3); err != nil {
		t.Fatalf("activate v3 error = %v", err)
	}

	versions, err := s.ListPromptVersions(ctx, "system_base")
	if err != nil {
		t.Fatalf("ListPromptVersions() error = %v", err)
	}
	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
			if v.Version != 3 {
				t.Errorf("active version = %d, want 3", v.Version)
			}
		}
	}
	if activeCount != 1 {
		t.Fatalf("active count = %d, want 1", activeCount)
	}

	if err := s.ActivatePromptVersion(ctx, "system_base", 9); err == nil {
		t.Error("activating a missing version succeeded")
	}
}

func TestTraceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trace := &models.Trace{
		ID:          "t-1",
		Handle:      "+549",
		Input:       "hola",
		MessageType: models.MessageTypeText,
		Status:      models.TraceStarted,
		StartedAt:   time.Now().UTC(),
		Metadata:    map[string]any{"sampled": true},
	}
	if err := s.SaveTrace(ctx, trace); err != nil {
		t.Fatalf("SaveTrace() error = %v", err)
	}

	span := &models.Span{
		ID:        "s-1",
		TraceID:   "t-1",
		Name:      "llm:iteration_1",
		Kind:      models.SpanKindGeneration,
		Status:    models.TraceStarted,
		StartedAt: time.Now().UTC(),
	}
	if err := s.SaveSpan(ctx, span); err != nil {
		t.Fatalf("SaveSpan() error = %v", err)
	}
	if err := s.FinishSpan(ctx, "s-1", models.TraceCompleted, "done", time.Now().UTC(), 42); err != nil {
		t.Fatalf("FinishSpan() error = %v", err)
	}

	if err := s.SaveScore(ctx, &models.Score{
		TraceID: "t-1", Name: "not_empty", Value: 1.0, Source: models.ScoreSourceSystem,
	}); err != nil {
		t.Fatalf("SaveScore() error = %v", err)
	}

	if err := s.FinishTrace(ctx, "t-1", models.TraceCompleted, "chau", "wamid.out1"); err != nil {
		t.Fatalf("FinishTrace() error = %v", err)
	}

	id, err := s.GetLatestTraceID(ctx, "+549")
	if err != nil || id != "t-1" {
		t.Errorf("GetLatestTraceID() = %q, %v, want t-1", id, err)
	}
	id, err = s.GetTraceIDByExternalID(ctx, "wamid.out1")
	if err != nil || id != "t-1" {
		t.Errorf("GetTraceIDByExternalID() = %q, %v, want t-1", id, err)
	}

	if _, err := s.GetTraceIDByExternalID(ctx, "missing"); err != store.ErrNotFound {
		t.Errorf("missing external id error = %v, want ErrNotFound", err)
	}

	recent, err := s.GetRecentTraces(ctx, 5)
	if err != nil {
		t.Fatalf("GetRecentTraces() error = %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "t-1" {
		t.Fatalf("recent traces = %+v", recent)
	}
	if recent[0].Status != models.TraceCompleted || recent[0].EndedAt == nil {
		t.Errorf("recent trace status = %v, ended_at nil = %v", recent[0].Status, recent[0].EndedAt == nil)
	}

	scores, err := s.GetTraceScores(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTraceScores() error = %v", err)
	}
	if len(scores) != 1 || scores[0].Name != "not_empty" || scores[0].Value != 1.0 {
		t.Fatalf("trace scores = %+v", scores)
	}
	if scores, err = s.GetTraceScores(ctx, "missing"); err != nil || len(scores) != 0 {
		t.Errorf("scores for missing trace = %v, %v", scores, err)
	}
}

func TestDatasetEntryAndTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddDatasetEntry(ctx, &models.EvalDatasetEntry{
		TraceID:   "t-1",
		EntryType: models.EntryGolden,
		Input:     "list my repos",
		Output:    "you have 3 repos",
		Tags:      []string{"github"},
	})
	if err != nil {
		t.Fatalf("AddDatasetEntry() error = %v", err)
	}

	if err := s.AddDatasetTags(ctx, id, []string{"github", "tools"}); err != nil {
		t.Fatalf("AddDatasetTags() error = %v", err)
	}

	stats, err := s.GetDatasetStats(ctx)
	if err != nil {
		t.Fatalf("GetDatasetStats() error = %v", err)
	}
	if stats["golden"] != 1 {
		t.Errorf("stats = %v, want golden:1", stats)
	}
}

func TestCleanupExpiredSelfCorrections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AddMemory(ctx, "avoid english replies to spanish users", models.CategorySelfCorrection, nil)
	s.AddMemory(ctx, "user prefers short answers", "general", nil)

	// maxAge of zero expires every self-correction written so far.
	n, err := s.CleanupExpiredSelfCorrections(ctx, 0)
	if err != nil {
		t.Fatalf("CleanupExpiredSelfCorrections() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("deactivated %d rows, want 1", n)
	}

	active, _ := s.GetActiveMemories(ctx)
	if len(active) != 1 || active[0].Category != "general" {
		t.Errorf("active after cleanup = %+v, want only the general memory", active)
	}
}

func TestCronJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddCronJob(ctx, &models.CronJob{
		Handle:   "+549",
		Schedule: "0 9 * * *",
		Message:  "daily standup reminder",
	})
	if err != nil {
		t.Fatalf("AddCronJob() error = %v", err)
	}

	jobs, err := s.GetActiveCronJobs(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("GetActiveCronJobs() = %v, %v, want 1 job", jobs, err)
	}

	if err := s.SetCronJobActive(ctx, id, false); err != nil {
		t.Fatalf("SetCronJobActive() error = %v", err)
	}
	jobs, _ = s.GetActiveCronJobs(ctx)
	if len(jobs) != 0 {
		t.Errorf("deactivated job still listed active")
	}

	if err := s.DeleteCronJob(ctx, id); err != nil {
		t.Fatalf("DeleteCronJob() error = %v", err)
	}
	if err := s.DeleteCronJob(ctx, id); err != store.ErrNotFound {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}
