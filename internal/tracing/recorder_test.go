package tracing

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// fakeRepo records tracing writes; the embedded Repository panics on
// anything the recorder should never call.
type fakeRepo struct {
	store.Repository
	mu     sync.Mutex
	traces []*models.Trace
	spans  []*models.Span
	scores []*models.Score
	done   map[string]models.TraceStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{done: make(map[string]models.TraceStatus)}
}

func (f *fakeRepo) SaveTrace(_ context.Context, t *models.Trace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, t)
	return nil
}

func (f *fakeRepo) FinishTrace(_ context.Context, id string, status models.TraceStatus, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[id] = status
	return nil
}

func (f *fakeRepo) SaveSpan(_ context.Context, s *models.Span) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, s)
	return nil
}

func (f *fakeRepo) FinishSpan(_ context.Context, id string, status models.TraceStatus, _ string, _ time.Time, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[id] = status
	return nil
}

func (f *fakeRepo) SaveScore(_ context.Context, s *models.Score) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, s)
	return nil
}

func TestStartTraceAndSpanTree(t *testing.T) {
	repo := newFakeRepo()
	rec := NewRecorder(repo, 1.0, nil)
	ctx := context.Background()

	tc := rec.StartTrace(ctx, "user1", "hello", models.MessageTypeText, nil)
	if tc == nil {
		t.Fatal("expected sampled trace")
	}

	parent := tc.StartSpan(ctx, "phase_a", models.SpanKindSpan, "", "in")
	child := tc.StartSpan(ctx, "llm:iteration_1", models.SpanKindGeneration, parent.ID, "msgs")
	child.SetUsage(10, 20, "qwen3:14b")
	child.End(ctx, models.TraceCompleted, "out")
	parent.End(ctx, models.TraceCompleted, "")
	tc.Finish(ctx, models.TraceCompleted, "reply", "wamid.1")

	if len(repo.spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(repo.spans))
	}
	if repo.spans[1].ParentID == nil || *repo.spans[1].ParentID != parent.ID {
		t.Errorf("child parent = %v, want %s", repo.spans[1].ParentID, parent.ID)
	}
	meta := repo.spans[1].Metadata
	if meta[MetaInputTokens] != 10 || meta[MetaOutputTokens] != 20 || meta[MetaModel] != "qwen3:14b" {
		t.Errorf("generation metadata = %v", meta)
	}
	if repo.done[tc.TraceID] != models.TraceCompleted {
		t.Errorf("trace status = %v", repo.done[tc.TraceID])
	}
}

func TestNilTraceContextIsSafe(t *testing.T) {
	var tc *TraceContext
	ctx := context.Background()

	sp := tc.StartSpan(ctx, "x", models.SpanKindSpan, "", "")
	sp.SetMetadata("k", "v")
	sp.End(ctx, models.TraceCompleted, "")
	tc.Finish(ctx, models.TraceCompleted, "", "")
	tc.Score(ctx, "check", 1.0, models.ScoreSourceSystem, "")
}

func TestSampleRateZeroRecordsNothing(t *testing.T) {
	repo := newFakeRepo()
	rec := NewRecorder(repo, 0, nil)
	for i := 0; i < 20; i++ {
		if tc := rec.StartTrace(context.Background(), "h", "in", models.MessageTypeText, nil); tc != nil {
			t.Fatal("sample rate 0 produced a trace")
		}
	}
	if len(repo.traces) != 0 {
		t.Errorf("traces = %d, want 0", len(repo.traces))
	}
}

func TestTruncatePreview(t *testing.T) {
	long := strings.Repeat("é", 600)
	got := truncatePreview(long)
	if len(got) > previewLimit+len("…") {
		t.Errorf("len = %d, want ≤ %d", len(got), previewLimit+len("…"))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("missing truncation marker")
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("rune split at boundary")
		}
	}
}

func TestContextPropagation(t *testing.T) {
	tc := &TraceContext{TraceID: "t1"}
	ctx := WithTrace(context.Background(), tc)
	if got := FromContext(ctx); got != tc {
		t.Errorf("FromContext = %v, want %v", got, tc)
	}
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext on empty = %v, want nil", got)
	}
}
