package evals

import (
	"context"
	"testing"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

type fakeRepo struct {
	store.Repository
	entries []*models.EvalDatasetEntry
}

func (f *fakeRepo) AddDatasetEntry(ctx context.Context, entry *models.EvalDatasetEntry) (int64, error) {
	f.entries = append(f.entries, entry)
	return int64(len(f.entries)), nil
}

func TestCurateGolden(t *testing.T) {
	repo := &fakeRepo{}
	c := NewCurator(repo, true, nil)

	got := c.Curate(context.Background(), Turn{
		TraceID:        "t1",
		Input:          "list my repos",
		Output:         "You have 3 repos: a, b, c",
		ToolsUsed:      true,
		GuardrailsPass: true,
	})
	if got != models.EntryGolden {
		t.Fatalf("entry type = %q", got)
	}
	if len(repo.entries) != 1 || repo.entries[0].TraceID != "t1" {
		t.Fatalf("entries = %+v", repo.entries)
	}
}

func TestCurateFailure(t *testing.T) {
	repo := &fakeRepo{}
	c := NewCurator(repo, true, nil)

	got := c.Curate(context.Background(), Turn{
		TraceID:        "t2",
		Input:          "hola",
		Output:         "Hello there",
		GuardrailsPass: false,
		FailedCheck:    "language_match",
	})
	if got != models.EntryFailure {
		t.Fatalf("entry type = %q", got)
	}
	if repo.entries[0].Tags[1] != "guardrail:language_match" {
		t.Errorf("tags = %v", repo.entries[0].Tags)
	}
}

func TestCurateCorrection(t *testing.T) {
	repo := &fakeRepo{}
	c := NewCurator(repo, true, nil)

	got := c.Curate(context.Background(), Turn{
		TraceID:         "t3",
		Input:           "No, that's wrong — I meant the staging cluster",
		Output:          "Understood, checking staging instead",
		GuardrailsPass:  true,
		PreviousTraceID: "t2",
		PreviousOutput:  "Production cluster is healthy",
	})
	if got != models.EntryCorrection {
		t.Fatalf("entry type = %q", got)
	}
	e := repo.entries[0]
	if e.TraceID != "t2" || e.Output != "Production cluster is healthy" {
		t.Errorf("entry = %+v", e)
	}
	if e.ExpectedOutput != "Understood, checking staging instead" {
		t.Errorf("expected output = %q", e.ExpectedOutput)
	}
}

func TestCurateNothingQualifies(t *testing.T) {
	repo := &fakeRepo{}
	c := NewCurator(repo, true, nil)

	// Plain chat with no tools: not golden, not failure, not correction.
	got := c.Curate(context.Background(), Turn{
		TraceID:        "t4",
		Input:          "hi",
		Output:         "hello",
		GuardrailsPass: true,
	})
	if got != "" || len(repo.entries) != 0 {
		t.Errorf("entry type = %q, entries = %d", got, len(repo.entries))
	}
}

func TestCurateDisabled(t *testing.T) {
	repo := &fakeRepo{}
	c := NewCurator(repo, false, nil)
	got := c.Curate(context.Background(), Turn{
		TraceID: "t5", Input: "x", Output: "y", ToolsUsed: true, GuardrailsPass: true,
	})
	if got != "" || len(repo.entries) != 0 {
		t.Error("disabled curator must be a no-op")
	}
}

func TestIsCorrection(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"No, that's not it", true},
		{"that's wrong", true},
		{"Incorrecto, era el otro", true},
		{"yes, perfect", false},
		{"tell me a joke", false},
	}
	for _, tt := range tests {
		if got := IsCorrection(tt.text); got != tt.want {
			t.Errorf("IsCorrection(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
