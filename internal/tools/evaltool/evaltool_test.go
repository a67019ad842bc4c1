package evaltool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/evals"
	"github.com/haasonsaas/sidekick/internal/store"
)

type fakeRepo struct {
	store.Repository

	stats map[string]int
}

func (f *fakeRepo) GetDatasetStats(ctx context.Context) (map[string]int, error) {
	return f.stats, nil
}

func TestDatasetStats(t *testing.T) {
	curator := evals.NewCurator(&fakeRepo{stats: map[string]int{
		"golden":     12,
		"failure":    3,
		"correction": 1,
	}}, true, nil)
	tool := Tools(curator, nil)[0]

	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	for _, want := range []string{"golden: 12", "failure: 3", "correction: 1", "total: 16"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("content = %q, missing %q", res.Content, want)
		}
	}
}

func TestDatasetStatsEmpty(t *testing.T) {
	curator := evals.NewCurator(&fakeRepo{}, true, nil)
	tool := Tools(curator, nil)[0]

	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "empty") {
		t.Errorf("content = %q", res.Content)
	}
}
