// Package evaltool exposes the curated eval dataset to workers so
// analyzer and reporter tasks can ground their findings in dataset
// counts instead of guessing.
package evaltool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/haasonsaas/sidekick/internal/evals"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Tools builds the evaluation surface over the curator.
func Tools(curator *evals.Curator, logger *slog.Logger) []tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	e := &evalTools{curator: curator, logger: logger.With("component", "evaltool")}
	return []tools.Tool{
		tools.NewFunc("dataset_stats",
			"Report how many eval dataset entries exist per type (golden, failure, correction).",
			json.RawMessage(`{"type":"object","properties":{}}`), e.datasetStats),
	}
}

type evalTools struct {
	curator *evals.Curator
	logger  *slog.Logger
}

func (e *evalTools) datasetStats(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	stats, err := e.curator.Stats(ctx)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if len(stats) == 0 {
		return &models.ToolResult{Content: "The eval dataset is empty."}, nil
	}
	types := make([]string, 0, len(stats))
	for t := range stats {
		types = append(types, t)
	}
	sort.Strings(types)
	var b strings.Builder
	total := 0
	for _, t := range types {
		fmt.Fprintf(&b, "%s: %d\n", t, stats[t])
		total += stats[t]
	}
	fmt.Fprintf(&b, "total: %d", total)
	return &models.ToolResult{Content: b.String()}, nil
}
