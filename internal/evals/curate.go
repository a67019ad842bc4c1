// Package evals curates an evaluation dataset out of live traffic:
// heuristic goldens from clean tool-using turns, failures from guardrail
// misses, corrections from explicit user pushback. Strictly best-effort;
// nothing here ever blocks or fails the pipeline.
package evals

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// correctionMarkers open a user message that retracts the previous reply.
var correctionMarkers = []string{
	"no,", "no.", "that's wrong", "that is wrong", "incorrect",
	"not what i asked", "you misunderstood",
	"no, eso no", "eso no es", "incorrecto", "te equivocas",
}

// Curator writes dataset entries derived from finished turns.
type Curator struct {
	repo    store.Repository
	enabled bool
	logger  *slog.Logger
}

// NewCurator builds the curator. When disabled every method is a no-op.
func NewCurator(repo store.Repository, enabled bool, logger *slog.Logger) *Curator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Curator{repo: repo, enabled: enabled, logger: logger.With("component", "evals")}
}

// Turn is the curation view of one completed interaction.
type Turn struct {
	TraceID         string
	Input           string
	Output          string
	ToolsUsed       bool
	GuardrailsPass  bool
	FailedCheck     string
	PreviousOutput  string
	PreviousTraceID string
}

// Curate classifies the turn and writes at most one dataset entry.
// Returns the entry type written, or "" when nothing qualified.
func (c *Curator) Curate(ctx context.Context, turn Turn) models.EntryType {
	if c == nil || !c.enabled || turn.TraceID == "" {
		return ""
	}

	switch {
	case IsCorrection(turn.Input) && turn.PreviousTraceID != "":
		// The user rejected the previous answer: that answer is the
		// failure example, the correction is the expected direction.
		c.add(ctx, &models.EvalDatasetEntry{
			TraceID:        turn.PreviousTraceID,
			EntryType:      models.EntryCorrection,
			Input:          turn.Input,
			Output:         turn.PreviousOutput,
			ExpectedOutput: turn.Output,
			Tags:           []string{"auto", "user-correction"},
		})
		return models.EntryCorrection

	case !turn.GuardrailsPass:
		c.add(ctx, &models.EvalDatasetEntry{
			TraceID:   turn.TraceID,
			EntryType: models.EntryFailure,
			Input:     turn.Input,
			Output:    turn.Output,
			Tags:      []string{"auto", "guardrail:" + turn.FailedCheck},
		})
		return models.EntryFailure

	case turn.ToolsUsed && turn.GuardrailsPass && len(turn.Output) > 0:
		c.add(ctx, &models.EvalDatasetEntry{
			TraceID:   turn.TraceID,
			EntryType: models.EntryGolden,
			Input:     turn.Input,
			Output:    turn.Output,
			Tags:      []string{"auto", "tool-use"},
		})
		return models.EntryGolden
	}
	return ""
}

// Stats returns dataset counts by entry type.
func (c *Curator) Stats(ctx context.Context) (map[string]int, error) {
	return c.repo.GetDatasetStats(ctx)
}

func (c *Curator) add(ctx context.Context, entry *models.EvalDatasetEntry) {
	if _, err := c.repo.AddDatasetEntry(ctx, entry); err != nil {
		c.logger.Warn("failed to curate dataset entry",
			slog.String("trace_id", entry.TraceID),
			slog.String("entry_type", string(entry.EntryType)),
			slog.Any("error", err))
	}
}

// IsCorrection reports whether a user message opens with a correction
// marker.
func IsCorrection(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, marker := range correctionMarkers {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}
