package promptctx

import (
	"log/slog"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// EstimateTokens approximates the token count of text as len/4, never
// below 1. Close enough for budget warnings; never used for billing.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateMessages sums the estimate over a message slice.
func EstimateMessages(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// LogBudget emits a log line scaled to how full the context is: info
// below 80% of limit, warn from 80%, error at or above 100%. Returns the
// estimate so callers can attach it to the trace.
func LogBudget(logger *slog.Logger, messages []models.Message, limit int) int {
	if logger == nil {
		logger = slog.Default()
	}
	estimate := EstimateMessages(messages)
	attrs := []any{
		slog.Int("estimated_tokens", estimate),
		slog.Int("limit", limit),
		slog.Int("messages", len(messages)),
	}
	switch {
	case estimate >= limit:
		logger.Error("context budget exceeded", attrs...)
	case estimate*10 >= limit*8:
		logger.Warn("context budget above 80%", attrs...)
	default:
		logger.Info("context budget", attrs...)
	}
	return estimate
}
