package promptctx

import (
	"context"
	"fmt"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// WindowedHistory returns the verbatimCount most recent messages in
// chronological order, plus the latest stored summary when older messages
// were cut. No synchronous summarization happens here; the summary is
// whatever a previous curation pass left behind.
func WindowedHistory(ctx context.Context, repo store.Repository, conversationID int64, verbatimCount int) ([]models.Message, string, error) {
	total, err := repo.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to count messages: %w", err)
	}
	msgs, err := repo.GetRecentMessages(ctx, conversationID, verbatimCount, 0)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load recent messages: %w", err)
	}
	if total <= verbatimCount {
		return msgs, "", nil
	}
	summary, err := repo.GetLatestSummary(ctx, conversationID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load summary: %w", err)
	}
	return msgs, summary, nil
}
