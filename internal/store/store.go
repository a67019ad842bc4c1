// Package store defines the persistence boundary of the runtime: one
// Repository interface abstracting the relational and vector operations,
// with sqlite and postgres backends underneath.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// ScoredMemory is one memory search hit with its L2 distance.
type ScoredMemory struct {
	ID       int64
	Content  string
	Category string
	Distance float64
}

// ScoredNote is one note search hit with its L2 distance.
type ScoredNote struct {
	ID       int64
	Content  string
	Project  string
	Distance float64
}

// Repository is the storage boundary consumed by the pipeline, the agent
// runtime and the tracing recorder. Implementations must be safe for
// concurrent use.
type Repository interface {
	// Conversations.
	GetOrCreateConversation(ctx context.Context, handle string) (int64, error)
	SaveMessage(ctx context.Context, conversationID int64, role models.Role, content string) error
	GetRecentMessages(ctx context.Context, conversationID int64, limit, offset int) ([]models.Message, error)
	CountMessages(ctx context.Context, conversationID int64) (int, error)
	GetLatestSummary(ctx context.Context, conversationID int64) (string, error)
	SaveSummary(ctx context.Context, conversationID int64, content string) error

	// InsertProcessedMessage atomically records an external message id.
	// It returns true exactly once per id: the first delivery wins and
	// every retry observes false.
	InsertProcessedMessage(ctx context.Context, externalID string) (bool, error)

	// Memories.
	AddMemory(ctx context.Context, content, category string, embedding []float32) (int64, error)
	GetActiveMemories(ctx context.Context) ([]models.Memory, error)
	ListMemories(ctx context.Context) ([]models.Memory, error)
	DeactivateMemory(ctx context.Context, id int64) error
	CleanupExpiredSelfCorrections(ctx context.Context, maxAge time.Duration) (int64, error)
	SearchSimilarMemories(ctx context.Context, embedding []float32, topK int) ([]ScoredMemory, error)

	// Notes.
	AddNote(ctx context.Context, content, project string, embedding []float32) (int64, error)
	SearchSimilarNotes(ctx context.Context, embedding []float32, topK int) ([]ScoredNote, error)

	// Sticky categories.
	GetStickyCategories(ctx context.Context, conversationID int64) ([]string, error)
	SaveStickyCategories(ctx context.Context, conversationID int64, categories []string) error
	ClearStickyCategories(ctx context.Context, conversationID int64) error

	// Tracing.
	SaveTrace(ctx context.Context, trace *models.Trace) error
	FinishTrace(ctx context.Context, id string, status models.TraceStatus, output, externalMessageID string) error
	SaveSpan(ctx context.Context, span *models.Span) error
	FinishSpan(ctx context.Context, id string, status models.TraceStatus, output string, endedAt time.Time, durationMS int64) error
	SaveScore(ctx context.Context, score *models.Score) error
	GetLatestTraceID(ctx context.Context, handle string) (string, error)
	GetTraceIDByExternalID(ctx context.Context, externalMessageID string) (string, error)
	GetRecentTraces(ctx context.Context, limit int) ([]models.Trace, error)
	GetTraceScores(ctx context.Context, traceID string) ([]models.Score, error)
	DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Eval dataset.
	AddDatasetEntry(ctx context.Context, entry *models.EvalDatasetEntry) (int64, error)
	AddDatasetTags(ctx context.Context, entryID int64, tags []string) error
	GetDatasetStats(ctx context.Context) (map[string]int, error)

	// Prompt versions.
	SavePromptVersion(ctx context.Context, pv *models.PromptVersion) (int64, error)
	GetActivePrompt(ctx context.Context, name string) (*models.PromptVersion, error)
	GetPromptVersion(ctx context.Context, name string, version int) (*models.PromptVersion, error)
	ListPromptVersions(ctx context.Context, name string) ([]models.PromptVersion, error)
	ActivatePromptVersion(ctx context.Context, name string, version int) error

	// Cron jobs.
	AddCronJob(ctx context.Context, job *models.CronJob) (int64, error)
	ListCronJobs(ctx context.Context, handle string) ([]models.CronJob, error)
	GetActiveCronJobs(ctx context.Context) ([]models.CronJob, error)
	SetCronJobActive(ctx context.Context, id int64, active bool) error
	DeleteCronJob(ctx context.Context, id int64) error

	Close() error
}
