// Package tracing records hierarchical interaction traces through the
// Repository, with an optional OTLP second sink. Every write is
// best-effort: tracing must never fail the pipeline it observes.
package tracing

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// previewLimit bounds span/trace input and output previews.
const previewLimit = 500

// Generation span metadata keys, vendor-neutral per OTel semantic
// conventions for generative AI.
const (
	MetaInputTokens  = "gen_ai.usage.input_tokens"
	MetaOutputTokens = "gen_ai.usage.output_tokens"
	MetaModel        = "gen_ai.request.model"
)

// Recorder persists traces, spans and scores. One Recorder is attached to
// application state at startup; a nil Recorder is valid and records nothing.
type Recorder struct {
	repo       store.Repository
	logger     *slog.Logger
	sampleRate float64
	second     SecondSink
}

// SecondSink receives finished spans for double-writing to an external
// observability backend. Implementations must not block or fail loudly.
type SecondSink interface {
	RecordSpan(span *models.Span)
	Shutdown(ctx context.Context) error
}

// NewRecorder builds a Recorder over the repository. sampleRate in [0,1]
// decides per-trace whether anything is recorded.
func NewRecorder(repo store.Repository, sampleRate float64, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:       repo,
		logger:     logger.With("component", "tracing"),
		sampleRate: sampleRate,
	}
}

// SetSecondSink installs an optional second span sink (e.g. OTLP export).
func (r *Recorder) SetSecondSink(s SecondSink) {
	if r != nil {
		r.second = s
	}
}

// Shutdown flushes the second sink if one is installed.
func (r *Recorder) Shutdown(ctx context.Context) {
	if r == nil || r.second == nil {
		return
	}
	if err := r.second.Shutdown(ctx); err != nil {
		r.logger.Warn("second sink shutdown failed", slog.Any("error", err))
	}
}

// StartTrace opens a trace root. It returns nil when the recorder is nil,
// disabled or the trace is not sampled; a nil *TraceContext is safe to use.
func (r *Recorder) StartTrace(ctx context.Context, handle, input string, msgType models.MessageType, metadata map[string]any) *TraceContext {
	if r == nil || r.repo == nil {
		return nil
	}
	if r.sampleRate < 1 && rand.Float64() >= r.sampleRate {
		return nil
	}
	tc := &TraceContext{
		TraceID:  uuid.NewString(),
		recorder: r,
	}
	trace := &models.Trace{
		ID:          tc.TraceID,
		Handle:      handle,
		Input:       truncatePreview(input),
		MessageType: msgType,
		Status:      models.TraceStarted,
		StartedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}
	if err := r.repo.SaveTrace(ctx, trace); err != nil {
		r.logger.Warn("failed to save trace", slog.String("trace_id", tc.TraceID), slog.Any("error", err))
		return nil
	}
	return tc
}

func (r *Recorder) finishTrace(ctx context.Context, id string, status models.TraceStatus, output, externalID string) {
	if err := r.repo.FinishTrace(ctx, id, status, truncatePreview(output), externalID); err != nil {
		r.logger.Warn("failed to finish trace", slog.String("trace_id", id), slog.Any("error", err))
	}
}

func (r *Recorder) saveSpan(ctx context.Context, span *models.Span) {
	if err := r.repo.SaveSpan(ctx, span); err != nil {
		r.logger.Warn("failed to save span", slog.String("span_id", span.ID), slog.Any("error", err))
	}
}

func (r *Recorder) finishSpan(ctx context.Context, span *models.Span) {
	if err := r.repo.FinishSpan(ctx, span.ID, span.Status, span.Output, *span.EndedAt, span.DurationMS); err != nil {
		r.logger.Warn("failed to finish span", slog.String("span_id", span.ID), slog.Any("error", err))
	}
	if r.second != nil {
		r.second.RecordSpan(span)
	}
}

// SaveScore attaches a quality score to a trace (and optionally a span).
func (r *Recorder) SaveScore(ctx context.Context, traceID string, spanID *string, name string, value float64, source models.ScoreSource, comment string) {
	if r == nil || r.repo == nil {
		return
	}
	score := &models.Score{
		TraceID:   traceID,
		SpanID:    spanID,
		Name:      name,
		Value:     value,
		Source:    source,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.SaveScore(ctx, score); err != nil {
		r.logger.Warn("failed to save score", slog.String("trace_id", traceID), slog.String("name", name), slog.Any("error", err))
	}
}

// truncatePreview bounds a preview string without splitting a rune.
func truncatePreview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
