package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/sidekick/pkg/models"
)

type ctxKey struct{}

// TraceContext carries one trace through the pipeline. It travels on the
// context.Context; parent span ids are threaded explicitly as parameters
// because context propagation loses the immediate parent across loop
// iterations. A nil *TraceContext is valid and records nothing.
type TraceContext struct {
	TraceID  string
	recorder *Recorder
}

// WithTrace attaches the trace context to ctx.
func WithTrace(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the current trace context, or nil.
func FromContext(ctx context.Context) *TraceContext {
	tc, _ := ctx.Value(ctxKey{}).(*TraceContext)
	return tc
}

// Finish closes the trace root.
func (tc *TraceContext) Finish(ctx context.Context, status models.TraceStatus, output, externalMessageID string) {
	if tc == nil {
		return
	}
	tc.recorder.finishTrace(ctx, tc.TraceID, status, output, externalMessageID)
}

// Score attaches a trace-level score.
func (tc *TraceContext) Score(ctx context.Context, name string, value float64, source models.ScoreSource, comment string) {
	if tc == nil {
		return
	}
	tc.recorder.SaveScore(ctx, tc.TraceID, nil, name, value, source, comment)
}

// Span is an open span handle. End must be called on every exit path.
type Span struct {
	ID   string
	tc   *TraceContext
	span *models.Span
}

// StartSpan opens a child span under parentSpanID (empty for a direct
// child of the trace root). Safe on a nil receiver: returns a nil Span.
func (tc *TraceContext) StartSpan(ctx context.Context, name string, kind models.SpanKind, parentSpanID, input string) *Span {
	if tc == nil {
		return nil
	}
	sp := &models.Span{
		ID:        uuid.NewString(),
		TraceID:   tc.TraceID,
		Name:      name,
		Kind:      kind,
		Input:     truncatePreview(input),
		Status:    models.TraceStarted,
		StartedAt: time.Now().UTC(),
	}
	if parentSpanID != "" {
		sp.ParentID = &parentSpanID
	}
	tc.recorder.saveSpan(ctx, sp)
	return &Span{ID: sp.ID, tc: tc, span: sp}
}

// SetMetadata adds one metadata entry to the span before it ends.
func (s *Span) SetMetadata(key string, value any) {
	if s == nil {
		return
	}
	if s.span.Metadata == nil {
		s.span.Metadata = make(map[string]any)
	}
	s.span.Metadata[key] = value
}

// SetUsage records generation token usage and model under the vendor-
// neutral metadata keys.
func (s *Span) SetUsage(inputTokens, outputTokens int, model string) {
	if s == nil {
		return
	}
	s.SetMetadata(MetaInputTokens, inputTokens)
	s.SetMetadata(MetaOutputTokens, outputTokens)
	s.SetMetadata(MetaModel, model)
}

// End closes the span. Safe on nil.
func (s *Span) End(ctx context.Context, status models.TraceStatus, output string) {
	if s == nil {
		return
	}
	now := time.Now().UTC()
	s.span.EndedAt = &now
	s.span.DurationMS = now.Sub(s.span.StartedAt).Milliseconds()
	s.span.Status = status
	s.span.Output = truncatePreview(output)
	s.tc.recorder.finishSpan(ctx, s.span)
}
