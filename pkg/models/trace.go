package models

import "time"

// TraceStatus is the lifecycle state of a trace or span.
type TraceStatus string

const (
	TraceStarted   TraceStatus = "started"
	TraceCompleted TraceStatus = "completed"
	TraceFailed    TraceStatus = "failed"
)

// SpanKind classifies a span within the observability tree.
type SpanKind string

const (
	SpanKindSpan       SpanKind = "span"
	SpanKindGeneration SpanKind = "generation"
	SpanKindTool       SpanKind = "tool"
	SpanKindGuardrail  SpanKind = "guardrail"
	SpanKindAgent      SpanKind = "agent"
	SpanKindSystem     SpanKind = "system"
	SpanKindUser       SpanKind = "user"
)

// ScoreSource identifies who produced a quality score.
type ScoreSource string

const (
	ScoreSourceSystem   ScoreSource = "system"
	ScoreSourceUser     ScoreSource = "user"
	ScoreSourceLLMJudge ScoreSource = "llm_judge"
	ScoreSourceHuman    ScoreSource = "human"
)

// Trace is the root of one interaction timeline.
type Trace struct {
	ID                string         `json:"id"`
	Handle            string         `json:"handle"`
	Input             string         `json:"input"`
	Output            string         `json:"output,omitempty"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	MessageType       MessageType    `json:"message_type"`
	Status            TraceStatus    `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Span is a node of the trace tree. ParentID is nil for direct children
// of the trace root. The tree is acyclic; every span ends before its trace.
type Span struct {
	ID         string         `json:"id"`
	TraceID    string         `json:"trace_id"`
	ParentID   *string        `json:"parent_id,omitempty"`
	Name       string         `json:"name"`
	Kind       SpanKind       `json:"kind"`
	Input      string         `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	Status     TraceStatus    `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Score is a quality annotation on a trace or one of its spans.
type Score struct {
	TraceID   string      `json:"trace_id"`
	SpanID    *string     `json:"span_id,omitempty"`
	Name      string      `json:"name"`
	Value     float64     `json:"value"`
	Source    ScoreSource `json:"source"`
	Comment   string      `json:"comment,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
