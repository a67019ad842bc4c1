package models

import "time"

// CategorySelfCorrection marks private memories written by the runtime
// after guardrail failures. They never surface in the external memory file.
const CategorySelfCorrection = "self_correction"

// Memory is one long-term fact about the user or the runtime itself.
type Memory struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is free-form text tied to a user or project, embedded for
// semantic retrieval.
type Note struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Project   string    `json:"project,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryType classifies an eval dataset entry.
type EntryType string

const (
	EntryGolden     EntryType = "golden"
	EntryFailure    EntryType = "failure"
	EntryCorrection EntryType = "correction"
)

// EvalDatasetEntry is one curated example derived from a trace.
type EvalDatasetEntry struct {
	ID             int64          `json:"id"`
	TraceID        string         `json:"trace_id"`
	EntryType      EntryType      `json:"entry_type"`
	Input          string         `json:"input"`
	Output         string         `json:"output"`
	ExpectedOutput string         `json:"expected_output,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PromptVersion is one immutable revision of a named prompt. At most one
// version per prompt name is active at a time.
type PromptVersion struct {
	ID         int64      `json:"id"`
	PromptName string     `json:"prompt_name"`
	Version    int        `json:"version"`
	Content    string     `json:"content"`
	IsActive   bool       `json:"is_active"`
	CreatedBy  string     `json:"created_by"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CronJob is a user-defined schedule that injects a synthetic message for
// its handle when it fires.
type CronJob struct {
	ID        int64     `json:"id"`
	Handle    string    `json:"handle"`
	Schedule  string    `json:"schedule"`
	Message   string    `json:"message"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
