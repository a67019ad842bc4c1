package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// roundRecord is one appended line of session history.
type roundRecord struct {
	Round        int       `json:"round"`
	Iteration    int       `json:"iteration"`
	ToolCalls    []string  `json:"tool_calls,omitempty"`
	ReplyPreview string    `json:"reply_preview,omitempty"`
	TaskPlan     string    `json:"task_plan_snapshot,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// persister appends session rounds to an append-only JSONL file at
// {dir}/{handle}_{session_id}.jsonl. Strictly best-effort: I/O errors
// are logged and never propagate into the run loop.
type persister struct {
	path   string
	logger *slog.Logger
}

func newPersister(dir, handle, sessionID string, logger *slog.Logger) *persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &persister{
		path:   filepath.Join(dir, fmt.Sprintf("%s_%s.jsonl", handle, sessionID)),
		logger: logger.With("component", "agent"),
	}
}

func (p *persister) Append(round, iteration int, calls []models.ToolCall, reply, taskPlan string) {
	if p == nil {
		return
	}
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	rec := roundRecord{
		Round:        round,
		Iteration:    iteration,
		ToolCalls:    names,
		ReplyPreview: firstChars(reply, 200),
		TaskPlan:     taskPlan,
		Timestamp:    time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Warn("failed to marshal session round", slog.Any("error", err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		p.logger.Warn("failed to create sessions dir", slog.Any("error", err))
		return
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		p.logger.Warn("failed to open session file", slog.Any("error", err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		p.logger.Warn("failed to append session round", slog.Any("error", err))
	}
}
