// Package debugtool lets workers inspect recent pipeline traces and
// their guardrail scores when diagnosing behavior.
package debugtool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// maxTraces caps one recent_traces listing.
const maxTraces = 25

// RecentTracesArgs are the recent_traces parameters.
type RecentTracesArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=How many traces to return, newest first (default 10, max 25)."`
}

// TraceScoresArgs are the trace_scores parameters.
type TraceScoresArgs struct {
	TraceID string `json:"trace_id" jsonschema:"description=The trace id to fetch guardrail scores for."`
}

// Tools builds the trace inspection surface.
func Tools(repo store.Repository, logger *slog.Logger) []tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	d := &debugTools{repo: repo, logger: logger.With("component", "debugtool")}
	return []tools.Tool{
		tools.NewFunc("recent_traces",
			"List recent pipeline traces with status and timing, newest first.",
			tools.SchemaFor(&RecentTracesArgs{}), d.recentTraces),
		tools.NewFunc("trace_scores",
			"List the guardrail scores recorded for one trace.",
			tools.SchemaFor(&TraceScoresArgs{}), d.traceScores),
	}
}

type debugTools struct {
	repo   store.Repository
	logger *slog.Logger
}

func (d *debugTools) recentTraces(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args RecentTracesArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return &models.ToolResult{IsError: true, Content: "invalid recent_traces arguments"}, nil
	}
	if args.Limit <= 0 {
		args.Limit = 10
	}
	if args.Limit > maxTraces {
		args.Limit = maxTraces
	}
	traces, err := d.repo.GetRecentTraces(ctx, args.Limit)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if len(traces) == 0 {
		return &models.ToolResult{Content: "No traces recorded."}, nil
	}
	var b strings.Builder
	for _, tr := range traces {
		duration := "running"
		if tr.EndedAt != nil {
			duration = tr.EndedAt.Sub(tr.StartedAt).Truncate(1e6).String()
		}
		fmt.Fprintf(&b, "%s  %s  %s  %s  %s\n",
			tr.ID, tr.StartedAt.Format("2006-01-02 15:04:05"), tr.Status, duration, firstLine(tr.Input))
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func (d *debugTools) traceScores(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args TraceScoresArgs
	if err := json.Unmarshal(input, &args); err != nil || strings.TrimSpace(args.TraceID) == "" {
		return &models.ToolResult{IsError: true, Content: "trace_scores requires a trace_id"}, nil
	}
	scores, err := d.repo.GetTraceScores(ctx, args.TraceID)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if len(scores) == 0 {
		return &models.ToolResult{Content: "No scores recorded for " + args.TraceID + "."}, nil
	}
	var b strings.Builder
	for _, sc := range scores {
		line := fmt.Sprintf("%s = %.2f (%s)", sc.Name, sc.Value, sc.Source)
		if sc.Comment != "" {
			line += ": " + sc.Comment
		}
		b.WriteString(line + "\n")
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// firstLine truncates input to one short line for the listing.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60] + "…"
	}
	return s
}
