package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/tracing"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const plannerPrompt = `You are a planning assistant. Decompose the objective into a short ordered task list.

Respond with ONLY a JSON object shaped like:
{"objective": "...", "context_summary": "...", "tasks": [{"id": 1, "description": "...", "worker_type": "reader|analyzer|coder|reporter|general", "tools": ["category", ...], "depends_on": []}]}

Rules:
- 1-based contiguous task ids.
- depends_on references earlier task ids only.
- Prefer 2-5 tasks; keep each one independently verifiable.`

// Planner produces, repairs and synthesizes task plans.
type Planner struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewPlanner builds a planner on the given client.
func NewPlanner(client llm.Client, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{llm: client, logger: logger.With("component", "planner")}
}

// CreatePlan asks the model for a structured decomposition. An error
// means no usable plan; the runner falls back to reactive mode.
func (p *Planner) CreatePlan(ctx context.Context, objective, contextSummary, parentSpanID string) (*models.AgentPlan, error) {
	tc := tracing.FromContext(ctx)
	span := tc.StartSpan(ctx, "planner:create_plan", models.SpanKindGeneration, parentSpanID, objective)

	userMsg := "Objective: " + objective
	if contextSummary != "" {
		userMsg += "\n\nContext:\n" + contextSummary
	}
	reply, usage, err := p.llm.Chat(ctx, []models.Message{
		{Role: models.RoleSystem, Content: plannerPrompt},
		{Role: models.RoleUser, Content: userMsg},
	}, false)
	if usage != nil {
		span.SetUsage(usage.InputTokens, usage.OutputTokens, "")
	}
	if err != nil {
		span.End(ctx, models.TraceFailed, err.Error())
		return nil, fmt.Errorf("planner call failed: %w", err)
	}

	plan, perr := ParsePlan(reply)
	if perr != nil {
		p.logger.Warn("plan parse failed", slog.Any("error", perr))
		span.End(ctx, models.TraceCompleted, "unparseable plan")
		return nil, perr
	}
	plan.Objective = objective
	span.End(ctx, models.TraceCompleted, fmt.Sprintf("%d tasks", len(plan.Tasks)))
	return plan, nil
}

// Replan rebuilds the remaining work after a task failure, carrying the
// replan counter forward. A parse failure keeps the old plan.
func (p *Planner) Replan(ctx context.Context, plan *models.AgentPlan, failed *models.TaskStep, parentSpanID string) *models.AgentPlan {
	tc := tracing.FromContext(ctx)
	span := tc.StartSpan(ctx, "planner:replan", models.SpanKindGeneration, parentSpanID,
		fmt.Sprintf("task %d failed", failed.ID))

	var results strings.Builder
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if t.Status == models.TaskDone && t.Result != "" {
			fmt.Fprintf(&results, "Task %d (%s): %s\n", t.ID, t.Description, firstChars(t.Result, 300))
		}
	}
	userMsg := fmt.Sprintf("Objective: %s\n\nTask %d (%q) failed with: %s\n\nCompleted so far:\n%s\nProduce a fresh plan for the remaining work.",
		plan.Objective, failed.ID, failed.Description, firstChars(failed.Result, 300), results.String())

	reply, usage, err := p.llm.Chat(ctx, []models.Message{
		{Role: models.RoleSystem, Content: plannerPrompt},
		{Role: models.RoleUser, Content: userMsg},
	}, false)
	if usage != nil {
		span.SetUsage(usage.InputTokens, usage.OutputTokens, "")
	}
	if err != nil {
		span.End(ctx, models.TraceFailed, err.Error())
		return plan
	}
	next, perr := ParsePlan(reply)
	if perr != nil {
		p.logger.Warn("replan parse failed, keeping current plan", slog.Any("error", perr))
		span.End(ctx, models.TraceCompleted, "kept current plan")
		return plan
	}
	next.Objective = plan.Objective
	next.Replans = plan.Replans + 1
	span.End(ctx, models.TraceCompleted, fmt.Sprintf("%d tasks", len(next.Tasks)))
	return next
}

// Synthesize turns the per-task results into the final user-facing text.
func (p *Planner) Synthesize(ctx context.Context, plan *models.AgentPlan, parentSpanID string) (string, error) {
	tc := tracing.FromContext(ctx)
	span := tc.StartSpan(ctx, "planner:synthesize", models.SpanKindGeneration, parentSpanID, plan.Objective)

	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n\nTask results:\n", plan.Objective)
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		fmt.Fprintf(&b, "\n## Task %d: %s (%s)\n%s\n", t.ID, t.Description, t.Status, t.Result)
	}
	b.WriteString("\nWrite the final answer for the user. Be concrete and include the results that matter; do not describe the plan itself.")

	reply, usage, err := p.llm.Chat(ctx, []models.Message{
		{Role: models.RoleUser, Content: b.String()},
	}, false)
	if usage != nil {
		span.SetUsage(usage.InputTokens, usage.OutputTokens, "")
	}
	if err != nil {
		span.End(ctx, models.TraceFailed, err.Error())
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	span.End(ctx, models.TraceCompleted, reply)
	return reply, nil
}

// ParsePlan accepts fenced JSON, raw JSON, or the first balanced object
// embedded in surrounding prose.
func ParsePlan(text string) (*models.AgentPlan, error) {
	for _, candidate := range jsonCandidates(text) {
		var plan models.AgentPlan
		if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
			continue
		}
		for i := range plan.Tasks {
			plan.Tasks[i].WorkerType = models.ParseWorkerType(string(plan.Tasks[i].WorkerType))
			plan.Tasks[i].Status = models.TaskPending
		}
		if err := plan.Validate(); err != nil {
			return nil, fmt.Errorf("invalid plan: %w", err)
		}
		return &plan, nil
	}
	return nil, fmt.Errorf("no JSON object found in planner reply")
}

func jsonCandidates(text string) []string {
	var out []string
	trimmed := strings.TrimSpace(text)

	// Fenced block first: the model was asked for JSON only, but many
	// models wrap it anyway.
	if start := strings.Index(trimmed, "```"); start >= 0 {
		rest := trimmed[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			out = append(out, strings.TrimSpace(rest[:end]))
		}
	}
	out = append(out, trimmed)
	if balanced := firstBalancedObject(trimmed); balanced != "" {
		out = append(out, balanced)
	}
	return out
}

// firstBalancedObject extracts the first {...} with matched braces,
// ignoring braces inside JSON strings.
func firstBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
