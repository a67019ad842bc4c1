// Package executor drives the bounded LLM ↔ tool iteration loop: select
// tools, call the model, dispatch tool calls in parallel behind the
// policy gate, observe, repeat until the model speaks or the budget runs
// out.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/compaction"
	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/policy"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/tracing"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	// DefaultMaxIterations bounds the LLM ↔ tool rounds.
	DefaultMaxIterations = 10
	// keepLastToolResults is how many recent tool observations stay
	// verbatim; older ones collapse to a placeholder.
	keepLastToolResults = 2
	// maxParallelTools bounds concurrent tool dispatch.
	maxParallelTools = 5
	// clearedPrefix marks a collapsed tool observation.
	clearedPrefix = "[cleared] "
)

// Config bounds one loop run.
type Config struct {
	MaxIterations int
	MaxTools      int
}

// Executor owns the loop machinery. One instance serves the pipeline and
// every agent worker.
type Executor struct {
	registry  *tools.Registry
	validator *tools.Validator
	gate      *policy.Gate
	auditor   *audit.Logger
	hitl      *hitl.Coordinator
	messenger hitl.Messenger
	compactor *compaction.Compactor
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New wires the executor. auditor, hitl, messenger, compactor and
// metrics may be nil; the corresponding behavior degrades gracefully
// (no audit, flag treated as rejected, no compaction).
func New(registry *tools.Registry, gate *policy.Gate, auditor *audit.Logger, coordinator *hitl.Coordinator, messenger hitl.Messenger, compactor *compaction.Compactor, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:  registry,
		validator: tools.NewValidator(),
		gate:      gate,
		auditor:   auditor,
		hitl:      coordinator,
		messenger: messenger,
		compactor: compactor,
		metrics:   metrics,
		logger:    logger.With("component", "executor"),
	}
}

// Result is the outcome of one loop run.
type Result struct {
	FinalText  string
	ToolsUsed  bool
	Iterations int
	// ToolCalls lists every executed regular call in dispatch order,
	// for loop detection and session persistence.
	ToolCalls []models.ToolCall
	// Messages is the updated history including observations.
	Messages []models.Message
}

// Run drives the loop. handle scopes HITL and audit; parentSpanID links
// iteration spans into the caller's trace subtree. categories decide the
// initial tool selection; the meta-tool can widen it mid-loop.
func (e *Executor) Run(ctx context.Context, client llm.Client, messages []models.Message, categories []string, cfg Config, handle, sessionID, parentSpanID string) (*Result, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = tools.DefaultMaxTools
	}

	selected := tools.SelectTools(categories, e.registry.Categories(), e.registry.All(), cfg.MaxTools)
	// The meta-tool is always offered first and survives every merge.
	defs := append([]llm.ToolDef{tools.BuildRequestMoreToolsSchema(e.registry.CategoryTags())}, tools.Defs(selected)...)

	tc := tracing.FromContext(ctx)
	result := &Result{}
	lastAssistant := ""

	for i := 0; i < cfg.MaxIterations; i++ {
		result.Iterations = i + 1
		genSpan := tc.StartSpan(ctx, fmt.Sprintf("llm:iteration_%d", i+1), models.SpanKindGeneration, parentSpanID, summarizeMessages(messages))

		start := time.Now()
		resp, err := client.ChatWithTools(ctx, messages, defs, false)
		if err != nil {
			genSpan.End(ctx, models.TraceFailed, err.Error())
			return nil, fmt.Errorf("tool loop iteration %d: %w", i+1, err)
		}
		genSpan.SetUsage(resp.InputTokens, resp.OutputTokens, resp.Model)
		e.metrics.ObserveLLM("", resp.Model, time.Since(start).Seconds(), resp.InputTokens, resp.OutputTokens)

		if len(resp.ToolCalls) == 0 {
			genSpan.End(ctx, models.TraceCompleted, resp.Content)
			messages = append(messages, models.Message{Role: models.RoleAssistant, Content: resp.Content})
			result.FinalText = resp.Content
			result.Messages = messages
			return result, nil
		}
		genSpan.End(ctx, models.TraceCompleted, fmt.Sprintf("%d tool calls", len(resp.ToolCalls)))
		lastAssistant = resp.Content
		result.ToolsUsed = true

		// Keep the assistant turn that requested the calls.
		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		observations := e.dispatch(ctx, tc, genSpan, resp.ToolCalls, &defs, cfg.MaxTools, handle, sessionID, result)

		userRequest := firstUserMessage(messages)
		for idx := range observations {
			if e.compactor != nil && len(observations[idx].Content) > e.compactor.Threshold() {
				observations[idx].Content = e.compactor.Compact(ctx, observations[idx].name, observations[idx].Content, userRequest)
			}
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    observations[idx].Content,
				ToolCallID: observations[idx].ToolCallID,
			})
		}
		messages = clearOldToolResults(messages, keepLastToolResults)
	}

	// Budget exhausted: hand back whatever the model last said; the
	// guardrails catch an empty reply.
	result.FinalText = lastAssistant
	result.Messages = messages
	return result, nil
}

// observation couples a tool result with the original call order.
type observation struct {
	models.ToolResult
	index int
	name  string
}

// dispatch executes one iteration's calls: meta calls sequentially, the
// rest in parallel, and reassembles results in original index order.
func (e *Executor) dispatch(ctx context.Context, tc *tracing.TraceContext, iterSpan *tracing.Span, calls []models.ToolCall, defs *[]llm.ToolDef, maxTools int, handle, sessionID string, result *Result) []observation {
	observations := make([]observation, len(calls))
	parentID := ""
	if iterSpan != nil {
		parentID = iterSpan.ID
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallelTools)
	for i, call := range calls {
		observations[i].index = i
		observations[i].ToolCallID = call.ID
		observations[i].name = call.Name

		if tools.IsMetaCall(call.Name) {
			// Meta calls mutate the offered tool set; keep them ordered
			// and exempt from policy and audit.
			observations[i].Content = e.expandTools(call, defs, maxTools)
			continue
		}

		result.ToolCalls = append(result.ToolCalls, call)
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res := e.executeOne(ctx, tc, parentID, call, handle, sessionID)
			observations[i].ToolResult = *res
			observations[i].ToolResult.ToolCallID = call.ID
		}(i, call)
	}
	wg.Wait()
	return observations
}

// expandTools handles one request_more_tools call.
func (e *Executor) expandTools(call models.ToolCall, defs *[]llm.ToolDef, maxTools int) string {
	var args tools.MetaToolArgs
	if err := json.Unmarshal(call.Input, &args); err != nil || len(args.Categories) == 0 {
		return "request_more_tools requires a categories array"
	}
	existing := make(map[string]bool, len(*defs))
	for _, d := range *defs {
		existing[d.Name] = true
	}
	additions := tools.SelectTools(args.Categories, e.registry.Categories(), e.registry.All(), maxTools)
	var added []string
	for _, t := range additions {
		if existing[t.Name()] {
			continue
		}
		existing[t.Name()] = true
		*defs = append(*defs, llm.ToolDef{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
		added = append(added, t.Name())
	}
	if len(added) == 0 {
		return fmt.Sprintf("No new tools available for categories: %s", strings.Join(args.Categories, ", "))
	}
	e.logger.Debug("tool set expanded",
		slog.String("reason", args.Reason), slog.Any("added", added))
	return fmt.Sprintf("Loaded %d tools: %s", len(added), strings.Join(added, ", "))
}

// executeOne runs a single regular call through validation, the policy
// gate and the tool itself, with panic containment.
func (e *Executor) executeOne(ctx context.Context, tc *tracing.TraceContext, parentSpanID string, call models.ToolCall, handle, sessionID string) (res *models.ToolResult) {
	ctx = tools.WithHandle(ctx, handle)
	span := tc.StartSpan(ctx, "tool:"+call.Name, models.SpanKindTool, parentSpanID, string(call.Input))
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("tool panicked",
				slog.String("tool", call.Name), slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			res = &models.ToolResult{ToolCallID: call.ID, IsError: true,
				Content: fmt.Sprintf("tool %s crashed", call.Name)}
		}
		outcome := "ok"
		status := models.TraceCompleted
		if res.IsError {
			outcome = "error"
			status = models.TraceFailed
		}
		e.metrics.ObserveTool(call.Name, outcome, time.Since(start).Seconds())
		span.End(ctx, status, res.Content)
	}()

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return &models.ToolResult{ToolCallID: call.ID, IsError: true,
			Content: fmt.Sprintf("unknown tool %s", call.Name)}
	}
	if err := e.validator.Validate(tool, call.Input); err != nil {
		return &models.ToolResult{ToolCallID: call.ID, IsError: true, Content: err.Error()}
	}

	verdict := e.gate.Evaluate(call.Name, call.Input)
	switch verdict.Action {
	case policy.ActionBlock:
		e.writeAudit(call, handle, sessionID, audit.DecisionDeny, start, "", verdict.Reason)
		return &models.ToolResult{ToolCallID: call.ID, IsError: true,
			Content: "🚫 Command blocked: " + verdict.Reason}

	case policy.ActionFlag:
		approved := e.requestApproval(ctx, call, handle, verdict.Reason)
		if !approved {
			e.writeAudit(call, handle, sessionID, audit.DecisionAskRejected, start, "", verdict.Reason)
			e.metrics.ObserveHITL("rejected")
			return &models.ToolResult{ToolCallID: call.ID, IsError: true, Content: "permission denied"}
		}
		e.metrics.ObserveHITL("approved")
		res := e.invoke(ctx, tool, call)
		e.writeAudit(call, handle, sessionID, audit.DecisionAskApproved, start, res.Content, "")
		return res

	default:
		res := e.invoke(ctx, tool, call)
		e.writeAudit(call, handle, sessionID, audit.DecisionAllow, start, res.Content, "")
		return res
	}
}

func (e *Executor) invoke(ctx context.Context, tool tools.Tool, call models.ToolCall) *models.ToolResult {
	res, err := tool.Execute(ctx, call.Input)
	if err != nil {
		// Tool failures are observations, not pipeline errors.
		return &models.ToolResult{ToolCallID: call.ID, IsError: true, Content: err.Error()}
	}
	if res == nil {
		res = &models.ToolResult{Content: "(no output)"}
	}
	res.ToolCallID = call.ID
	return res
}

// requestApproval raises the HITL rendezvous for a flagged call. Without
// a coordinator the call is rejected outright.
func (e *Executor) requestApproval(ctx context.Context, call models.ToolCall, handle, reason string) bool {
	if e.hitl == nil || e.messenger == nil {
		return false
	}
	question := fmt.Sprintf("⚠️ Tool %s requires approval (%s).\nArguments: %s\nReply /approve or /reject.",
		call.Name, reason, string(call.Input))
	answer := e.hitl.RequestUserApproval(ctx, handle, question, e.messenger)
	if answer == hitl.Timeout {
		e.metrics.ObserveHITL("timeout")
		return false
	}
	return hitl.IsApproval(answer)
}

func (e *Executor) writeAudit(call models.ToolCall, handle, sessionID string, decision audit.Decision, start time.Time, preview, errText string) {
	if e.auditor == nil {
		return
	}
	now := time.Now().UTC()
	entry := &audit.Entry{
		SessionID:   sessionID,
		Handle:      handle,
		Command:     call.Name,
		Arguments:   string(call.Input),
		Decision:    decision,
		StdoutPrev:  truncate(preview, 200),
		DurationMS:  now.Sub(start).Milliseconds(),
		Error:       errText,
		StartedAt:   start.UTC(),
		CompletedAt: now,
	}
	if err := e.auditor.Append(entry); err != nil {
		e.logger.Warn("failed to write audit entry",
			slog.String("tool", call.Name), slog.Any("error", err))
	}
}

// clearOldToolResults collapses every tool observation but the most
// recent keep into a one-line placeholder.
func clearOldToolResults(messages []models.Message, keep int) []models.Message {
	var toolIdx []int
	for i := range messages {
		if messages[i].Role == models.RoleTool {
			toolIdx = append(toolIdx, i)
		}
	}
	if len(toolIdx) <= keep {
		return messages
	}
	for _, i := range toolIdx[:len(toolIdx)-keep] {
		if strings.HasPrefix(messages[i].Content, clearedPrefix) {
			continue
		}
		messages[i].Content = clearedPrefix + truncate(firstLine(messages[i].Content), 100)
	}
	return messages
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func firstUserMessage(messages []models.Message) string {
	for _, m := range messages {
		if m.Role == models.RoleUser {
			return m.Content
		}
	}
	return ""
}

func summarizeMessages(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1]
	return fmt.Sprintf("%d messages, last role %s", len(messages), last.Role)
}
