// Package dispatcher runs the inbound message pipeline: dedup, HITL and
// command routing, parallel context assembly, intent classification, the
// tool loop, guardrails, delivery and persistence. One trace spans the
// whole turn.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/channels"
	"github.com/haasonsaas/sidekick/internal/commands"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/evals"
	"github.com/haasonsaas/sidekick/internal/executor"
	"github.com/haasonsaas/sidekick/internal/guardrails"
	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/promptctx"
	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/tracing"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// defaultBasePrompt anchors the system message when no SOUL.md exists.
const defaultBasePrompt = `You are Sidekick, a personal assistant reachable over chat.
Be concise and direct. Answer in the user's language. Use the tools you
are given when they help; never invent tool output.`

// dailyLogMaxChars bounds the recent-activity excerpt.
const dailyLogMaxChars = 2000

// Config carries the pipeline knobs and workspace paths the dispatcher
// reads directly.
type Config struct {
	Pipeline     config.PipelineConfig
	WorkspaceDir string
	ProjectsRoot string
}

// Deps wires the dispatcher's collaborators. Curator, Metrics, Recorder
// and Guardrails may be nil; the corresponding stage is skipped.
type Deps struct {
	Repo       store.Repository
	LLM        llm.Client
	Embedder   memory.Embedder
	Memory     *memory.Service
	Registry   *tools.Registry
	Executor   *executor.Executor
	Guardrails *guardrails.Pipeline
	HITL       *hitl.Coordinator
	Commands   *commands.Registry
	Curator    *evals.Curator
	Recorder   *tracing.Recorder
	Metrics    *observability.Metrics
	Messenger  channels.MessagingClient
	Logger     *slog.Logger
}

// turnRef points curation at the previous completed turn on a handle.
type turnRef struct {
	traceID string
	output  string
}

// Dispatcher is safe for concurrent use; each inbound message runs on
// its own goroutine.
type Dispatcher struct {
	cfg        Config
	repo       store.Repository
	llm        llm.Client
	embedder   memory.Embedder
	memory     *memory.Service
	registry   *tools.Registry
	exec       *executor.Executor
	guards     *guardrails.Pipeline
	coord      *hitl.Coordinator
	commands   *commands.Registry
	curator    *evals.Curator
	recorder   *tracing.Recorder
	metrics    *observability.Metrics
	messenger  channels.MessagingClient
	basePrompt string
	logger     *slog.Logger

	inflight sync.WaitGroup

	mu       sync.Mutex
	lastTurn map[string]turnRef
}

// New builds the dispatcher. The base system prompt is SOUL.md from the
// workspace when present, otherwise a built-in default.
func New(cfg Config, deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := defaultBasePrompt
	if data, err := os.ReadFile(filepath.Join(cfg.WorkspaceDir, "SOUL.md")); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		base = strings.TrimSpace(string(data))
	}
	return &Dispatcher{
		cfg:        cfg,
		repo:       deps.Repo,
		llm:        deps.LLM,
		embedder:   deps.Embedder,
		memory:     deps.Memory,
		registry:   deps.Registry,
		exec:       deps.Executor,
		guards:     deps.Guardrails,
		coord:      deps.HITL,
		commands:   deps.Commands,
		curator:    deps.Curator,
		recorder:   deps.Recorder,
		metrics:    deps.Metrics,
		messenger:  deps.Messenger,
		basePrompt: base,
		logger:     logger.With("component", "dispatcher"),
		lastTurn:   make(map[string]turnRef),
	}
}

// Accept runs the message on its own tracked goroutine and returns
// immediately. The webhook handler calls this so provider retries are
// never blocked on pipeline latency.
func (d *Dispatcher) Accept(msg channels.InboundMessage) {
	d.Track(func() {
		d.HandleInbound(context.Background(), msg)
	})
}

// Track launches fn as a background task awaited by WaitForInFlight.
func (d *Dispatcher) Track(fn func()) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked",
					slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			}
		}()
		fn()
	}()
}

// WaitForInFlight blocks until every tracked task finishes or the
// timeout fires. Returns false on timeout.
func (d *Dispatcher) WaitForInFlight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// HandleCronMessage feeds a fired cron job through the pipeline as a
// synthetic inbound message. No external id, so dedup is skipped.
func (d *Dispatcher) HandleCronMessage(ctx context.Context, handle, text string) {
	d.HandleInbound(ctx, channels.InboundMessage{From: handle, Text: text})
}

// HandleInbound processes one user message end to end.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg channels.InboundMessage) {
	handle := strings.TrimSpace(msg.From)
	text := strings.TrimSpace(msg.Text)
	if handle == "" || text == "" {
		return
	}
	logger := d.logger.With(slog.String("handle", handle))

	// Exactly-once under webhook retries: insert-if-absent on the
	// external id. A storage error fails open so a flaky disk never
	// silently drops user messages.
	if msg.ExternalID != "" {
		fresh, err := d.repo.InsertProcessedMessage(ctx, msg.ExternalID)
		if err != nil {
			logger.Warn("dedup check failed", slog.Any("error", err))
		} else if !fresh {
			logger.Debug("duplicate message dropped", slog.String("external_id", msg.ExternalID))
			d.metrics.ObserveMessage("inbound", "duplicate")
			return
		}
	}
	d.metrics.ObserveMessage("inbound", "accepted")

	// A session blocked in waiting_user owns the next message outright.
	if d.coord != nil && d.coord.Resolve(handle, text) {
		logger.Info("message routed to pending approval")
		d.metrics.ObserveHITL("answered")
		return
	}

	if commands.IsCommand(text) {
		reply := d.commands.Dispatch(ctx, handle, text)
		d.deliver(ctx, handle, reply, nil, logger)
		return
	}

	tc := d.recorder.StartTrace(ctx, handle, text, models.MessageTypeText, nil)
	ctx = tracing.WithTrace(ctx, tc)
	d.process(ctx, handle, text, tc, logger)
}

// process runs phases A through D plus guardrails, delivery and
// persistence. The trace is finished on every exit path.
func (d *Dispatcher) process(ctx context.Context, handle, text string, tc *tracing.TraceContext, logger *slog.Logger) {
	convID, err := d.repo.GetOrCreateConversation(ctx, handle)
	if err != nil {
		logger.Error("failed to open conversation", slog.Any("error", err))
		d.deliver(ctx, handle, guardrails.Apology, tc, logger)
		tc.Finish(ctx, models.TraceFailed, err.Error(), "")
		return
	}

	// Phase A: embedding, persistence and the daily log are independent.
	var (
		embedding []float32
		embedErr  error
		activity  string
		wgA       sync.WaitGroup
	)
	wgA.Add(3)
	go func() {
		defer wgA.Done()
		embedding, embedErr = d.embedder.Embed(ctx, text)
	}()
	go func() {
		defer wgA.Done()
		if err := d.repo.SaveMessage(ctx, convID, models.RoleUser, text); err != nil {
			logger.Warn("failed to persist user message", slog.Any("error", err))
		}
	}()
	go func() {
		defer wgA.Done()
		activity = d.dailyLogExcerpt()
	}()
	wgA.Wait()
	if embedErr != nil {
		logger.Warn("embedding failed; retrieval degraded", slog.Any("error", embedErr))
	}

	// Phase B: retrieval fans out over the stored context.
	var (
		memories []store.ScoredMemory
		notes    []store.ScoredNote
		history  []models.Message
		summary  string
		sticky   []string
		facts    []string
		wgB      sync.WaitGroup
	)
	wgB.Add(4)
	go func() {
		defer wgB.Done()
		if embedErr != nil {
			return
		}
		var err error
		if memories, err = d.memory.SearchRelevant(ctx, embedding); err != nil {
			logger.Warn("memory retrieval failed", slog.Any("error", err))
		}
		if notes, err = d.memory.SearchNotes(ctx, embedding); err != nil {
			logger.Warn("note retrieval failed", slog.Any("error", err))
		}
	}()
	go func() {
		defer wgB.Done()
		var err error
		if history, summary, err = promptctx.WindowedHistory(ctx, d.repo, convID, d.cfg.Pipeline.HistoryVerbatimCount); err != nil {
			logger.Warn("history load failed", slog.Any("error", err))
		}
	}()
	go func() {
		defer wgB.Done()
		var err error
		if sticky, err = d.repo.GetStickyCategories(ctx, convID); err != nil {
			logger.Warn("sticky category load failed", slog.Any("error", err))
		}
	}()
	go func() {
		defer wgB.Done()
		var err error
		if facts, err = d.memory.UserFacts(ctx); err != nil {
			logger.Warn("user fact load failed", slog.Any("error", err))
		}
	}()
	wgB.Wait()

	// Phase C: classification, with sticky as the safety net.
	categories, err := tools.ClassifyIntent(ctx, text, history, sticky, d.registry, d.llm)
	if err != nil {
		logger.Warn("intent classification failed", slog.Any("error", err))
		categories = append([]string(nil), sticky...)
	}

	// Phase D: one consolidated system prompt, then generate.
	system := promptctx.NewBuilder(d.basePrompt).
		AddSection(promptctx.SectionMemories, renderMemories(memories)).
		AddSection(promptctx.SectionProjects, d.activeProjects()).
		AddSection(promptctx.SectionNotes, renderNotes(notes)).
		AddSection(promptctx.SectionActivity, activity).
		AddSection(promptctx.SectionCapabilities, promptctx.Capabilities(categories, d.registry.Descriptions(), d.commands.Help())).
		AddSection(promptctx.SectionSummary, summary).
		BuildSystemMessage()

	messages := make([]models.Message, 0, len(history)+3)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
	if len(facts) > 0 {
		messages = append(messages, models.Message{
			Role:    models.RoleSystem,
			Content: "Known facts about the user:\n- " + strings.Join(facts, "\n- "),
		})
	}
	if _, ok := d.registry.Get("fetch_url"); !ok && tools.ContainsURL(text) {
		messages = append(messages, models.Message{
			Role:    models.RoleSystem,
			Content: "No web-fetch backend is configured, so links cannot be opened. Say so plainly and answer from what you already know instead of guessing at page content.",
		})
	}
	messages = append(messages, history...)
	if n := len(messages); n == 0 || messages[n-1].Role != models.RoleUser || messages[n-1].Content != text {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: text})
	}
	promptctx.LogBudget(logger, messages, d.cfg.Pipeline.ContextTokenLimit)

	reply, toolsUsed, genMessages, err := d.generate(ctx, handle, messages, categories, tc)
	if err != nil {
		logger.Error("generation failed", slog.Any("error", err))
		d.deliver(ctx, handle, guardrails.Apology, tc, logger)
		tc.Finish(ctx, models.TraceFailed, err.Error(), "")
		return
	}

	in := guardrails.Input{UserText: text, Reply: reply, ToolsUsed: toolsUsed}
	var failure *guardrails.Result
	if d.guards != nil {
		failure = guardrails.FirstFailure(d.guards.Evaluate(ctx, in, tc))
		if failure != nil {
			logger.Info("guardrail failed; remediating",
				slog.String("check", string(failure.Check)), slog.String("detail", failure.Detail))
			reply = d.guards.Remediate(ctx, in, failure, genMessages, tc, "")
		}
	}

	externalID := d.deliver(ctx, handle, reply, tc, logger)

	if err := d.repo.SaveMessage(ctx, convID, models.RoleAssistant, reply); err != nil {
		logger.Warn("failed to persist reply", slog.Any("error", err))
	}
	d.saveSticky(ctx, convID, categories, toolsUsed, logger)
	tc.Finish(ctx, models.TraceCompleted, reply, externalID)
	d.scheduleCuration(handle, text, reply, toolsUsed, failure, tc)
}

// generate invokes the model: directly when no categories apply, through
// the tool loop otherwise. The returned messages are the exact prompt
// that produced the reply, for remediation retries.
func (d *Dispatcher) generate(ctx context.Context, handle string, messages []models.Message, categories []string, tc *tracing.TraceContext) (string, bool, []models.Message, error) {
	if len(categories) == 0 || (len(categories) == 1 && categories[0] == tools.CategoryNone) {
		span := tc.StartSpan(ctx, "llm:direct", models.SpanKindGeneration, "", lastUserContent(messages))
		reply, usage, err := d.llm.Chat(ctx, messages, true)
		if err != nil {
			span.End(ctx, models.TraceFailed, err.Error())
			return "", false, messages, fmt.Errorf("direct chat failed: %w", err)
		}
		if usage != nil {
			span.SetMetadata(tracing.MetaInputTokens, usage.InputTokens)
			span.SetMetadata(tracing.MetaOutputTokens, usage.OutputTokens)
		}
		span.End(ctx, models.TraceCompleted, reply)
		return reply, false, messages, nil
	}

	res, err := d.exec.Run(ctx, d.llm, messages, categories, executor.Config{
		MaxIterations: d.cfg.Pipeline.MaxToolIterations,
		MaxTools:      d.cfg.Pipeline.MaxToolsPerCall,
	}, handle, "", "")
	if err != nil {
		return "", false, messages, fmt.Errorf("tool loop failed: %w", err)
	}
	return res.FinalText, res.ToolsUsed, res.Messages, nil
}

// deliver sends the reply and returns the provider's message id.
func (d *Dispatcher) deliver(ctx context.Context, handle, reply string, tc *tracing.TraceContext, logger *slog.Logger) string {
	if strings.TrimSpace(reply) == "" {
		return ""
	}
	externalID, err := d.messenger.SendMessage(ctx, handle, reply)
	if err != nil {
		logger.Error("delivery failed", slog.Any("error", err))
		d.metrics.ObserveMessage("outbound", "error")
		return ""
	}
	d.metrics.ObserveMessage("outbound", "sent")
	return externalID
}

// saveSticky persists the turn's categories when tools ran, and clears
// them otherwise so stale stickiness never forces tools onto small talk.
func (d *Dispatcher) saveSticky(ctx context.Context, convID int64, categories []string, toolsUsed bool, logger *slog.Logger) {
	var err error
	if toolsUsed && len(categories) > 0 {
		err = d.repo.SaveStickyCategories(ctx, convID, categories)
	} else {
		err = d.repo.ClearStickyCategories(ctx, convID)
	}
	if err != nil {
		logger.Warn("sticky category update failed", slog.Any("error", err))
	}
}

// scheduleCuration runs dataset curation off the request path.
func (d *Dispatcher) scheduleCuration(handle, text, reply string, toolsUsed bool, failure *guardrails.Result, tc *tracing.TraceContext) {
	if d.curator == nil {
		return
	}
	traceID := ""
	if tc != nil {
		traceID = tc.TraceID
	}

	d.mu.Lock()
	prev := d.lastTurn[handle]
	d.lastTurn[handle] = turnRef{traceID: traceID, output: reply}
	d.mu.Unlock()

	turn := evals.Turn{
		TraceID:         traceID,
		Input:           text,
		Output:          reply,
		ToolsUsed:       toolsUsed,
		GuardrailsPass:  failure == nil,
		PreviousOutput:  prev.output,
		PreviousTraceID: prev.traceID,
	}
	if failure != nil {
		turn.FailedCheck = string(failure.Check)
	}
	d.Track(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.curator.Curate(ctx, turn)
	})
}

// dailyLogExcerpt returns the tail of the newest markdown file under
// the workspace log directory, or "".
func (d *Dispatcher) dailyLogExcerpt() string {
	if d.cfg.WorkspaceDir == "" {
		return ""
	}
	dir := filepath.Join(d.cfg.WorkspaceDir, "log")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	// Daily logs are date-named, so lexical order is chronological.
	sort.Strings(names)
	data, err := os.ReadFile(filepath.Join(dir, names[len(names)-1]))
	if err != nil {
		return ""
	}
	excerpt := strings.TrimSpace(string(data))
	if len(excerpt) > dailyLogMaxChars {
		excerpt = excerpt[len(excerpt)-dailyLogMaxChars:]
		if i := strings.IndexByte(excerpt, '\n'); i >= 0 {
			excerpt = excerpt[i+1:]
		}
	}
	return excerpt
}

// activeProjects lists the directories under the projects root.
func (d *Dispatcher) activeProjects() string {
	if d.cfg.ProjectsRoot == "" {
		return ""
	}
	entries, err := os.ReadDir(d.cfg.ProjectsRoot)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

func renderMemories(memories []store.ScoredMemory) string {
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s\n", m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderNotes(notes []store.ScoredNote) string {
	var b strings.Builder
	for _, n := range notes {
		if n.Project != "" {
			fmt.Fprintf(&b, "- [%s] %s\n", n.Project, n.Content)
		} else {
			fmt.Fprintf(&b, "- %s\n", n.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
