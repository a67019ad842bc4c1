package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/compaction"
	"github.com/haasonsaas/sidekick/internal/executor"
	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/policy"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/tools/plantool"
	"github.com/haasonsaas/sidekick/internal/tracing"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// bootstrapFiles are prepended as system messages when present in the
// workspace.
var bootstrapFiles = []string{"SOUL.md", "USER.md", "TOOLS.md"}

// Runner executes agent sessions end to end. One Runner serves every
// handle; each session gets its own context, trace and tool registry.
type Runner struct {
	manager     *Manager
	planner     *Planner
	registry    *tools.Registry
	llm         llm.Client
	recorder    *tracing.Recorder
	coordinator *hitl.Coordinator
	messenger   hitl.Messenger
	gate        *policy.Gate
	auditor     *audit.Logger
	compactor   *compaction.Compactor
	metrics     *observability.Metrics

	workspaceDir  string
	sessionsDir   string
	maxIterations int
	maxTools      int
	logger        *slog.Logger
}

// RunnerConfig wires the runner's dependencies.
type RunnerConfig struct {
	Manager     *Manager
	Registry    *tools.Registry
	LLM         llm.Client
	Recorder    *tracing.Recorder
	Coordinator *hitl.Coordinator
	Messenger   hitl.Messenger
	Gate        *policy.Gate
	Auditor     *audit.Logger
	Compactor   *compaction.Compactor
	Metrics     *observability.Metrics

	WorkspaceDir  string
	SessionsDir   string
	MaxIterations int
	MaxTools      int
	Logger        *slog.Logger
}

// NewRunner builds the session runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 15
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = tools.DefaultMaxTools
	}
	return &Runner{
		manager:       cfg.Manager,
		planner:       NewPlanner(cfg.LLM, logger),
		registry:      cfg.Registry,
		llm:           cfg.LLM,
		recorder:      cfg.Recorder,
		coordinator:   cfg.Coordinator,
		messenger:     cfg.Messenger,
		gate:          cfg.Gate,
		auditor:       cfg.Auditor,
		compactor:     cfg.Compactor,
		metrics:       cfg.Metrics,
		workspaceDir:  cfg.WorkspaceDir,
		sessionsDir:   cfg.SessionsDir,
		maxIterations: cfg.MaxIterations,
		maxTools:      cfg.MaxTools,
		logger:        logger.With("component", "agent"),
	}
}

// Start creates a session for handle and runs it in the background. The
// run detaches from the caller's context: the webhook trace has closed
// by the time the session makes progress.
func (r *Runner) Start(handle, objective string) (string, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	session, mu, err := r.manager.Create(handle, objective, r.maxIterations, cancel)
	if err != nil {
		cancel()
		return "", err
	}
	go func() {
		defer cancel()
		r.run(runCtx, session, mu)
	}()
	return session.ID, nil
}

func (r *Runner) run(ctx context.Context, session *models.AgentSession, mu *sync.Mutex) {
	logger := r.logger.With("session_id", session.ID, "handle", session.Handle)

	tc := r.recorder.StartTrace(ctx, session.Handle, session.Objective,
		models.MessageTypeAgent, map[string]any{"session_id": session.ID})
	ctx = tracing.WithTrace(ctx, tc)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("agent session panicked", slog.Any("panic", rec))
			r.manager.Finish(session.Handle, models.SessionFailed)
			tc.Finish(ctx, models.TraceFailed, fmt.Sprintf("panic: %v", rec), "")
		}
	}()

	sessionTools := plantool.Tools(session, mu, r.coordinator, r.messenger, logger)
	registry := mergedRegistry(r.registry, sessionTools)
	exec := executor.New(registry, r.gate, r.auditor, r.coordinator, r.messenger,
		r.compactor, r.metrics, logger)
	persist := newPersister(r.sessionsDir, session.Handle, session.ID, logger)

	bootstrap := r.loadBootstrap()

	finalText, status := r.orchestrate(ctx, session, mu, exec, registry, bootstrap, persist, logger)

	if ctx.Err() != nil {
		status = models.SessionCancelled
	}
	r.manager.Finish(session.Handle, status)

	switch status {
	case models.SessionCompleted:
		if finalText != "" {
			r.send(session.Handle, finalText, logger)
		}
		tc.Finish(ctx, models.TraceCompleted, finalText, "")
	case models.SessionCancelled:
		tc.Finish(ctx, models.TraceCompleted, "session cancelled", "")
	default:
		r.send(session.Handle, "I couldn't finish the task: "+firstChars(finalText, 300), logger)
		tc.Finish(ctx, models.TraceFailed, finalText, "")
	}
	logger.Info("agent session finished", slog.String("status", string(status)))
}

// orchestrate runs planner mode, falling back to the reactive loop when
// no structured plan can be produced.
func (r *Runner) orchestrate(ctx context.Context, session *models.AgentSession, mu *sync.Mutex, exec *executor.Executor, registry *tools.Registry, bootstrap []models.Message, persist *persister, logger *slog.Logger) (string, models.SessionStatus) {
	plan, err := r.planner.CreatePlan(ctx, session.Objective, "", "")
	if err != nil {
		logger.Info("falling back to reactive mode", slog.Any("error", err))
		return r.reactive(ctx, session, mu, exec, registry, bootstrap, persist, logger)
	}
	mu.Lock()
	session.Plan = plan
	mu.Unlock()

	for !plan.Done() {
		if ctx.Err() != nil {
			return "", models.SessionCancelled
		}
		task := plan.NextRunnable()
		if task == nil {
			// Remaining tasks are blocked on failed dependencies.
			break
		}
		task.Status = models.TaskInProgress
		r.runWorker(ctx, exec, registry, plan, task, session, bootstrap, logger)

		done, total := planProgress(plan)
		r.send(session.Handle, fmt.Sprintf("🔧 %d/%d", done, total), logger)
		persist.Append(done, task.ID, nil, task.Result, renderPlan(plan))

		if task.Status == models.TaskFailed {
			if plan.Replans >= models.MaxReplans {
				return task.Result, models.SessionFailed
			}
			plan = r.planner.Replan(ctx, plan, task, "")
			mu.Lock()
			session.Plan = plan
			mu.Unlock()
		}
	}

	if anyFailed(plan) {
		return "some tasks could not be completed", models.SessionFailed
	}
	final, err := r.planner.Synthesize(ctx, plan, "")
	if err != nil {
		return err.Error(), models.SessionFailed
	}
	return final, models.SessionCompleted
}

// runWorker executes one plan task inside a worker span.
func (r *Runner) runWorker(ctx context.Context, exec *executor.Executor, registry *tools.Registry, plan *models.AgentPlan, task *models.TaskStep, session *models.AgentSession, bootstrap []models.Message, logger *slog.Logger) {
	tc := tracing.FromContext(ctx)
	span := tc.StartSpan(ctx, fmt.Sprintf("worker:task_%d", task.ID), models.SpanKindAgent, "", task.Description)
	parentID := ""
	if span != nil {
		parentID = span.ID
	}

	categories := workerCategories(task, registry.CategoryTags())
	messages := append(append([]models.Message{}, bootstrap...),
		models.Message{Role: models.RoleSystem, Content: buildWorkerPrompt(task, plan)},
		models.Message{Role: models.RoleUser, Content: task.Description},
	)
	res, err := exec.Run(ctx, r.llm, messages, categories,
		executor.Config{MaxIterations: executor.DefaultMaxIterations, MaxTools: r.maxTools},
		session.Handle, session.ID, parentID)
	if err != nil {
		task.Status = models.TaskFailed
		task.Result = err.Error()
		span.End(ctx, models.TraceFailed, err.Error())
		logger.Warn("worker failed",
			slog.Int("task", task.ID), slog.Any("error", err))
		return
	}
	task.Result = res.FinalText
	task.Status = models.TaskDone
	if strings.TrimSpace(res.FinalText) == "" {
		task.Status = models.TaskFailed
		task.Result = "worker produced no output"
	}
	span.End(ctx, models.TraceCompleted, firstChars(task.Result, 500))
}

// loadBootstrap reads workspace identity files into system messages.
func (r *Runner) loadBootstrap() []models.Message {
	var out []models.Message
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(r.workspaceDir, name))
		if err != nil {
			continue
		}
		if content := strings.TrimSpace(string(data)); content != "" {
			out = append(out, models.Message{Role: models.RoleSystem, Content: content})
		}
	}
	return out
}

func (r *Runner) send(handle, text string, logger *slog.Logger) {
	if r.messenger == nil {
		return
	}
	if _, err := r.messenger.SendMessage(context.Background(), handle, text); err != nil {
		logger.Warn("failed to send agent update", slog.Any("error", err))
	}
}

// mergedRegistry copies the global registry and adds the session tools
// under their own category.
func mergedRegistry(global *tools.Registry, sessionTools []tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range global.All() {
		reg.Register(t)
	}
	descriptions := global.Descriptions()
	for _, b := range global.Categories() {
		reg.BindCategory(b.Tag, descriptions[b.Tag], b.ToolNames...)
	}
	names := make([]string, 0, len(sessionTools))
	for _, t := range sessionTools {
		reg.Register(t)
		names = append(names, t.Name())
	}
	reg.BindCategory("session", "task plan management and user escalation", names...)
	return reg
}

func planProgress(plan *models.AgentPlan) (done, total int) {
	for i := range plan.Tasks {
		switch plan.Tasks[i].Status {
		case models.TaskDone, models.TaskFailed:
			done++
		}
	}
	return done, len(plan.Tasks)
}

func anyFailed(plan *models.AgentPlan) bool {
	for i := range plan.Tasks {
		if plan.Tasks[i].Status == models.TaskFailed {
			return true
		}
	}
	return false
}

func renderPlan(plan *models.AgentPlan) string {
	var b strings.Builder
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		mark := " "
		if t.Status == models.TaskDone {
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", t.ID, mark, t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
