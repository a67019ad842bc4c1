package guardrails

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/tracing"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Config mirrors the guardrails section of the runtime configuration.
type Config struct {
	Enabled    bool
	LLMChecks  bool
	LLMTimeout time.Duration
}

// Pipeline runs every configured check over an outbound reply and emits
// one score per check into the trace.
type Pipeline struct {
	cfg     Config
	llm     llm.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New builds the guardrails pipeline. client may be nil when LLM checks
// are disabled.
func New(cfg Config, client llm.Client, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 3 * time.Second
	}
	return &Pipeline{cfg: cfg, llm: client, metrics: metrics, logger: logger.With("component", "guardrails")}
}

// Evaluate runs all checks. Each check is individually recovered: an
// internal panic or error counts as a pass (fail-open). Scores land on
// the trace regardless of outcome.
func (p *Pipeline) Evaluate(ctx context.Context, in Input, tc *tracing.TraceContext) []Result {
	if !p.cfg.Enabled {
		return nil
	}
	checks := []func(Input) Result{
		checkNotEmpty,
		checkExcessiveLength,
		checkNoRawToolJSON,
		checkLanguageMatch,
		checkNoPII,
	}
	var results []Result
	for _, check := range checks {
		results = append(results, p.safeRun(check, in))
	}
	if p.cfg.LLMChecks && p.llm != nil {
		if in.ToolsUsed {
			results = append(results, p.llmCheck(ctx, CheckToolCoherence, toolCoherencePrompt(in)))
		}
		results = append(results, p.llmCheck(ctx, CheckHallucination, hallucinationPrompt(in)))
	}
	for _, r := range results {
		value := 0.0
		outcome := "fail"
		if r.Passed {
			value = 1.0
			outcome = "pass"
		}
		source := models.ScoreSourceSystem
		if r.Check == CheckToolCoherence || r.Check == CheckHallucination {
			source = models.ScoreSourceLLMJudge
		}
		tc.Score(ctx, string(r.Check), value, source, r.Detail)
		p.metrics.ObserveGuardrail(string(r.Check), outcome)
	}
	return results
}

// FirstFailure returns the first failed result, or nil when all passed.
func FirstFailure(results []Result) *Result {
	for i := range results {
		if !results[i].Passed {
			return &results[i]
		}
	}
	return nil
}

func (p *Pipeline) safeRun(check func(Input) Result, in Input) (r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("guardrail check panicked", slog.Any("panic", rec))
			r.Passed = true
		}
	}()
	return check(in)
}

// llmCheck asks a binary yes/no question with a short timeout. A timeout
// or call failure counts as a pass.
func (p *Pipeline) llmCheck(ctx context.Context, name CheckName, prompt string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	reply, _, err := p.llm.Chat(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, false)
	if err != nil {
		p.logger.Warn("LLM guardrail check failed open",
			slog.String("check", string(name)), slog.Any("error", err))
		return Result{Check: name, Passed: true}
	}
	answer := strings.ToLower(strings.TrimSpace(reply))
	passed := strings.HasPrefix(answer, "yes")
	detail := ""
	if !passed {
		detail = "judge answered: " + firstLine(answer)
	}
	return Result{Check: name, Passed: passed, Detail: detail}
}

func toolCoherencePrompt(in Input) string {
	return `The assistant used tools to answer. Is the reply coherent with a tool-assisted answer to the request? Answer only "yes" or "no".

Request: ` + in.UserText + `

Reply: ` + in.Reply
}

func hallucinationPrompt(in Input) string {
	return `Does the reply avoid inventing facts not supported by the request or common knowledge? Answer only "yes" or "no".

Request: ` + in.UserText + `

Reply: ` + in.Reply
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
