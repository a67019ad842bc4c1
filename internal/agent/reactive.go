package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/haasonsaas/sidekick/internal/executor"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// planMarker identifies the injected plan message so each round can
// replace it instead of stacking duplicates in history.
const planMarker = "== CURRENT TASK PLAN =="

var (
	scratchpadRe = regexp.MustCompile(`(?s)<scratchpad>(.*?)</scratchpad>`)

	completionPhrases = []string{
		"objective complete",
		"objective is complete",
		"all tasks complete",
		"all tasks are complete",
		"task is complete",
		"i have completed the objective",
		"nothing further to do",
	}
)

const reactivePrompt = `You are an autonomous agent working toward an objective over multiple rounds.

Each round you may call tools, update the task plan (create_task_plan, update_task_status) and record working notes inside <scratchpad>...</scratchpad> tags. Ask the user via request_user_approval only for destructive or ambiguous steps.

When every planned task is done, state clearly that the objective is complete.`

// reactive runs the fallback loop: no structured plan, just rounds of
// the tool loop with plan re-injection, scratchpad carry-over and loop
// detection.
func (r *Runner) reactive(ctx context.Context, session *models.AgentSession, mu *sync.Mutex, exec *executor.Executor, registry *tools.Registry, bootstrap []models.Message, persist *persister, logger *slog.Logger) (string, models.SessionStatus) {
	detector := newLoopDetector(logger, session.ID)
	categories := registry.CategoryTags()

	messages := append(append([]models.Message{}, bootstrap...),
		models.Message{Role: models.RoleSystem, Content: reactivePrompt},
		models.Message{Role: models.RoleUser, Content: "Objective: " + session.Objective},
	)

	var warning string
	var lastReply string

	for round := 1; round <= session.MaxIterations; round++ {
		if ctx.Err() != nil {
			return lastReply, models.SessionCancelled
		}
		mu.Lock()
		session.Iteration = round
		plan := session.TaskPlan
		scratchpad := session.Scratchpad
		mu.Unlock()

		messages = injectPlanMessage(messages, plan, scratchpad)
		if warning != "" {
			messages = append(messages, models.Message{Role: models.RoleSystem, Content: warning})
			warning = ""
		}

		res, err := exec.Run(ctx, r.llm, messages, categories,
			executor.Config{MaxIterations: executor.DefaultMaxIterations, MaxTools: r.maxTools},
			session.Handle, session.ID, "")
		if err != nil {
			return err.Error(), models.SessionFailed
		}
		messages = res.Messages
		lastReply = res.FinalText

		if pad := extractScratchpad(res.FinalText); pad != "" {
			mu.Lock()
			session.Scratchpad = pad
			mu.Unlock()
		}

		mu.Lock()
		plan = session.TaskPlan
		mu.Unlock()
		persist.Append(round, res.Iterations, res.ToolCalls, res.FinalText, plan)

		verdict, msg := detector.Observe(res.ToolCalls)
		switch verdict {
		case LoopAbort:
			return "aborted: the agent was stuck repeating the same actions", models.SessionFailed
		case LoopWarn:
			warning = msg
		}

		if reactiveComplete(plan, res.FinalText) {
			logger.Info("reactive session complete", slog.Int("rounds", round))
			return stripScratchpad(res.FinalText), models.SessionCompleted
		}
	}
	return fmt.Sprintf("reached the iteration limit (%d rounds). Last state: %s",
		session.MaxIterations, firstChars(stripScratchpad(lastReply), 300)), models.SessionFailed
}

// injectPlanMessage replaces (or appends) the dedicated plan system
// message for the next round.
func injectPlanMessage(messages []models.Message, plan, scratchpad string) []models.Message {
	filtered := messages[:0:0]
	for _, m := range messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, planMarker) {
			continue
		}
		filtered = append(filtered, m)
	}
	if plan == "" && scratchpad == "" {
		return filtered
	}
	var b strings.Builder
	b.WriteString(planMarker + "\n")
	if plan != "" {
		b.WriteString(plan + "\n")
	}
	if scratchpad != "" {
		b.WriteString("\nScratchpad:\n" + scratchpad)
	}
	return append(filtered, models.Message{Role: models.RoleSystem, Content: strings.TrimRight(b.String(), "\n")})
}

// reactiveComplete applies the deterministic check first: a plan with no
// open items means done. Without a plan, fall back to phrase scanning.
func reactiveComplete(plan, reply string) bool {
	if plan != "" {
		return !strings.Contains(plan, "[ ]")
	}
	lower := strings.ToLower(reply)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func extractScratchpad(reply string) string {
	if m := scratchpadRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func stripScratchpad(reply string) string {
	return strings.TrimSpace(scratchpadRe.ReplaceAllString(reply, ""))
}
