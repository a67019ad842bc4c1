package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// WorkerToolSets maps each worker type to the tool categories it may
// request. The general worker gets everything the registry offers.
var WorkerToolSets = map[models.WorkerType][]string{
	models.WorkerReader:   {"conversation", "selfcode", "evaluation", "notes", "debugging"},
	models.WorkerAnalyzer: {"evaluation", "selfcode", "debugging"},
	models.WorkerCoder:    {"selfcode", "shell"},
	models.WorkerReporter: {"evaluation", "notes", "debugging"},
	models.WorkerGeneral:  nil, // all
}

// workerCategories resolves the categories for a task: the task's own
// hints intersected with the worker's allowance, falling back to the
// full allowance, then to everything.
func workerCategories(task *models.TaskStep, available []string) []string {
	allowed := WorkerToolSets[task.WorkerType]
	if allowed == nil {
		allowed = available
	}
	if len(task.Tools) == 0 {
		return intersect(allowed, available)
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		allowedSet[c] = true
	}
	var out []string
	for _, c := range task.Tools {
		if allowedSet[c] && contains(available, c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return intersect(allowed, available)
	}
	return out
}

// buildWorkerPrompt frames one task for its worker, carrying the
// objective and every prior result forward.
func buildWorkerPrompt(task *models.TaskStep, plan *models.AgentPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s worker executing one task of a larger plan.\n\n", task.WorkerType)
	fmt.Fprintf(&b, "Overall objective: %s\n", plan.Objective)
	if plan.ContextSummary != "" {
		fmt.Fprintf(&b, "Context: %s\n", plan.ContextSummary)
	}
	fmt.Fprintf(&b, "\nYour task (%d of %d): %s\n", task.ID, len(plan.Tasks), task.Description)

	var prior []string
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if t.ID != task.ID && t.Status == models.TaskDone && t.Result != "" {
			prior = append(prior, fmt.Sprintf("Task %d (%s):\n%s", t.ID, t.Description, firstChars(t.Result, 1500)))
		}
	}
	if len(prior) > 0 {
		b.WriteString("\nResults from earlier tasks:\n" + strings.Join(prior, "\n\n") + "\n")
	}
	b.WriteString("\nComplete only your task. Finish with a concise result another worker can build on.")
	return b.String()
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
