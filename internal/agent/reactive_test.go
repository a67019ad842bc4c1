package agent

import (
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/pkg/models"
)

func TestInjectPlanMessageReplaces(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "base prompt"},
		{Role: models.RoleUser, Content: "objective"},
	}
	out := injectPlanMessage(messages, "1. [ ] do it", "")
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	out = injectPlanMessage(out, "1. [x] do it", "note")
	if len(out) != 3 {
		t.Fatalf("re-inject len = %d, want no duplicates", len(out))
	}
	last := out[len(out)-1]
	if !strings.Contains(last.Content, planMarker) || !strings.Contains(last.Content, "[x]") {
		t.Errorf("plan message = %q", last.Content)
	}
	if !strings.Contains(last.Content, "note") {
		t.Errorf("scratchpad missing: %q", last.Content)
	}
	if out[0].Content != "base prompt" {
		t.Error("base system message disturbed")
	}
}

func TestInjectPlanMessageEmpty(t *testing.T) {
	messages := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	out := injectPlanMessage(messages, "", "")
	if len(out) != 1 {
		t.Errorf("len = %d, want unchanged", len(out))
	}
}

func TestReactiveComplete(t *testing.T) {
	tests := []struct {
		name  string
		plan  string
		reply string
		want  bool
	}{
		{"open items", "1. [ ] a\n2. [x] b", "all tasks complete", false},
		{"all checked", "1. [x] a\n2. [x] b", "", true},
		{"no plan phrase hit", "", "The objective is complete.", true},
		{"no plan no phrase", "", "still working on it", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reactiveComplete(tt.plan, tt.reply); got != tt.want {
				t.Errorf("reactiveComplete = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScratchpadExtraction(t *testing.T) {
	reply := "Working.\n<scratchpad>tried A, next B</scratchpad>\nDone for now."
	if got := extractScratchpad(reply); got != "tried A, next B" {
		t.Errorf("extractScratchpad = %q", got)
	}
	if got := stripScratchpad(reply); strings.Contains(got, "scratchpad") {
		t.Errorf("stripScratchpad = %q", got)
	}
	if got := extractScratchpad("no pad here"); got != "" {
		t.Errorf("extractScratchpad = %q, want empty", got)
	}
}

func TestWorkerCategories(t *testing.T) {
	available := []string{"conversation", "selfcode", "evaluation", "notes", "debugging", "shell", "session"}

	coder := &models.TaskStep{WorkerType: models.WorkerCoder}
	got := workerCategories(coder, available)
	if len(got) != 2 || got[0] != "selfcode" || got[1] != "shell" {
		t.Errorf("coder categories = %v", got)
	}

	// Task hints are intersected with the worker allowance.
	reader := &models.TaskStep{WorkerType: models.WorkerReader, Tools: []string{"notes", "shell"}}
	got = workerCategories(reader, available)
	if len(got) != 1 || got[0] != "notes" {
		t.Errorf("reader categories = %v", got)
	}

	// general gets everything available.
	general := &models.TaskStep{WorkerType: models.WorkerGeneral}
	if got := workerCategories(general, available); len(got) != len(available) {
		t.Errorf("general categories = %v", got)
	}
}

func TestBuildWorkerPromptCarriesPriorResults(t *testing.T) {
	plan := &models.AgentPlan{
		Objective: "audit the repo",
		Tasks: []models.TaskStep{
			{ID: 1, Description: "read code", Status: models.TaskDone, Result: "found three packages"},
			{ID: 2, Description: "report", WorkerType: models.WorkerReporter, Status: models.TaskPending},
		},
	}
	prompt := buildWorkerPrompt(&plan.Tasks[1], plan)
	for _, want := range []string{"audit the repo", "report", "found three packages", "reporter"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRenderPlan(t *testing.T) {
	plan := &models.AgentPlan{Tasks: []models.TaskStep{
		{ID: 1, Description: "a", Status: models.TaskDone},
		{ID: 2, Description: "b", Status: models.TaskPending},
	}}
	got := renderPlan(plan)
	if got != "1. [x] a\n2. [ ] b" {
		t.Errorf("renderPlan = %q", got)
	}
}
