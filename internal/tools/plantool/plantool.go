// Package plantool provides the session-scoped tools registered for each
// agent run: task-plan management and the human-escalation tool. Every
// tool closes over one session; a shared mutex serializes plan mutations
// against the reactive loop.
package plantool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// CreatePlanArgs are the create_task_plan parameters.
type CreatePlanArgs struct {
	Tasks []string `json:"tasks" jsonschema:"description=Ordered list of task descriptions."`
}

// UpdateStatusArgs are the update_task_status parameters.
type UpdateStatusArgs struct {
	TaskNumber int    `json:"task_number" jsonschema:"description=1-based task number."`
	Status     string `json:"status" jsonschema:"description=New status: done or pending.,enum=done,enum=pending"`
}

// ApprovalArgs are the request_user_approval parameters.
type ApprovalArgs struct {
	Question string `json:"question" jsonschema:"description=The question to put to the user."`
}

// Tools builds the session-scoped tool set. mu guards the session fields
// shared with the agent loop; coordinator and messenger may be nil, in
// which case request_user_approval reports escalation as unavailable.
func Tools(session *models.AgentSession, mu *sync.Mutex, coordinator *hitl.Coordinator, messenger hitl.Messenger, logger *slog.Logger) []tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &planTools{
		session:     session,
		mu:          mu,
		coordinator: coordinator,
		messenger:   messenger,
		logger:      logger.With("component", "plantool", "session_id", session.ID),
	}
	return []tools.Tool{
		tools.NewFunc("create_task_plan",
			"Create or replace the task plan for the current objective as an ordered checklist.",
			tools.SchemaFor(&CreatePlanArgs{}), p.createPlan),
		tools.NewFunc("get_task_plan",
			"Return the current task plan with each task's completion state.",
			json.RawMessage(`{"type":"object","properties":{}}`), p.getPlan),
		tools.NewFunc("update_task_status",
			"Mark a task in the plan as done or pending by its number.",
			tools.SchemaFor(&UpdateStatusArgs{}), p.updateStatus),
		tools.NewFunc("request_user_approval",
			"Ask the user a yes/no question and wait for their reply. Use sparingly, for destructive or ambiguous steps.",
			tools.SchemaFor(&ApprovalArgs{}), p.requestApproval),
	}
}

type planTools struct {
	session     *models.AgentSession
	mu          *sync.Mutex
	coordinator *hitl.Coordinator
	messenger   hitl.Messenger
	logger      *slog.Logger
}

func (p *planTools) createPlan(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args CreatePlanArgs
	if err := json.Unmarshal(input, &args); err != nil || len(args.Tasks) == 0 {
		return &models.ToolResult{IsError: true, Content: "create_task_plan requires a non-empty tasks list"}, nil
	}
	var b strings.Builder
	for i, task := range args.Tasks {
		fmt.Fprintf(&b, "%d. [ ] %s\n", i+1, strings.TrimSpace(task))
	}
	plan := strings.TrimRight(b.String(), "\n")

	p.mu.Lock()
	p.session.TaskPlan = plan
	p.mu.Unlock()

	p.logger.Info("task plan created", slog.Int("tasks", len(args.Tasks)))
	return &models.ToolResult{Content: "Task plan created:\n" + plan}, nil
}

func (p *planTools) getPlan(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	p.mu.Lock()
	plan := p.session.TaskPlan
	p.mu.Unlock()
	if plan == "" {
		return &models.ToolResult{Content: "No task plan yet. Use create_task_plan first."}, nil
	}
	return &models.ToolResult{Content: plan}, nil
}

func (p *planTools) updateStatus(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args UpdateStatusArgs
	if err := json.Unmarshal(input, &args); err != nil || args.TaskNumber < 1 {
		return &models.ToolResult{IsError: true, Content: "update_task_status requires a 1-based task_number"}, nil
	}
	marker := "[ ]"
	if args.Status == "done" {
		marker = "[x]"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	lines := strings.Split(p.session.TaskPlan, "\n")
	prefix := fmt.Sprintf("%d. ", args.TaskNumber)
	for i, line := range lines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		if strings.Contains(line, "[ ]") {
			lines[i] = strings.Replace(line, "[ ]", marker, 1)
		} else {
			lines[i] = strings.Replace(line, "[x]", marker, 1)
		}
		p.session.TaskPlan = strings.Join(lines, "\n")
		return &models.ToolResult{Content: fmt.Sprintf("Task %d marked %s.", args.TaskNumber, args.Status)}, nil
	}
	return &models.ToolResult{IsError: true,
		Content: fmt.Sprintf("task %d not found in plan", args.TaskNumber)}, nil
}

func (p *planTools) requestApproval(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args ApprovalArgs
	if err := json.Unmarshal(input, &args); err != nil || strings.TrimSpace(args.Question) == "" {
		return &models.ToolResult{IsError: true, Content: "request_user_approval requires a question"}, nil
	}
	if p.coordinator == nil || p.messenger == nil {
		return &models.ToolResult{IsError: true, Content: "human escalation is not available"}, nil
	}

	p.mu.Lock()
	prev := p.session.Status
	p.session.Status = models.SessionWaitingUser
	p.mu.Unlock()

	answer := p.coordinator.RequestUserApproval(ctx, p.session.Handle, args.Question, p.messenger)

	p.mu.Lock()
	// Only step back to the previous state if nothing terminal happened
	// while we were suspended (e.g. /cancel).
	if p.session.Status == models.SessionWaitingUser {
		p.session.Status = prev
	}
	p.mu.Unlock()

	if answer == hitl.Timeout {
		return &models.ToolResult{Content: "The user did not respond in time. Proceed cautiously or skip this step."}, nil
	}
	return &models.ToolResult{Content: "User replied: " + answer}, nil
}
