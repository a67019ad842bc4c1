package models

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of an agent session.
type SessionStatus string

const (
	SessionRunning     SessionStatus = "running"
	SessionWaitingUser SessionStatus = "waiting_user"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionCancelled   SessionStatus = "cancelled"
)

// IsTerminal reports whether the session can no longer make progress.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// WorkerType selects the tool surface and prompt framing for a plan task.
type WorkerType string

const (
	WorkerReader   WorkerType = "reader"
	WorkerAnalyzer WorkerType = "analyzer"
	WorkerCoder    WorkerType = "coder"
	WorkerReporter WorkerType = "reporter"
	WorkerGeneral  WorkerType = "general"
)

// ParseWorkerType normalizes a planner-provided worker type, falling back
// to general for anything unrecognized.
func ParseWorkerType(s string) WorkerType {
	switch WorkerType(s) {
	case WorkerReader, WorkerAnalyzer, WorkerCoder, WorkerReporter, WorkerGeneral:
		return WorkerType(s)
	}
	return WorkerGeneral
}

// TaskStatus is the lifecycle state of one plan task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// MaxReplans caps how many times a plan may be rebuilt after task failures.
const MaxReplans = 3

// AgentSession is a background autonomous execution bound to one objective.
// At most one non-terminal session exists per handle.
type AgentSession struct {
	ID            string        `json:"session_id"`
	Handle        string        `json:"handle"`
	Objective     string        `json:"objective"`
	Status        SessionStatus `json:"status"`
	Iteration     int           `json:"iteration"`
	MaxIterations int           `json:"max_iterations"`
	StartedAt     time.Time     `json:"started_at"`
	TaskPlan      string        `json:"task_plan,omitempty"`
	Scratchpad    string        `json:"scratchpad,omitempty"`
	Plan          *AgentPlan    `json:"plan,omitempty"`
}

// AgentPlan is the structured decomposition of an objective.
type AgentPlan struct {
	Objective      string     `json:"objective"`
	ContextSummary string     `json:"context_summary,omitempty"`
	Tasks          []TaskStep `json:"tasks"`
	Replans        int        `json:"replans"`
}

// TaskStep is one unit of plan work, executed by a typed worker.
type TaskStep struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	WorkerType  WorkerType `json:"worker_type"`
	Tools       []string   `json:"tools,omitempty"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	DependsOn   []int      `json:"depends_on,omitempty"`
}

// Validate checks plan structural invariants: 1-based contiguous task ids
// and dependencies that reference earlier tasks only.
func (p *AgentPlan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	seen := make(map[int]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.ID != i+1 {
			return fmt.Errorf("task %d: expected id %d", t.ID, i+1)
		}
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %d: depends on unknown or later task %d", t.ID, dep)
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// Done reports whether every task reached a terminal task state.
func (p *AgentPlan) Done() bool {
	for i := range p.Tasks {
		switch p.Tasks[i].Status {
		case TaskDone, TaskFailed:
		default:
			return false
		}
	}
	return true
}

// NextRunnable returns the first pending task whose dependencies are all
// done, or nil when nothing is runnable.
func (p *AgentPlan) NextRunnable() *TaskStep {
	done := make(map[int]bool, len(p.Tasks))
	for i := range p.Tasks {
		if p.Tasks[i].Status == TaskDone {
			done[p.Tasks[i].ID] = true
		}
	}
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.Status != TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return t
		}
	}
	return nil
}
