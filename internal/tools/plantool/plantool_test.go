package plantool

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) SendMessage(ctx context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return "msg-1", nil
}

func newSurface(session *models.AgentSession, coordinator *hitl.Coordinator, messenger hitl.Messenger) (map[string]tools.Tool, *sync.Mutex) {
	mu := &sync.Mutex{}
	out := make(map[string]tools.Tool)
	for _, tool := range Tools(session, mu, coordinator, messenger, nil) {
		out[tool.Name()] = tool
	}
	return out, mu
}

func TestPlanLifecycle(t *testing.T) {
	session := &models.AgentSession{ID: "s1", Handle: "user1", Status: models.SessionRunning}
	surface, _ := newSurface(session, nil, nil)
	ctx := context.Background()

	res, err := surface["create_task_plan"].Execute(ctx,
		json.RawMessage(`{"tasks":["read the file","summarize it"]}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.IsError {
		t.Fatalf("create failed: %s", res.Content)
	}
	if !strings.Contains(session.TaskPlan, "1. [ ] read the file") ||
		!strings.Contains(session.TaskPlan, "2. [ ] summarize it") {
		t.Fatalf("plan = %q", session.TaskPlan)
	}

	res, err = surface["update_task_status"].Execute(ctx,
		json.RawMessage(`{"task_number":1,"status":"done"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.IsError {
		t.Fatalf("update failed: %s", res.Content)
	}
	if !strings.Contains(session.TaskPlan, "1. [x] read the file") {
		t.Errorf("plan after update = %q", session.TaskPlan)
	}
	if !strings.Contains(session.TaskPlan, "2. [ ] summarize it") {
		t.Errorf("task 2 must stay pending: %q", session.TaskPlan)
	}

	get, err := surface["get_task_plan"].Execute(ctx, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if get.Content != session.TaskPlan {
		t.Errorf("get_task_plan = %q", get.Content)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	session := &models.AgentSession{ID: "s1", Handle: "user1", TaskPlan: "1. [ ] only task"}
	surface, _ := newSurface(session, nil, nil)

	res, err := surface["update_task_status"].Execute(context.Background(),
		json.RawMessage(`{"task_number":7,"status":"done"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.IsError {
		t.Error("unknown task must be an error result")
	}
}

func TestGetPlanEmpty(t *testing.T) {
	session := &models.AgentSession{ID: "s1", Handle: "user1"}
	surface, _ := newSurface(session, nil, nil)

	res, err := surface["get_task_plan"].Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(res.Content, "No task plan") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRequestApprovalRoundTrip(t *testing.T) {
	session := &models.AgentSession{ID: "s1", Handle: "user1", Status: models.SessionRunning}
	coordinator := hitl.New(0, nil)
	messenger := &fakeMessenger{}
	surface, mu := newSurface(session, coordinator, messenger)

	done := make(chan *models.ToolResult, 1)
	go func() {
		res, _ := surface["request_user_approval"].Execute(context.Background(),
			json.RawMessage(`{"question":"Delete the branch?"}`))
		done <- res
	}()

	// Wait until the question went out and the session suspended.
	deadline := time.After(2 * time.Second)
	for {
		if coordinator.Pending("user1") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("approval request never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	if session.Status != models.SessionWaitingUser {
		t.Errorf("status during wait = %s", session.Status)
	}
	mu.Unlock()

	if !coordinator.Resolve("user1", "yes") {
		t.Fatal("Resolve returned false")
	}

	res := <-done
	if !strings.Contains(res.Content, "yes") {
		t.Errorf("result = %q", res.Content)
	}
	mu.Lock()
	if session.Status != models.SessionRunning {
		t.Errorf("status after resume = %s", session.Status)
	}
	mu.Unlock()

	messenger.mu.Lock()
	defer messenger.mu.Unlock()
	if len(messenger.sent) != 1 || !strings.Contains(messenger.sent[0], "Delete the branch?") {
		t.Errorf("sent = %v", messenger.sent)
	}
}

func TestRequestApprovalUnavailable(t *testing.T) {
	session := &models.AgentSession{ID: "s1", Handle: "user1"}
	surface, _ := newSurface(session, nil, nil)

	res, err := surface["request_user_approval"].Execute(context.Background(),
		json.RawMessage(`{"question":"ok?"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("missing coordinator must be an error result")
	}
}
