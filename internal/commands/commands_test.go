package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/agent"
	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/pkg/models"
)

func TestIsCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/cancel", true},
		{"  /status", true},
		{"hello", false},
		{"what is /cancel?", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCommand(tt.text); got != tt.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("ping", "reply pong", func(ctx context.Context, handle, args string) (string, error) {
		return "pong", nil
	})
	reply := r.Dispatch(context.Background(), "user1", "/frobnicate now")
	if !strings.Contains(reply, "Unknown command") || !strings.Contains(reply, "/ping") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchAlias(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("cancel", "", func(ctx context.Context, handle, args string) (string, error) {
		return "cancelled", nil
	}, "stop")
	if reply := r.Dispatch(context.Background(), "user1", "/stop"); reply != "cancelled" {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchPassesArgs(t *testing.T) {
	r := NewRegistry(nil)
	var got string
	r.Register("echo", "", func(ctx context.Context, handle, args string) (string, error) {
		got = args
		return "ok", nil
	})
	r.Dispatch(context.Background(), "user1", "/echo   fix the build  ")
	if got != "fix the build" {
		t.Errorf("args = %q", got)
	}
}

func TestCancelCommand(t *testing.T) {
	manager := agent.NewManager(nil, nil)
	coordinator := hitl.New(0, nil)
	r := DefaultRegistry(manager, nil, coordinator, nil)

	reply := r.Dispatch(context.Background(), "user1", "/cancel")
	if !strings.Contains(reply, "No active agent session") {
		t.Errorf("reply = %q", reply)
	}

	session, _, err := manager.Create("user1", "obj", 15, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	reply = r.Dispatch(context.Background(), "user1", "/cancel")
	if !strings.Contains(reply, "cancelled") {
		t.Errorf("reply = %q", reply)
	}
	if session.Status != models.SessionCancelled {
		t.Errorf("status = %s", session.Status)
	}
}

func TestApproveRejectCommands(t *testing.T) {
	manager := agent.NewManager(nil, nil)
	coordinator := hitl.New(0, nil)
	r := DefaultRegistry(manager, nil, coordinator, nil)

	reply := r.Dispatch(context.Background(), "user1", "/approve")
	if !strings.Contains(reply, "Nothing is waiting") {
		t.Errorf("reply = %q", reply)
	}
	reply = r.Dispatch(context.Background(), "user1", "/reject")
	if !strings.Contains(reply, "Nothing is waiting") {
		t.Errorf("reply = %q", reply)
	}
}

func TestStatusCommand(t *testing.T) {
	manager := agent.NewManager(nil, nil)
	r := DefaultRegistry(manager, nil, hitl.New(0, nil), nil)

	reply := r.Dispatch(context.Background(), "user1", "/status")
	if !strings.Contains(reply, "No agent session") {
		t.Errorf("reply = %q", reply)
	}

	session, mu, _ := manager.Create("user1", "tidy the repo", 15, nil)
	mu.Lock()
	session.TaskPlan = "1. [x] scan\n2. [ ] fix"
	session.Iteration = 2
	mu.Unlock()

	reply = r.Dispatch(context.Background(), "user1", "/status")
	for _, want := range []string{"running", "tidy the repo", "2/15", "[ ] fix"} {
		if !strings.Contains(reply, want) {
			t.Errorf("status reply missing %q: %q", want, reply)
		}
	}
}
