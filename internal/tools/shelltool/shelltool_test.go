package shelltool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/shell"
	"github.com/haasonsaas/sidekick/internal/tools"
)

func newSurface(t *testing.T, writeEnabled bool) map[string]tools.Tool {
	t.Helper()
	runner := shell.NewRunner(t.TempDir())
	registry := shell.NewRegistry(runner, nil, nil)
	t.Cleanup(registry.Shutdown)

	out := make(map[string]tools.Tool)
	for _, tool := range Tools(runner, registry, writeEnabled, nil) {
		out[tool.Name()] = tool
	}
	return out
}

func TestRunCommandSynchronous(t *testing.T) {
	surface := newSurface(t, true)
	res, err := surface["run_command"].Execute(context.Background(),
		json.RawMessage(`{"command":"echo hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "hello") {
		t.Errorf("output = %q", res.Content)
	}
}

func TestRunCommandWriteDisabled(t *testing.T) {
	surface := newSurface(t, false)
	res, err := surface["run_command"].Execute(context.Background(),
		json.RawMessage(`{"command":"echo hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result with write disabled")
	}
	if !strings.Contains(res.Content, "disabled") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRunCommandNonZeroExit(t *testing.T) {
	surface := newSurface(t, true)
	res, err := surface["run_command"].Execute(context.Background(),
		json.RawMessage(`{"command":"false"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("non-zero exit must be an error result")
	}
	if !strings.Contains(res.Content, "[exit code 1]") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestBackgroundLifecycle(t *testing.T) {
	surface := newSurface(t, true)
	ctx := tools.WithHandle(context.Background(), "user1")

	res, err := surface["run_command"].Execute(ctx,
		json.RawMessage(`{"command":"sleep 5","background":true}`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.IsError {
		t.Fatalf("start failed: %s", res.Content)
	}

	list, err := surface["manage_process"].Execute(ctx, json.RawMessage(`{"action":"list"}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(list.Content, "running") || !strings.Contains(list.Content, "sleep 5") {
		t.Errorf("list = %q", list.Content)
	}
	// The id is the first field of the list line.
	id := strings.Fields(list.Content)[0]

	kill, err := surface["manage_process"].Execute(ctx,
		json.RawMessage(`{"action":"kill","process_id":"`+id+`"}`))
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if kill.IsError {
		t.Errorf("kill failed: %s", kill.Content)
	}

	poll, err := surface["manage_process"].Execute(ctx,
		json.RawMessage(`{"action":"poll","process_id":"`+id+`"}`))
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !strings.Contains(poll.Content, "exited") {
		t.Errorf("poll after kill = %q", poll.Content)
	}
}

func TestManageProcessUnknownAction(t *testing.T) {
	surface := newSurface(t, true)
	res, err := surface["manage_process"].Execute(context.Background(),
		json.RawMessage(`{"action":"restart"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("unknown action must be an error result")
	}
}

func TestManageProcessUnknownID(t *testing.T) {
	surface := newSurface(t, true)
	res, err := surface["manage_process"].Execute(context.Background(),
		json.RawMessage(`{"action":"poll","process_id":"nope"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("unknown id must be an error result")
	}
}
