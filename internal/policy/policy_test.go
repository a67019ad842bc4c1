package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const rulesYAML = `
rules:
  - id: block-destructive-shell
    target_tool: run_command
    argument_match:
      command: "rm\\s+-rf|mkfs|dd\\s+if="
    action: block
    reason: destructive command
  - id: flag-all-shell
    target_tool: run_command
    action: flag
    reason: shell needs approval
  - id: allow-memory
    target_tool: add_memory
    action: allow
`

func loadedEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(nil)
	if err := e.Load([]byte(rulesYAML)); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestFirstMatchWins(t *testing.T) {
	e := loadedEngine(t)

	v := e.Evaluate("run_command", json.RawMessage(`{"command":"rm -rf /"}`))
	if v.Action != ActionBlock || v.RuleID != "block-destructive-shell" {
		t.Errorf("verdict = %+v, want block by block-destructive-shell", v)
	}

	v = e.Evaluate("run_command", json.RawMessage(`{"command":"ls"}`))
	if v.Action != ActionFlag || v.RuleID != "flag-all-shell" {
		t.Errorf("verdict = %+v, want flag by flag-all-shell", v)
	}
}

func TestNoMatchDefaultsToAllow(t *testing.T) {
	e := loadedEngine(t)
	v := e.Evaluate("fetch_url", json.RawMessage(`{"url":"https://example.com"}`))
	if v.Action != ActionAllow || v.RuleID != "" {
		t.Errorf("verdict = %+v, want default allow", v)
	}
}

func TestUndecodableArgumentsFailSecure(t *testing.T) {
	e := loadedEngine(t)
	v := e.Evaluate("run_command", json.RawMessage(`not json at all`))
	if v.Action != ActionFlag {
		t.Errorf("verdict = %+v, want flag (fail-secure)", v)
	}
}

func TestInvalidRulesRejected(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad action", "rules:\n  - id: x\n    target_tool: t\n    action: maybe\n"},
		{"missing id", "rules:\n  - target_tool: t\n    action: allow\n"},
		{"bad regexp", "rules:\n  - id: x\n    target_tool: t\n    action: allow\n    argument_match:\n      f: '['\n"},
		{"not yaml", "{{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil)
			if err := e.Load([]byte(tt.yaml)); err == nil {
				t.Error("invalid ruleset accepted")
			}
		})
	}
}

func TestFailedReloadKeepsPreviousRules(t *testing.T) {
	e := loadedEngine(t)
	if err := e.Load([]byte("{{{")); err == nil {
		t.Fatal("garbage accepted")
	}
	v := e.Evaluate("run_command", json.RawMessage(`{"command":"ls"}`))
	if v.Action != ActionFlag {
		t.Errorf("previous ruleset lost after failed load: %+v", v)
	}
}

func TestWildcardTarget(t *testing.T) {
	e := NewEngine(nil)
	err := e.Load([]byte("rules:\n  - id: flag-everything\n    target_tool: '*'\n    action: flag\n"))
	if err != nil {
		t.Fatal(err)
	}
	if v := e.Evaluate("anything", nil); v.Action != ActionFlag {
		t.Errorf("wildcard rule did not match: %+v", v)
	}
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(rulesYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(nil)
	if err := e.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Watch(ctx, path); err != nil {
		t.Fatal(err)
	}

	updated := "rules:\n  - id: allow-shell-now\n    target_tool: run_command\n    action: allow\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		v := e.Evaluate("run_command", json.RawMessage(`{"command":"ls"}`))
		if v.Action == ActionAllow && v.RuleID == "allow-shell-now" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("hot reload never applied")
}
