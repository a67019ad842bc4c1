package policy

import (
	"encoding/json"

	"github.com/haasonsaas/sidekick/internal/shell"
)

// Gate is the combined verdict source the executor consults for every
// regular tool call. Shell validation runs first for command tools; the
// rule engine covers everything, including shell calls the validator
// would allow.
type Gate struct {
	engine *Engine
	shell  *shell.Validator
}

// NewGate combines a rule engine with an optional shell validator.
func NewGate(engine *Engine, shellValidator *shell.Validator) *Gate {
	return &Gate{engine: engine, shell: shellValidator}
}

// shellCommandArgs extracts the command string of a shell tool call.
type shellCommandArgs struct {
	Command string `json:"command"`
}

// Evaluate returns the verdict for one tool call. A nil Gate allows.
func (g *Gate) Evaluate(toolName string, input json.RawMessage) Verdict {
	if g == nil {
		return Verdict{Action: ActionAllow}
	}
	if g.shell != nil && toolName == "run_command" {
		var args shellCommandArgs
		if err := json.Unmarshal(input, &args); err != nil || args.Command == "" {
			return Verdict{Action: ActionBlock, Reason: "command argument missing or unreadable"}
		}
		decision, reason := g.shell.Validate(args.Command)
		switch decision {
		case shell.DecisionDeny:
			return Verdict{Action: ActionBlock, RuleID: "shell-validation", Reason: reason}
		case shell.DecisionAsk:
			return Verdict{Action: ActionFlag, RuleID: "shell-validation", Reason: reason}
		}
	}
	if g.engine == nil {
		return Verdict{Action: ActionAllow}
	}
	return g.engine.Evaluate(toolName, input)
}
