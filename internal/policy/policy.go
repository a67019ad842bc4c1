// Package policy evaluates tool calls against operator-defined rules
// loaded from a YAML file. First match wins; anything unparsable fails
// secure to flag so a broken rules file cannot silently allow.
package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Action is the verdict of one rule. Closed enumeration; flag is the
// generic-policy spelling of the shell subsystem's ask.
type Action string

const (
	ActionAllow Action = "allow"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Rule is one declaration from the rules file.
type Rule struct {
	ID            string            `yaml:"id"`
	TargetTool    string            `yaml:"target_tool"`
	ArgumentMatch map[string]string `yaml:"argument_match"`
	Action        Action            `yaml:"action"`
	Reason        string            `yaml:"reason"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// compiledRule carries the pre-compiled argument regexps.
type compiledRule struct {
	Rule
	argRes map[string]*regexp.Regexp
}

// Verdict is the evaluation outcome for one tool call.
type Verdict struct {
	Action Action
	RuleID string
	Reason string
}

// Engine evaluates calls against an atomically-swappable ruleset.
type Engine struct {
	mu     sync.RWMutex
	rules  []compiledRule
	logger *slog.Logger
}

// NewEngine builds an engine with no rules: everything allows until a
// ruleset loads.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "policy")}
}

// LoadFile parses, validates and compiles path, then swaps the ruleset.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy rules: %w", err)
	}
	return e.Load(data)
}

// Load replaces the ruleset from YAML bytes.
func (e *Engine) Load(data []byte) error {
	if err := validateAgainstSchema(data); err != nil {
		return err
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse policy rules: %w", err)
	}
	compiled := make([]compiledRule, 0, len(file.Rules))
	for i, r := range file.Rules {
		if err := validateRule(&r); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, r.ID, err)
		}
		cr := compiledRule{Rule: r, argRes: make(map[string]*regexp.Regexp, len(r.ArgumentMatch))}
		for field, pattern := range r.ArgumentMatch {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("rule %s: field %s: invalid pattern: %w", r.ID, field, err)
			}
			cr.argRes[field] = re
		}
		compiled = append(compiled, cr)
	}
	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	e.logger.Info("policy rules loaded", slog.Int("rules", len(compiled)))
	return nil
}

func validateRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("missing id")
	}
	if r.TargetTool == "" {
		return fmt.Errorf("missing target_tool")
	}
	switch r.Action {
	case ActionAllow, ActionFlag, ActionBlock:
		return nil
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
}

// Evaluate runs the call through the rules in declaration order; the
// first matching rule decides. No match defaults to allow. Arguments
// that cannot be decoded fail secure to flag.
func (e *Engine) Evaluate(toolName string, input json.RawMessage) Verdict {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			e.logger.Warn("policy evaluation failed secure: undecodable arguments",
				slog.String("tool", toolName), slog.Any("error", err))
			return Verdict{Action: ActionFlag, Reason: "arguments could not be inspected"}
		}
	}

	for _, r := range rules {
		if r.TargetTool != toolName && r.TargetTool != "*" {
			continue
		}
		if matchesArgs(r.argRes, args) {
			return Verdict{Action: r.Action, RuleID: r.ID, Reason: r.Reason}
		}
	}
	return Verdict{Action: ActionAllow}
}

// matchesArgs requires every declared field pattern to match. A rule
// without argument_match matches any call to its target tool.
func matchesArgs(patterns map[string]*regexp.Regexp, args map[string]any) bool {
	for field, re := range patterns {
		val, ok := args[field]
		if !ok {
			return false
		}
		if !re.MatchString(fmt.Sprint(val)) {
			return false
		}
	}
	return true
}
