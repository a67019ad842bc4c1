// Package shell runs policy-gated commands: validation without a shell,
// sandboxed synchronous execution and a background process registry with
// incremental polling and garbage collection.
package shell

import (
	"fmt"
	"strings"
)

// Decision is the validation verdict for one command line.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// denylist are base commands that never run, no matter who asks.
var denylist = map[string]bool{
	"rm": true, "sudo": true, "chmod": true, "chown": true, "mkfs": true,
	"dd": true, "shutdown": true, "reboot": true, "systemctl": true,
	"mount": true, "umount": true,
}

// dangerousPatterns match destructive intent anywhere in the raw string,
// catching forms the tokenizer would miss.
var dangerousPatterns = []string{
	"rm -rf", "rm -fr", "> /dev/", ":(){", "/etc/passwd", "/etc/shadow",
	"mkfs.", "dd if=",
}

// shellOperators force a human decision: pipes and substitution can turn
// an allowed base command into anything.
var shellOperators = []string{"|", ">>", ">", "<", "&&", "||", ";", "$(", "`", "&"}

// DefaultAllowlist covers common read-only and developer commands. The
// configured allowlist replaces it when non-empty.
var DefaultAllowlist = []string{
	"pytest", "ruff", "mypy", "make", "npm", "pip", "git", "cat", "head",
	"tail", "wc", "ls", "find", "grep", "echo", "python", "python3",
	"node", "go", "pwd", "which", "date", "env", "du", "df", "uname", "sort", "uniq",
}

// Validator classifies command lines into allow, deny or ask.
type Validator struct {
	allowlist map[string]bool
}

// NewValidator builds a validator over the allowed base commands; an
// empty list selects DefaultAllowlist.
func NewValidator(allowlist []string) *Validator {
	if len(allowlist) == 0 {
		allowlist = DefaultAllowlist
	}
	set := make(map[string]bool, len(allowlist))
	for _, cmd := range allowlist {
		set[strings.ToLower(cmd)] = true
	}
	return &Validator{allowlist: set}
}

// Validate classifies one command line. The order is fixed: tokenize,
// deny, ask on operators, allow, ask as the default.
func (v *Validator) Validate(command string) (Decision, string) {
	tokens, err := Tokenize(command)
	if err != nil || len(tokens) == 0 {
		return DecisionDeny, "command could not be parsed"
	}
	base := baseToken(tokens[0])

	if denylist[base] {
		return DecisionDeny, fmt.Sprintf("%s is not allowed", base)
	}
	lower := strings.ToLower(command)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return DecisionDeny, fmt.Sprintf("dangerous pattern %q", pattern)
		}
	}
	for _, op := range shellOperators {
		if strings.Contains(command, op) {
			return DecisionAsk, fmt.Sprintf("shell operator %q requires approval", op)
		}
	}
	if v.allowlist[base] {
		return DecisionAllow, ""
	}
	return DecisionAsk, fmt.Sprintf("%s is not on the allowlist", base)
}

// Tokenize splits a command line respecting single and double quotes,
// without invoking a shell. Unterminated quotes are an error.
func Tokenize(command string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	var quote rune
	inToken := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// baseToken strips any path prefix so /usr/bin/rm and rm classify alike.
func baseToken(token string) string {
	token = strings.ToLower(token)
	if i := strings.LastIndexByte(token, '/'); i >= 0 {
		token = token[i+1:]
	}
	return token
}
