package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// StripReasoning removes <think>…</think> blocks from a completion,
// including an unterminated trailing block. Reasoning traces must never
// reach conversation history: they poison later iterations and can leak
// to the user.
func StripReasoning(s string) string {
	if !strings.Contains(s, thinkOpen) {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, thinkOpen)
		if start < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:start])
		rest := s[start+len(thinkOpen):]
		end := strings.Index(rest, thinkClose)
		if end < 0 {
			// Unterminated block: drop the tail.
			break
		}
		s = rest[end+len(thinkClose):]
	}
	return strings.TrimSpace(b.String())
}
