package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	ringSize          = 20
	repeatWarnCount   = 3
	repeatAbortCount  = 5
	pingPongMinLength = 4
)

// LoopVerdict is the outcome of one detector pass.
type LoopVerdict int

const (
	LoopNone LoopVerdict = iota
	LoopWarn
	LoopAbort
)

// loopDetector watches tool-call patterns across reactive rounds: a ring
// of the last 20 (tool, args-hash) entries feeds a repeat counter and an
// A-B alternation check.
type loopDetector struct {
	entries []string
	logger  *slog.Logger
}

func newLoopDetector(logger *slog.Logger, sessionID string) *loopDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &loopDetector{
		logger: logger.With("component", "agent", "session_id", sessionID),
	}
}

// Observe records the round's tool calls and returns the strongest
// verdict plus a warning message for the model when one applies.
func (d *loopDetector) Observe(calls []models.ToolCall) (LoopVerdict, string) {
	for _, c := range calls {
		d.entries = append(d.entries, fingerprint(c))
	}
	if len(d.entries) > ringSize {
		d.entries = d.entries[len(d.entries)-ringSize:]
	}

	counts := make(map[string]int, len(d.entries))
	for _, e := range d.entries {
		counts[e]++
	}
	for _, n := range counts {
		if n >= repeatAbortCount {
			d.logger.Warn("loop detected",
				slog.String("detector", "genericRepeat"), slog.String("action", "circuit_breaker"))
			return LoopAbort, ""
		}
	}
	for _, n := range counts {
		if n >= repeatWarnCount {
			d.logger.Warn("loop detected",
				slog.String("detector", "genericRepeat"), slog.String("action", "warn"))
			return LoopWarn, "You are repeating the same tool call with the same arguments. Change your approach or conclude with what you have."
		}
	}
	if d.pingPong() {
		d.logger.Warn("loop detected",
			slog.String("detector", "pingPong"), slog.String("action", "warn"))
		return LoopWarn, "You are alternating between two tool calls without progress. Break the cycle or conclude with what you have."
	}
	return LoopNone, ""
}

// pingPong reports a strict A-B-A-B tail of at least pingPongMinLength.
func (d *loopDetector) pingPong() bool {
	n := len(d.entries)
	if n < pingPongMinLength {
		return false
	}
	a, b := d.entries[n-2], d.entries[n-1]
	if a == b {
		return false
	}
	run := 0
	for i := n - 1; i >= 0; i-- {
		want := b
		if (n-1-i)%2 == 1 {
			want = a
		}
		if d.entries[i] != want {
			break
		}
		run++
	}
	return run >= pingPongMinLength
}

func fingerprint(c models.ToolCall) string {
	sum := sha256.Sum256(c.Input)
	return c.Name + ":" + hex.EncodeToString(sum[:8])
}
