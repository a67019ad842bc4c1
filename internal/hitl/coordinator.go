// Package hitl implements the human-in-the-loop rendezvous: an agent-side
// suspension point that waits for the next user message on its handle.
package hitl

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Timeout is the sentinel returned when no answer arrives in time.
const Timeout = "TIMEOUT"

// DefaultTimeout bounds how long an approval request blocks its session.
const DefaultTimeout = 120 * time.Second

// Messenger sends the approval question to the user. Satisfied by the
// channels.MessagingClient.
type Messenger interface {
	SendMessage(ctx context.Context, to, text string) (string, error)
}

// Coordinator holds at most one pending request per handle. The
// dispatcher consults Resolve before any pipeline work, so a pending
// request always outranks a new conversation turn.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]chan string
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a coordinator. timeout <= 0 selects the default 120s.
func New(timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		pending: make(map[string]chan string),
		timeout: timeout,
		logger:  logger.With("component", "hitl"),
	}
}

// Pending reports whether a request is waiting on handle.
func (c *Coordinator) Pending(handle string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[handle]
	return ok
}

// RequestUserApproval sends question to the user and blocks until the next
// message for the handle arrives, the timeout fires, or ctx is cancelled.
// Timeout returns the "TIMEOUT" sentinel; the caller decides what that
// means. Only one request per handle may be outstanding.
func (c *Coordinator) RequestUserApproval(ctx context.Context, handle, question string, messenger Messenger) string {
	slot := make(chan string, 1)

	c.mu.Lock()
	if _, exists := c.pending[handle]; exists {
		c.mu.Unlock()
		// One session per handle makes this unreachable in practice;
		// refuse rather than corrupt the live rendezvous.
		c.logger.Warn("approval request while one is pending", slog.String("handle", handle))
		return Timeout
	}
	c.pending[handle] = slot
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, handle)
		c.mu.Unlock()
	}()

	if _, err := messenger.SendMessage(ctx, handle, question); err != nil {
		c.logger.Warn("failed to send approval question",
			slog.String("handle", handle), slog.Any("error", err))
		return Timeout
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case answer := <-slot:
		return answer
	case <-timer.C:
		c.logger.Warn("approval request timed out", slog.String("handle", handle))
		return Timeout
	case <-ctx.Done():
		return Timeout
	}
}

// Resolve deposits text into the pending request for handle. It returns
// true when the message was consumed by a waiting request; false tells
// the dispatcher to run the normal pipeline.
func (c *Coordinator) Resolve(handle, text string) bool {
	c.mu.Lock()
	slot, ok := c.pending[handle]
	if ok {
		// Consume the slot so a second message falls through to the
		// pipeline instead of racing the waiter.
		delete(c.pending, handle)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	slot <- text
	return true
}
