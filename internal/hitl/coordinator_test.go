package hitl

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) SendMessage(_ context.Context, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return "msg-1", nil
}

func TestRendezvousDeliversAnswer(t *testing.T) {
	c := New(time.Second, nil)
	m := &fakeMessenger{}

	done := make(chan string, 1)
	go func() {
		done <- c.RequestUserApproval(context.Background(), "user1", "Run sudo apt update?", m)
	}()

	// Wait until the request is registered.
	for i := 0; i < 100 && !c.Pending("user1"); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Pending("user1") {
		t.Fatal("request never registered")
	}
	if !c.Resolve("user1", "Aprobar") {
		t.Fatal("resolve should consume the message")
	}

	select {
	case answer := <-done:
		if answer != "Aprobar" {
			t.Errorf("answer = %q", answer)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
	if len(m.sent) != 1 || m.sent[0] != "Run sudo apt update?" {
		t.Errorf("question not sent: %v", m.sent)
	}
}

func TestTimeoutReturnsSentinel(t *testing.T) {
	c := New(30*time.Millisecond, nil)
	answer := c.RequestUserApproval(context.Background(), "user1", "?", &fakeMessenger{})
	if answer != Timeout {
		t.Errorf("answer = %q, want %q", answer, Timeout)
	}
	// After timeout the next message must fall through to the pipeline.
	if c.Resolve("user1", "late") {
		t.Error("resolve after timeout should return false")
	}
}

func TestResolveWithoutPending(t *testing.T) {
	c := New(time.Second, nil)
	if c.Resolve("nobody", "hello") {
		t.Error("resolve with no pending request should return false")
	}
}

func TestSecondMessageFallsThrough(t *testing.T) {
	c := New(time.Second, nil)
	go c.RequestUserApproval(context.Background(), "u", "?", &fakeMessenger{})
	for i := 0; i < 100 && !c.Pending("u"); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Resolve("u", "first") {
		t.Fatal("first message should be consumed")
	}
	if c.Resolve("u", "second") {
		t.Error("second message should not be consumed")
	}
}

func TestIsApproval(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"approve", true},
		{"Aprobar", true},
		{"  sí.  ", true},
		{"yes!", true},
		{"reject", false},
		{"no", false},
		{"why would you do that", false},
		{Timeout, false},
	}
	for _, tt := range tests {
		if got := IsApproval(tt.answer); got != tt.want {
			t.Errorf("IsApproval(%q) = %v, want %v", tt.answer, got, tt.want)
		}
	}
}
