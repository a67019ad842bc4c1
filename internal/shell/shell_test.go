package shell

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	v := NewValidator(nil)
	tests := []struct {
		command string
		want    Decision
	}{
		{"rm -rf /", DecisionDeny},
		{"sudo apt update", DecisionDeny},
		{"/usr/bin/rm file", DecisionDeny},
		{"dd if=/dev/zero of=/dev/sda", DecisionDeny},
		{"echo hi > /dev/null", DecisionDeny}, // dangerous pattern "> /dev/"
		{"cat /etc/passwd", DecisionDeny},
		{"ls | wc -l", DecisionAsk},
		{"git log && echo done", DecisionAsk},
		{"echo $(whoami)", DecisionAsk},
		{"ls -la", DecisionAllow},
		{"git status", DecisionAllow},
		{"pytest tests/", DecisionAllow},
		{"terraform apply", DecisionAsk},
		{`echo "unterminated`, DecisionDeny},
		{"", DecisionDeny},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, reason := v.Validate(tt.command)
			if got != tt.want {
				t.Errorf("Validate(%q) = %s (%s), want %s", tt.command, got, reason, tt.want)
			}
		})
	}
}

func TestValidateCustomAllowlist(t *testing.T) {
	v := NewValidator([]string{"cargo"})
	if got, _ := v.Validate("cargo build"); got != DecisionAllow {
		t.Errorf("custom allowlist entry = %s, want allow", got)
	}
	if got, _ := v.Validate("ls"); got != DecisionAsk {
		t.Errorf("ls outside custom allowlist = %s, want ask", got)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{`git commit -m "first commit"`, []string{"git", "commit", "-m", "first commit"}, false},
		{`echo 'a b' c`, []string{"echo", "a b", "c"}, false},
		{`echo "broken`, nil, true},
		{"  spaced   out  ", []string{"spaced", "out"}, false},
	}
	for _, tt := range tests {
		got, err := Tokenize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Tokenize(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRunnerCapturesOutput(t *testing.T) {
	r := NewRunner(t.TempDir())
	res, err := r.Run(context.Background(), []string{"echo", "hello"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 || !strings.Contains(res.Stdout, "hello") {
		t.Errorf("result = %+v", res)
	}
}

func TestRunnerNonZeroExit(t *testing.T) {
	r := NewRunner(t.TempDir())
	res, err := r.Run(context.Background(), []string{"ls", "/definitely/not/here"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode == 0 {
		t.Error("expected non-zero exit")
	}
	if !strings.Contains(res.ModelOutput(DefaultTimeout), "exit code") {
		t.Errorf("model output lacks exit code: %q", res.ModelOutput(DefaultTimeout))
	}
}

func TestRunnerTimeout(t *testing.T) {
	r := NewRunner(t.TempDir())
	res, err := r.Run(context.Background(), []string{"sleep", "5"}, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(res.ModelOutput(100*time.Millisecond), "timed out") {
		t.Errorf("model output = %q", res.ModelOutput(100*time.Millisecond))
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(NewRunner(t.TempDir()), nil, nil)
	defer reg.Shutdown()

	id, err := reg.Start("user1", "echo bg-output", []string{"echo", "bg-output"})
	if err != nil {
		t.Fatal(err)
	}

	// Wait for exit.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if exited, _ := reg.List()[0].Exited(); exited || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	out, err := reg.Poll(id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bg-output") || !strings.Contains(out, "exited with code 0") {
		t.Errorf("poll = %q", out)
	}

	// Second poll only sees the exit status, output already consumed.
	out2, err := reg.Poll(id)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out2, "bg-output") {
		t.Errorf("second poll repeated output: %q", out2)
	}
}

func TestRegistryCap(t *testing.T) {
	reg := NewRegistry(NewRunner(t.TempDir()), nil, nil)
	defer reg.Shutdown()

	for i := 0; i < MaxBackgroundProcesses; i++ {
		if _, err := reg.Start("u", "sleep 10", []string{"sleep", "10"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := reg.Start("u", "sleep 10", []string{"sleep", "10"}); err == nil {
		t.Error("sixth background process accepted")
	}
}

func TestRegistryCapUnderConcurrentStarts(t *testing.T) {
	reg := NewRegistry(NewRunner(t.TempDir()), nil, nil)
	defer reg.Shutdown()

	// One slot left: of two simultaneous Starts, exactly one may win.
	for i := 0; i < MaxBackgroundProcesses-1; i++ {
		if _, err := reg.Start("u", "sleep 10", []string{"sleep", "10"}); err != nil {
			t.Fatal(err)
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  int
		rejected int
	)
	barrier := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-barrier
			_, err := reg.Start("u", "sleep 10", []string{"sleep", "10"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
			} else {
				started++
			}
		}()
	}
	close(barrier)
	wg.Wait()

	if started != 1 || rejected != 1 {
		t.Errorf("started = %d, rejected = %d, want 1 and 1", started, rejected)
	}
	running := 0
	for _, p := range reg.List() {
		if exited, _ := p.Exited(); !exited {
			running++
		}
	}
	if running > MaxBackgroundProcesses {
		t.Errorf("running = %d, cap is %d", running, MaxBackgroundProcesses)
	}
}

func TestRegistryKill(t *testing.T) {
	reg := NewRegistry(NewRunner(t.TempDir()), nil, nil)
	defer reg.Shutdown()

	id, err := reg.Start("u", "sleep 30", []string{"sleep", "30"})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Kill(id); err != nil {
		t.Fatal(err)
	}
	exited, _ := reg.List()[0].Exited()
	if !exited {
		t.Error("process still running after Kill")
	}
}

func TestSweepRemovesStaleTerminated(t *testing.T) {
	reg := NewRegistry(NewRunner(t.TempDir()), nil, nil)
	defer reg.Shutdown()

	id, err := reg.Start("u", "true", []string{"true"})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if exited, _ := reg.List()[0].Exited(); exited || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	reg.Sweep(time.Now().UTC().Add(terminatedRetention + time.Minute))
	if _, err := reg.Poll(id); err == nil {
		t.Error("stale terminated record survived sweep")
	}
}
