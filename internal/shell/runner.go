package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const (
	// DefaultTimeout bounds a synchronous command.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout is the per-call ceiling.
	MaxTimeout = 300 * time.Second
	// internalBufferLimit caps captured stdout/stderr on disk.
	internalBufferLimit = 50 * 1024
	// ModelOutputLimit caps what flows back to the model.
	ModelOutputLimit = 4000
)

// RunResult is the outcome of a synchronous command.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner executes validated commands without shell interpretation:
// stdin from /dev/null, a fixed working directory and a minimal
// environment.
type Runner struct {
	workDir string
	env     []string
}

// NewRunner builds a runner rooted at workDir.
func NewRunner(workDir string) *Runner {
	return &Runner{
		workDir: workDir,
		env: []string{
			"PATH=" + os.Getenv("PATH"),
			"HOME=" + os.Getenv("HOME"),
			"LANG=" + os.Getenv("LANG"),
			"TERM=dumb",
		},
	}
}

// Run executes tokens synchronously. timeout <= 0 selects the default;
// anything above MaxTimeout is clamped.
func (r *Runner) Run(ctx context.Context, tokens []string, timeout time.Duration) (*RunResult, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	cmd.Dir = r.workDir
	cmd.Env = r.env
	cmd.Stdin = nil // /dev/null

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: internalBufferLimit}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: internalBufferLimit}

	start := time.Now()
	err := cmd.Run()
	result := &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to run %s: %w", tokens[0], err)
	}
	return result, nil
}

// ModelOutput renders a result for the model, truncated to the limit.
func (res *RunResult) ModelOutput(timeout time.Duration) string {
	if res.TimedOut {
		return fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds()))
	}
	out := res.Stdout
	if res.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += "[stderr]\n" + res.Stderr
	}
	if res.ExitCode != 0 {
		out = fmt.Sprintf("[exit code %d]\n%s", res.ExitCode, out)
	}
	if out == "" {
		out = "(no output)"
	}
	if len(out) > ModelOutputLimit {
		out = out[:ModelOutputLimit] + "\n… [truncated]"
	}
	return out
}

// limitedWriter discards bytes beyond its limit; the command keeps
// running, only the capture is bounded.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.w.Len() >= lw.limit {
		return len(p), nil
	}
	remain := lw.limit - lw.w.Len()
	if len(p) > remain {
		lw.w.Write(p[:remain])
		return len(p), nil
	}
	return lw.w.Write(p)
}
