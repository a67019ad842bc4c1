package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxBackgroundProcesses caps concurrent background commands.
	MaxBackgroundProcesses = 5
	// maxProcessAge is the absolute lifetime of a background process.
	maxProcessAge = 30 * time.Minute
	// terminatedRetention keeps finished records pollable for a while.
	terminatedRetention = 10 * time.Minute
	// gcInterval is the sweeper period.
	gcInterval = 5 * time.Minute
	// killGrace is the SIGTERM → SIGKILL escalation delay.
	killGrace = 3 * time.Second
)

// ErrTooManyProcesses rejects a sixth background process.
var ErrTooManyProcesses = fmt.Errorf("too many background processes (max %d)", MaxBackgroundProcesses)

// Process is one background command record. Buffers grow under the
// registry lock; pollers consume them incrementally via offsets.
type Process struct {
	ID        string
	Command   string
	Handle    string
	StartedAt time.Time

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdout       bytes.Buffer
	stderr       bytes.Buffer
	stdoutOffset int
	stderrOffset int
	exitCode     *int
	done         chan struct{}
}

// Exited reports termination and the exit code if any.
func (p *Process) Exited() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode == nil {
		return false, 0
	}
	return true, *p.exitCode
}

// Registry owns every background process. The GC sweeper kills overage
// records; creators only append output.
type Registry struct {
	mu      sync.Mutex
	procs   map[string]*Process
	runner  *Runner
	logger  *slog.Logger
	stopGC  chan struct{}
	gcOnce  sync.Once
	gauge   func(int)
}

// NewRegistry builds the registry. gauge, when non-nil, mirrors the
// process count into a metric.
func NewRegistry(runner *Runner, logger *slog.Logger, gauge func(int)) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		procs:  make(map[string]*Process),
		runner: runner,
		logger: logger.With("component", "shell"),
		stopGC: make(chan struct{}),
		gauge:  gauge,
	}
}

// Start launches tokens in the background and returns its opaque id.
func (r *Registry) Start(handle, command string, tokens []string) (string, error) {
	proc := &Process{
		ID:        uuid.NewString()[:8],
		Command:   command,
		Handle:    handle,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	cmd := exec.Command(tokens[0], tokens[1:]...)
	cmd.Dir = r.runner.workDir
	cmd.Env = r.runner.env
	cmd.Stdin = nil
	cmd.Stdout = &processWriter{proc: proc, stderr: false}
	cmd.Stderr = &processWriter{proc: proc, stderr: true}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	proc.cmd = cmd

	// Reserve the slot in the same critical section as the cap check, so
	// two racing Starts at the limit cannot both pass.
	r.mu.Lock()
	running := 0
	for _, p := range r.procs {
		if exited, _ := p.Exited(); !exited {
			running++
		}
	}
	if running >= MaxBackgroundProcesses {
		r.mu.Unlock()
		return "", ErrTooManyProcesses
	}
	r.procs[proc.ID] = proc
	r.updateGauge()
	r.mu.Unlock()

	if err := cmd.Start(); err != nil {
		r.mu.Lock()
		delete(r.procs, proc.ID)
		r.updateGauge()
		r.mu.Unlock()
		return "", fmt.Errorf("failed to start background command: %w", err)
	}

	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		proc.mu.Lock()
		proc.exitCode = &code
		proc.mu.Unlock()
		close(proc.done)
		r.logger.Info("background process exited",
			slog.String("process_id", proc.ID), slog.Int("exit_code", code))
	}()

	return proc.ID, nil
}

// List snapshots every record, newest first.
func (r *Registry) List() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Process, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Poll returns output produced since the previous poll, plus the exit
// status when the process has terminated.
func (r *Registry) Poll(id string) (string, error) {
	p, err := r.get(id)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	newOut := p.stdout.String()[p.stdoutOffset:]
	newErr := p.stderr.String()[p.stderrOffset:]
	p.stdoutOffset = p.stdout.Len()
	p.stderrOffset = p.stderr.Len()
	exit := p.exitCode
	p.mu.Unlock()

	out := newOut
	if newErr != "" {
		out += "\n[stderr]\n" + newErr
	}
	if out == "" {
		out = "(no new output)"
	}
	if exit != nil {
		out += fmt.Sprintf("\n[process exited with code %d]", *exit)
	}
	if len(out) > ModelOutputLimit {
		out = out[:ModelOutputLimit] + "\n… [truncated]"
	}
	return out, nil
}

// Log returns up to limit bytes of the full captured output.
func (r *Registry) Log(id string, limit int) (string, error) {
	p, err := r.get(id)
	if err != nil {
		return "", err
	}
	if limit <= 0 || limit > ModelOutputLimit {
		limit = ModelOutputLimit
	}
	p.mu.Lock()
	out := p.stdout.String()
	if p.stderr.Len() > 0 {
		out += "\n[stderr]\n" + p.stderr.String()
	}
	p.mu.Unlock()
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Kill terminates a process: SIGTERM to the group, SIGKILL after a grace
// period if it lingers.
func (r *Registry) Kill(id string) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	if exited, _ := p.Exited(); exited {
		return nil
	}
	// Negative pid signals the process group.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %s: %w", id, err)
	}
	select {
	case <-p.done:
	case <-time.After(killGrace):
		syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}

// Remove drops a record without signaling.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.procs, id)
	r.updateGauge()
	r.mu.Unlock()
}

// StartGC launches the sweeper: every 5 minutes it kills processes past
// the 30-minute age cap and drops terminated records past retention.
func (r *Registry) StartGC(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep(time.Now().UTC())
			case <-ctx.Done():
				return
			case <-r.stopGC:
				return
			}
		}
	}()
}

// Sweep applies the GC policy once; split out for tests.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	snapshot := make([]*Process, 0, len(r.procs))
	for _, p := range r.procs {
		snapshot = append(snapshot, p)
	}
	r.mu.Unlock()

	for _, p := range snapshot {
		exited, _ := p.Exited()
		age := now.Sub(p.StartedAt)
		switch {
		case !exited && age > maxProcessAge:
			r.logger.Warn("killing overage background process",
				slog.String("process_id", p.ID), slog.Duration("age", age))
			if err := r.Kill(p.ID); err != nil {
				r.logger.Warn("failed to kill overage process",
					slog.String("process_id", p.ID), slog.Any("error", err))
			}
		case exited && age > terminatedRetention:
			r.Remove(p.ID)
		}
	}
}

// Shutdown kills everything still running.
func (r *Registry) Shutdown() {
	r.gcOnce.Do(func() { close(r.stopGC) })
	for _, p := range r.List() {
		if exited, _ := p.Exited(); !exited {
			if err := r.Kill(p.ID); err != nil {
				r.logger.Warn("failed to kill process at shutdown",
					slog.String("process_id", p.ID), slog.Any("error", err))
			}
		}
	}
}

func (r *Registry) get(id string) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	if !ok {
		return nil, fmt.Errorf("unknown process id %s", id)
	}
	return p, nil
}

func (r *Registry) updateGauge() {
	if r.gauge != nil {
		r.gauge(len(r.procs))
	}
}

type processWriter struct {
	proc   *Process
	stderr bool
}

func (w *processWriter) Write(p []byte) (int, error) {
	w.proc.mu.Lock()
	defer w.proc.mu.Unlock()
	buf := &w.proc.stdout
	if w.stderr {
		buf = &w.proc.stderr
	}
	if buf.Len() < internalBufferLimit {
		remain := internalBufferLimit - buf.Len()
		if len(p) > remain {
			buf.Write(p[:remain])
		} else {
			buf.Write(p)
		}
	}
	return len(p), nil
}
