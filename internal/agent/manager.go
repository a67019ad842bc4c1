// Package agent implements the autonomous session runtime: lifecycle
// management, planner-orchestrator decomposition with typed workers, the
// reactive fallback loop with loop detection, and append-only session
// persistence.
package agent

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// ErrSessionActive rejects a second session for a handle that already
// has a non-terminal one.
var ErrSessionActive = errors.New("an agent session is already active for this handle")

// ErrNoSession is returned for status/cancel on a handle with no session.
var ErrNoSession = errors.New("no active agent session for this handle")

// Manager owns the active-sessions map: at most one non-terminal session
// per handle, guarded by a short-lived lock.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	gauge    func(int)
	logger   *slog.Logger
}

type sessionEntry struct {
	session *models.AgentSession
	// sessionMu guards the session fields shared between the run loop
	// and the session-scoped tools.
	sessionMu *sync.Mutex
	cancel    func()
}

// NewManager builds the manager. gauge, when non-nil, mirrors the active
// count into a metric.
func NewManager(gauge func(int), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*sessionEntry),
		gauge:    gauge,
		logger:   logger.With("component", "agent"),
	}
}

// Create registers a new running session for handle. The returned mutex
// guards the session against concurrent tool mutation; cancel triggers
// cooperative shutdown of the run loop.
func (m *Manager) Create(handle, objective string, maxIterations int, cancel func()) (*models.AgentSession, *sync.Mutex, error) {
	if maxIterations <= 0 {
		maxIterations = 15
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.sessions[handle]; ok {
		entry.sessionMu.Lock()
		terminal := entry.session.Status.IsTerminal()
		entry.sessionMu.Unlock()
		if !terminal {
			return nil, nil, ErrSessionActive
		}
	}

	session := &models.AgentSession{
		ID:            uuid.NewString(),
		Handle:        handle,
		Objective:     objective,
		Status:        models.SessionRunning,
		MaxIterations: maxIterations,
		StartedAt:     time.Now().UTC(),
	}
	entry := &sessionEntry{session: session, sessionMu: &sync.Mutex{}, cancel: cancel}
	m.sessions[handle] = entry
	m.updateGauge()

	m.logger.Info("agent session created",
		slog.String("session_id", session.ID),
		slog.String("handle", handle))
	return session, entry.sessionMu, nil
}

// Get returns the session for handle, terminal or not.
func (m *Manager) Get(handle string) (*models.AgentSession, *sync.Mutex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[handle]
	if !ok {
		return nil, nil, false
	}
	return entry.session, entry.sessionMu, true
}

// Cancel transitions the handle's session to cancelled and triggers its
// cooperative shutdown.
func (m *Manager) Cancel(handle string) error {
	m.mu.Lock()
	entry, ok := m.sessions[handle]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	entry.sessionMu.Lock()
	if entry.session.Status.IsTerminal() {
		entry.sessionMu.Unlock()
		return ErrNoSession
	}
	entry.session.Status = models.SessionCancelled
	entry.sessionMu.Unlock()

	if entry.cancel != nil {
		entry.cancel()
	}
	m.logger.Info("agent session cancelled",
		slog.String("session_id", entry.session.ID), slog.String("handle", handle))
	m.mu.Lock()
	m.updateGauge()
	m.mu.Unlock()
	return nil
}

// Finish records the terminal status of a session and updates the gauge.
// A session already terminal (e.g. cancelled mid-run) keeps its status.
func (m *Manager) Finish(handle string, status models.SessionStatus) {
	m.mu.Lock()
	entry, ok := m.sessions[handle]
	m.mu.Unlock()
	if !ok {
		return
	}
	entry.sessionMu.Lock()
	if !entry.session.Status.IsTerminal() {
		entry.session.Status = status
	}
	entry.sessionMu.Unlock()
	m.mu.Lock()
	m.updateGauge()
	m.mu.Unlock()
}

// ActiveCount returns the number of non-terminal sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, entry := range m.sessions {
		entry.sessionMu.Lock()
		if !entry.session.Status.IsTerminal() {
			n++
		}
		entry.sessionMu.Unlock()
	}
	return n
}

func (m *Manager) updateGauge() {
	if m.gauge != nil {
		m.gauge(m.activeLocked())
	}
}
