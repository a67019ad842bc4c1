// Package commands implements the slash-command registry: the small set
// of user commands that drive agent and approval control flow, resolved
// before any pipeline work.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/haasonsaas/sidekick/internal/agent"
	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Handler executes one command. args is the text after the command name.
type Handler func(ctx context.Context, handle, args string) (string, error)

// command couples a handler with its help line.
type command struct {
	handler Handler
	help    string
}

// Registry maps slash commands (and aliases) to handlers.
type Registry struct {
	commands map[string]command
	aliases  map[string]string
	logger   *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]command),
		aliases:  make(map[string]string),
		logger:   logger.With("component", "commands"),
	}
}

// Register adds a command with optional aliases. Names omit the slash.
func (r *Registry) Register(name, help string, handler Handler, aliases ...string) {
	r.commands[name] = command{handler: handler, help: help}
	for _, a := range aliases {
		r.aliases[a] = name
	}
}

// IsCommand reports whether text should be routed to the registry.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Dispatch resolves and runs the command in text. Unknown commands get a
// short help reply rather than an error.
func (r *Registry) Dispatch(ctx context.Context, handle, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return r.help()
	}
	name := strings.TrimPrefix(strings.ToLower(fields[0]), "/")
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	cmd, ok := r.commands[name]
	if !ok {
		return "Unknown command /" + name + ".\n" + r.help()
	}
	args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), fields[0]))
	reply, err := cmd.handler(ctx, handle, args)
	if err != nil {
		r.logger.Warn("command failed",
			slog.String("command", name), slog.String("handle", handle), slog.Any("error", err))
		return "Could not run /" + name + ": " + err.Error()
	}
	return reply
}

// Help renders the command list, one line per command. The dispatcher
// appends it to the capabilities prompt section.
func (r *Registry) Help() string { return r.help() }

func (r *Registry) help() string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n/%s — %s", name, r.commands[name].help)
	}
	return b.String()
}

// DefaultRegistry wires the core control-flow commands.
func DefaultRegistry(manager *agent.Manager, runner *agent.Runner, coordinator *hitl.Coordinator, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)

	r.Register("agent", "start a background agent session with an objective",
		func(ctx context.Context, handle, args string) (string, error) {
			if strings.TrimSpace(args) == "" {
				return "Usage: /agent <objective>", nil
			}
			id, err := runner.Start(handle, args)
			if err != nil {
				if errors.Is(err, agent.ErrSessionActive) {
					return "An agent session is already running. Use /status to check it or /cancel to stop it.", nil
				}
				return "", err
			}
			return fmt.Sprintf("Agent session started (%s). I'll report progress here.", shortID(id)), nil
		})

	r.Register("cancel", "cancel the active agent session",
		func(ctx context.Context, handle, args string) (string, error) {
			if err := manager.Cancel(handle); err != nil {
				if errors.Is(err, agent.ErrNoSession) {
					return "No active agent session to cancel.", nil
				}
				return "", err
			}
			return "Agent session cancelled.", nil
		}, "stop")

	r.Register("approve", "approve the pending request",
		func(ctx context.Context, handle, args string) (string, error) {
			if coordinator.Resolve(handle, "approve") {
				return "Approved.", nil
			}
			return "Nothing is waiting for approval.", nil
		}, "yes")

	r.Register("reject", "reject the pending request",
		func(ctx context.Context, handle, args string) (string, error) {
			if coordinator.Resolve(handle, "reject") {
				return "Rejected.", nil
			}
			return "Nothing is waiting for approval.", nil
		}, "no", "deny")

	r.Register("status", "show the active agent session's progress",
		func(ctx context.Context, handle, args string) (string, error) {
			session, mu, ok := manager.Get(handle)
			if !ok {
				return "No agent session for you.", nil
			}
			mu.Lock()
			defer mu.Unlock()
			var b strings.Builder
			fmt.Fprintf(&b, "Session %s: %s\nObjective: %s",
				shortID(session.ID), session.Status, session.Objective)
			if session.Iteration > 0 {
				fmt.Fprintf(&b, "\nRound %d/%d", session.Iteration, session.MaxIterations)
			}
			if plan := planSnapshot(session); plan != "" {
				b.WriteString("\n" + plan)
			}
			return b.String(), nil
		})

	return r
}

func planSnapshot(session *models.AgentSession) string {
	if session.TaskPlan != "" {
		return session.TaskPlan
	}
	if session.Plan == nil {
		return ""
	}
	var b strings.Builder
	for i := range session.Plan.Tasks {
		t := &session.Plan.Tasks[i]
		mark := " "
		switch t.Status {
		case models.TaskDone:
			mark = "x"
		case models.TaskFailed:
			mark = "!"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", t.ID, mark, t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
