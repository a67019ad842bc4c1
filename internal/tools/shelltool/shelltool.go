// Package shelltool exposes the shell subsystem as model-callable tools:
// run_command for synchronous and background execution, manage_process
// for the background registry. Command validation happens in the policy
// gate before these tools ever run.
package shelltool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/sidekick/internal/shell"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// RunCommandArgs are the run_command parameters.
type RunCommandArgs struct {
	Command        string `json:"command" jsonschema:"description=The command to run. Executed without a shell; operators require approval."`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Timeout in seconds (default 30, max 300)."`
	Background     bool   `json:"background,omitempty" jsonschema:"description=Run in the background and return a process id immediately."`
}

// ManageProcessArgs are the manage_process parameters.
type ManageProcessArgs struct {
	Action    string `json:"action" jsonschema:"description=One of: list, poll, log, kill.,enum=list,enum=poll,enum=log,enum=kill"`
	ProcessID string `json:"process_id,omitempty" jsonschema:"description=Target process id (required for poll, log and kill)."`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Max characters of log output to return."`
}

// Tools builds the shell tool surface. writeEnabled gates execution: when
// false the tools exist but refuse to run, so the model gets a clear
// explanation instead of a missing-tool error.
func Tools(runner *shell.Runner, registry *shell.Registry, writeEnabled bool, logger *slog.Logger) []tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	s := &shellTools{
		runner:       runner,
		registry:     registry,
		writeEnabled: writeEnabled,
		logger:       logger.With("component", "shelltool"),
	}
	return []tools.Tool{
		tools.NewFunc("run_command",
			"Run a shell command in the workspace. Synchronous by default; set background=true for long-running commands.",
			tools.SchemaFor(&RunCommandArgs{}), s.runCommand),
		tools.NewFunc("manage_process",
			"Manage background processes: list them, poll for new output, read the log, or kill one.",
			tools.SchemaFor(&ManageProcessArgs{}), s.manageProcess),
	}
}

type shellTools struct {
	runner       *shell.Runner
	registry     *shell.Registry
	writeEnabled bool
	logger       *slog.Logger
}

func (s *shellTools) runCommand(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	if !s.writeEnabled {
		return &models.ToolResult{IsError: true,
			Content: "Command execution is disabled (write_enabled=false)."}, nil
	}
	var args RunCommandArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return &models.ToolResult{IsError: true, Content: "invalid run_command arguments"}, nil
	}
	tokens, err := shell.Tokenize(args.Command)
	if err != nil || len(tokens) == 0 {
		return &models.ToolResult{IsError: true, Content: "command could not be parsed"}, nil
	}

	if args.Background {
		id, err := s.registry.Start(tools.HandleFrom(ctx), args.Command, tokens)
		if err != nil {
			return &models.ToolResult{IsError: true, Content: err.Error()}, nil
		}
		s.logger.Info("background process started",
			slog.String("process_id", id), slog.String("command", args.Command))
		return &models.ToolResult{
			Content: fmt.Sprintf("Started background process %s. Use manage_process to poll it.", id),
		}, nil
	}

	timeout := time.Duration(args.TimeoutSeconds) * time.Second
	res, err := s.runner.Run(ctx, tokens, timeout)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if timeout <= 0 {
		timeout = shell.DefaultTimeout
	}
	return &models.ToolResult{
		Content: res.ModelOutput(timeout),
		IsError: res.TimedOut || res.ExitCode != 0,
	}, nil
}

func (s *shellTools) manageProcess(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args ManageProcessArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return &models.ToolResult{IsError: true, Content: "invalid manage_process arguments"}, nil
	}

	switch args.Action {
	case "list":
		procs := s.registry.List()
		if len(procs) == 0 {
			return &models.ToolResult{Content: "No background processes."}, nil
		}
		var b strings.Builder
		for _, p := range procs {
			state := "running"
			if exited, code := p.Exited(); exited {
				state = fmt.Sprintf("exited (%d)", code)
			}
			fmt.Fprintf(&b, "%s  %s  %s  started %s\n",
				p.ID, state, p.Command, p.StartedAt.Format(time.RFC3339))
		}
		return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil

	case "poll":
		out, err := s.registry.Poll(args.ProcessID)
		if err != nil {
			return &models.ToolResult{IsError: true, Content: err.Error()}, nil
		}
		return &models.ToolResult{Content: out}, nil

	case "log":
		out, err := s.registry.Log(args.ProcessID, args.Limit)
		if err != nil {
			return &models.ToolResult{IsError: true, Content: err.Error()}, nil
		}
		if out == "" {
			out = "(no output)"
		}
		return &models.ToolResult{Content: out}, nil

	case "kill":
		if err := s.registry.Kill(args.ProcessID); err != nil {
			return &models.ToolResult{IsError: true, Content: err.Error()}, nil
		}
		return &models.ToolResult{Content: fmt.Sprintf("Process %s terminated.", args.ProcessID)}, nil

	default:
		return &models.ToolResult{IsError: true,
			Content: fmt.Sprintf("unknown action %q: use list, poll, log or kill", args.Action)}, nil
	}
}
