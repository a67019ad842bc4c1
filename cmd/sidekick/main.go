// Package main is the sidekick CLI: a personal assistant runtime that
// fronts a chat channel with an LLM pipeline, tool execution behind a
// security policy, long-term memory and background agent sessions.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sidekick",
		Short:        "Sidekick - personal assistant runtime",
		Long:         "Sidekick connects a chat channel to a local or remote LLM with\npolicy-gated tool execution, semantic memory and agent sessions.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildAuditCmd(),
	)
	return rootCmd
}
