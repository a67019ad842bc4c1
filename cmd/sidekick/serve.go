package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidekick/internal/agent"
	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/channels"
	"github.com/haasonsaas/sidekick/internal/channels/webhook"
	"github.com/haasonsaas/sidekick/internal/channels/whatsmeow"
	"github.com/haasonsaas/sidekick/internal/commands"
	"github.com/haasonsaas/sidekick/internal/compaction"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/cron"
	"github.com/haasonsaas/sidekick/internal/dispatcher"
	"github.com/haasonsaas/sidekick/internal/evals"
	"github.com/haasonsaas/sidekick/internal/executor"
	"github.com/haasonsaas/sidekick/internal/gateway"
	"github.com/haasonsaas/sidekick/internal/guardrails"
	"github.com/haasonsaas/sidekick/internal/hitl"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/policy"
	"github.com/haasonsaas/sidekick/internal/shell"
	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/internal/store/postgres"
	"github.com/haasonsaas/sidekick/internal/store/sqlite"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/tools/debugtool"
	"github.com/haasonsaas/sidekick/internal/tools/evaltool"
	"github.com/haasonsaas/sidekick/internal/tools/fetch"
	"github.com/haasonsaas/sidekick/internal/tools/memorytool"
	"github.com/haasonsaas/sidekick/internal/tools/selfcode"
	"github.com/haasonsaas/sidekick/internal/tools/shelltool"
	"github.com/haasonsaas/sidekick/internal/tracing"
)

const shutdownGrace = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant",
		Long:  "Start the HTTP gateway, the message pipeline and all background\nsubsystems, then block until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage.
	var (
		repo       store.Repository
		closeStore func() error
	)
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := postgres.Open(cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("opening postgres store: %w", err)
		}
		repo, closeStore = st, st.Close
	default:
		st, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		repo, closeStore = st, st.Close
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	// Inference and embeddings.
	client, embedder := buildLLM(cfg.LLM)

	// Metrics.
	registry := prometheus.NewRegistry()
	metrics := observability.New(registry)

	// Tracing.
	sampleRate := cfg.Tracing.SampleRate
	if !cfg.Tracing.Enabled {
		sampleRate = 0
	}
	recorder := tracing.NewRecorder(repo, sampleRate, logger)
	if cfg.Tracing.Enabled && cfg.Tracing.OTLPEndpoint != "" {
		sink, err := tracing.NewOTLPSink(ctx, cfg.Tracing.OTLPEndpoint, "sidekick")
		if err != nil {
			logger.Warn("otlp sink unavailable, continuing with store-only traces",
				"endpoint", cfg.Tracing.OTLPEndpoint, "error", err)
		} else {
			recorder.SetSecondSink(sink)
		}
	}

	// Memory.
	memSvc := memory.NewService(repo, embedder, cfg.Memory.SimilarityThreshold, cfg.Memory.TopK, logger)

	// Shell and policy.
	runner := shell.NewRunner(cfg.Workspace.Dir)
	procRegistry := shell.NewRegistry(runner, logger, metrics.SetBackgroundProcesses)
	procRegistry.StartGC(ctx)

	engine := policy.NewEngine(logger)
	if cfg.Policy.RulesPath != "" {
		if err := engine.LoadFile(cfg.Policy.RulesPath); err != nil {
			logger.Error("loading policy rules, unmatched actions will be flagged",
				"path", cfg.Policy.RulesPath, "error", err)
		}
		if cfg.Policy.HotReload {
			if err := engine.Watch(ctx, cfg.Policy.RulesPath); err != nil {
				logger.Warn("policy hot reload unavailable", "error", err)
			}
		}
	}
	validator := shell.NewValidator(cfg.Agent.ShellAllowlist)
	gate := policy.NewGate(engine, validator)

	// Audit chain.
	var auditor *audit.Logger
	if cfg.Audit.Enabled {
		auditor, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer func() {
			if err := auditor.Close(); err != nil {
				logger.Error("closing audit log", "error", err)
			}
		}()
	}

	coordinator := hitl.New(0, logger)
	compactor := compaction.New(client, cfg.Pipeline.CompactionThreshold, logger)
	curator := evals.NewCurator(repo, cfg.Evals.AutoCurate, logger)

	// Tool surface.
	toolRegistry := buildToolRegistry(cfg, memSvc, embedder, repo, runner, procRegistry, curator, logger)

	// Outbound channel. Whatsmeow carries its own socket; the webhook
	// client POSTs replies back to the configured URL.
	var (
		messenger channels.MessagingClient
		wa        *whatsmeow.Adapter
		disp      *dispatcher.Dispatcher
	)
	if cfg.Channels.Whatsmeow.Enabled {
		wa, err = whatsmeow.New(ctx, cfg.Channels.Whatsmeow.SessionPath, func(msg channels.InboundMessage) {
			disp.Accept(msg)
		}, logger)
		if err != nil {
			return fmt.Errorf("initializing whatsmeow channel: %w", err)
		}
		messenger = wa
	} else {
		messenger = webhook.New(cfg.Channels.Webhook.ReplyURL, cfg.Channels.Webhook.Token, logger)
	}

	exec := executor.New(toolRegistry, gate, auditor, coordinator, messenger, compactor, metrics, logger)

	guards := guardrails.New(guardrails.Config{
		Enabled:    cfg.Guardrails.Enabled,
		LLMChecks:  cfg.Guardrails.LLMChecks,
		LLMTimeout: cfg.Guardrails.LLMTimeout,
	}, client, metrics, logger)

	// Agent sessions.
	manager := agent.NewManager(metrics.SetActiveSessions, logger)
	agentRunner := agent.NewRunner(agent.RunnerConfig{
		Manager:       manager,
		Registry:      toolRegistry,
		LLM:           client,
		Recorder:      recorder,
		Coordinator:   coordinator,
		Messenger:     messenger,
		Gate:          gate,
		Auditor:       auditor,
		Compactor:     compactor,
		Metrics:       metrics,
		WorkspaceDir:  cfg.Workspace.Dir,
		SessionsDir:   cfg.Agent.SessionsDir,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTools:      cfg.Pipeline.MaxToolsPerCall,
		Logger:        logger,
	})

	cmdRegistry := commands.DefaultRegistry(manager, agentRunner, coordinator, logger)

	disp = dispatcher.New(dispatcher.Config{
		Pipeline:     cfg.Pipeline,
		WorkspaceDir: cfg.Workspace.Dir,
		ProjectsRoot: cfg.Workspace.ProjectsRoot,
	}, dispatcher.Deps{
		Repo:       repo,
		LLM:        client,
		Embedder:   embedder,
		Memory:     memSvc,
		Registry:   toolRegistry,
		Executor:   exec,
		Guardrails: guards,
		HITL:       coordinator,
		Commands:   cmdRegistry,
		Curator:    curator,
		Recorder:   recorder,
		Metrics:    metrics,
		Messenger:  messenger,
		Logger:     logger,
	})

	if wa != nil {
		if err := wa.Connect(ctx); err != nil {
			return fmt.Errorf("connecting whatsmeow channel: %w", err)
		}
	}

	var scheduler *cron.Scheduler
	if cfg.Cron.Enabled {
		scheduler = cron.NewScheduler(disp, logger)
		if err := scheduler.Restore(ctx, repo); err != nil {
			logger.Error("restoring cron jobs", "error", err)
		}
		scheduler.Start()
	}

	go maintenanceLoop(ctx, repo, cfg.Tracing.RetentionDays, logger)

	server := gateway.New(gateway.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		WebhookToken:   cfg.Channels.Webhook.Token,
		MetricsEnabled: cfg.Server.MetricsEnabled,
	}, disp, registry, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	logger.Info("sidekick started",
		"addr", server.Addr(),
		"llm_backend", cfg.LLM.Backend,
		"storage_driver", cfg.Storage.Driver,
		"version", version)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	server.Shutdown(shutdownCtx)
	if scheduler != nil {
		scheduler.Stop()
	}
	if !disp.WaitForInFlight(shutdownGrace) {
		logger.Warn("in-flight messages not drained before deadline")
	}
	if wa != nil {
		wa.Disconnect()
	}
	procRegistry.Shutdown()
	recorder.Shutdown(shutdownCtx)

	logger.Info("sidekick stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); err != nil {
			slog.Info("no config file found, using defaults", "path", path)
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildLLM returns the chat client and the embedder. Anthropic has no
// embeddings endpoint, so it is paired with an Ollama embedder.
func buildLLM(cfg config.LLMConfig) (llm.Client, memory.Embedder) {
	switch cfg.Backend {
	case "openai":
		client := llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			EmbedModel: cfg.EmbedModel,
			Timeout:    cfg.Timeout,
		})
		return client, client
	case "anthropic":
		client := llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		embedder := llm.NewOllama(llm.OllamaConfig{
			EmbedModel: cfg.EmbedModel,
			Timeout:    cfg.Timeout,
		})
		return client, embedder
	default:
		client := llm.NewOllama(llm.OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			EmbedModel: cfg.EmbedModel,
			Timeout:    cfg.Timeout,
		})
		return client, client
	}
}

func buildToolRegistry(cfg *config.Config, memSvc *memory.Service, embedder memory.Embedder, repo store.Repository, runner *shell.Runner, procRegistry *shell.Registry, curator *evals.Curator, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry()

	for _, t := range memorytool.Tools(memSvc, embedder, repo, logger) {
		registry.Register(t)
	}
	registry.BindCategory("conversation", "Remember and recall facts about the user",
		"add_memory", "search_memory", "list_memories", "forget_memory")
	registry.BindCategory("notes", "Save and search project notes",
		"add_note", "search_notes")

	for _, t := range shelltool.Tools(runner, procRegistry, cfg.Agent.WriteEnabled, logger) {
		registry.Register(t)
	}
	registry.BindCategory("shell", "Run commands and manage background processes",
		"run_command", "manage_process")

	if cfg.Fetch.Mode != "none" {
		var backend fetch.Backend
		if cfg.Fetch.Mode == fetch.ModeBrowser {
			backend = fetch.NewBrowserBackend(cfg.Fetch.Timeout)
		} else {
			backend = fetch.NewHTTPBackend(cfg.Fetch.Timeout)
		}
		for _, t := range fetch.Tools(backend, logger) {
			registry.Register(t)
		}
		registry.BindCategory("fetch", "Retrieve web pages and check fetch capability",
			"get_fetch_mode", "fetch_url")
	} else {
		// No backend: keep the capability probe so workers can learn fetch
		// is unavailable instead of hallucinating page content.
		for _, t := range fetch.Tools(nil, logger) {
			registry.Register(t)
		}
		registry.BindCategory("fetch", "Check fetch capability",
			"get_fetch_mode")
	}

	for _, t := range selfcode.Tools(cfg.Workspace.Dir, logger) {
		registry.Register(t)
	}
	registry.BindCategory("selfcode", "Inspect the workspace source tree",
		"list_source_files", "read_source_file")

	for _, t := range evaltool.Tools(curator, logger) {
		registry.Register(t)
	}
	registry.BindCategory("evaluation", "Inspect the curated eval dataset",
		"dataset_stats")

	for _, t := range debugtool.Tools(repo, logger) {
		registry.Register(t)
	}
	registry.BindCategory("debugging", "Inspect recent traces and their scores",
		"recent_traces", "trace_scores")

	return registry
}

// maintenanceLoop prunes old traces and expired self-corrections once at
// startup and then daily.
func maintenanceLoop(ctx context.Context, repo store.Repository, retentionDays int, logger *slog.Logger) {
	run := func() {
		if retentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			if n, err := repo.DeleteTracesBefore(ctx, cutoff); err != nil {
				logger.Warn("trace retention sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("pruned old traces", "count", n)
			}
		}
		if n, err := repo.CleanupExpiredSelfCorrections(ctx, 30*24*time.Hour); err != nil {
			logger.Warn("self-correction cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("deactivated expired self-corrections", "count", n)
		}
	}

	run()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
