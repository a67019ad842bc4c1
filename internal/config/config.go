// Package config defines the immutable runtime configuration. One Config
// is loaded at startup and threaded through the components that need it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Memory     MemoryConfig     `yaml:"memory"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Agent      AgentConfig      `yaml:"agent"`
	Policy     PolicyConfig     `yaml:"policy"`
	Audit      AuditConfig      `yaml:"audit"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Evals      EvalsConfig      `yaml:"evals"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Cron       CronConfig       `yaml:"cron"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Driver selects the repository backend: sqlite (default) or postgres.
	Driver string `yaml:"driver"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`
	// DSN is the postgres connection string when driver is postgres.
	DSN string `yaml:"dsn"`
}

type LLMConfig struct {
	// Backend selects the inference client: ollama (default), openai
	// (any OpenAI-compatible server) or anthropic.
	Backend    string        `yaml:"backend"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	EmbedModel string        `yaml:"embed_model"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ChannelsConfig struct {
	Webhook   WebhookChannelConfig   `yaml:"webhook"`
	Whatsmeow WhatsmeowChannelConfig `yaml:"whatsmeow"`
}

// WebhookChannelConfig drives the WhatsApp-style HTTP channel: inbound
// deliveries arrive on the gateway webhook, replies are POSTed back.
type WebhookChannelConfig struct {
	ReplyURL string `yaml:"reply_url"`
	Token    string `yaml:"token"`
}

type WhatsmeowChannelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SessionPath string `yaml:"session_path"`
}

type PipelineConfig struct {
	MaxToolsPerCall         int `yaml:"max_tools_per_call"`
	MaxToolIterations       int `yaml:"max_tool_iterations"`
	ConversationMaxMessages int `yaml:"conversation_max_messages"`
	HistoryVerbatimCount    int `yaml:"history_verbatim_count"`
	CompactionThreshold     int `yaml:"compaction_threshold"`
	ContextTokenLimit       int `yaml:"context_token_limit"`
}

type MemoryConfig struct {
	// SimilarityThreshold is the L2 distance below which a memory counts
	// as relevant. The default 1.0 is conservative; tune per embedder.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
}

type GuardrailsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	LLMChecks  bool          `yaml:"llm_checks"`
	LLMTimeout time.Duration `yaml:"llm_timeout"`
}

type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	SampleRate    float64 `yaml:"sample_rate"`
	RetentionDays int     `yaml:"retention_days"`
	// OTLPEndpoint enables the second sink: spans are double-written to
	// an OTLP gRPC collector when set.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type AgentConfig struct {
	WriteEnabled   bool          `yaml:"write_enabled"`
	MaxIterations  int           `yaml:"max_iterations"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	SessionsDir    string        `yaml:"sessions_dir"`
	ShellAllowlist []string      `yaml:"shell_allowlist"`
}

type PolicyConfig struct {
	RulesPath string `yaml:"rules_path"`
	HotReload bool   `yaml:"hot_reload"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type FetchConfig struct {
	// Mode is http, browser, or none. Browser mode drives headless Chrome.
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
}

type EvalsConfig struct {
	AutoCurate bool `yaml:"auto_curate"`
}

type WorkspaceConfig struct {
	// Dir holds the bootstrap files (SOUL.md, USER.md, TOOLS.md) and is
	// the working directory for shell commands.
	Dir          string `yaml:"dir"`
	ProjectsRoot string `yaml:"projects_root"`
}

type CronConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sidekick.yaml"
	}
	return filepath.Join(home, ".sidekick", "sidekick.yaml")
}

// Load reads and parses the configuration file, expanding environment
// variables before unmarshaling and applying defaults after.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied and no file read.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dataDir(), "sidekick.db")
	}
	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = "ollama"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "qwen3:14b"
	}
	if cfg.LLM.EmbedModel == "" {
		cfg.LLM.EmbedModel = "nomic-embed-text"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.Pipeline.MaxToolsPerCall <= 0 {
		cfg.Pipeline.MaxToolsPerCall = 8
	}
	if cfg.Pipeline.MaxToolIterations <= 0 {
		cfg.Pipeline.MaxToolIterations = 10
	}
	if cfg.Pipeline.ConversationMaxMessages <= 0 {
		cfg.Pipeline.ConversationMaxMessages = 50
	}
	if cfg.Pipeline.HistoryVerbatimCount <= 0 {
		cfg.Pipeline.HistoryVerbatimCount = 8
	}
	if cfg.Pipeline.CompactionThreshold <= 0 {
		cfg.Pipeline.CompactionThreshold = 20000
	}
	if cfg.Pipeline.ContextTokenLimit <= 0 {
		cfg.Pipeline.ContextTokenLimit = 32000
	}
	if cfg.Memory.SimilarityThreshold <= 0 {
		cfg.Memory.SimilarityThreshold = 1.0
	}
	if cfg.Memory.TopK <= 0 {
		cfg.Memory.TopK = 5
	}
	if cfg.Guardrails.LLMTimeout <= 0 {
		cfg.Guardrails.LLMTimeout = 3 * time.Second
	}
	if cfg.Tracing.SampleRate <= 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.RetentionDays <= 0 {
		cfg.Tracing.RetentionDays = 30
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = 15
	}
	if cfg.Agent.SessionTimeout <= 0 {
		cfg.Agent.SessionTimeout = 300 * time.Second
	}
	if cfg.Agent.SessionsDir == "" {
		cfg.Agent.SessionsDir = filepath.Join(dataDir(), "agent_sessions")
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = filepath.Join(dataDir(), "audit.jsonl")
	}
	if cfg.Fetch.Mode == "" {
		cfg.Fetch.Mode = "http"
	}
	if cfg.Fetch.Timeout <= 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = filepath.Join(dataDir(), "workspace")
	}
	if cfg.Channels.Whatsmeow.SessionPath == "" {
		cfg.Channels.Whatsmeow.SessionPath = filepath.Join(dataDir(), "whatsmeow.db")
	}
}

// Validate rejects values defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn: required for postgres driver")
	}
	switch c.LLM.Backend {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.backend: unknown backend %q", c.LLM.Backend)
	}
	switch c.Fetch.Mode {
	case "http", "browser", "none":
	default:
		return fmt.Errorf("fetch.mode: must be http, browser or none, got %q", c.Fetch.Mode)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate: must be in [0,1], got %v", c.Tracing.SampleRate)
	}
	return nil
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sidekick"
	}
	return filepath.Join(home, ".sidekick")
}
