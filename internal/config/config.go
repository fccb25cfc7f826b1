// Package config loads and validates the runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

// Config is the main configuration structure for Longhaul.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Context  ContextConfig  `yaml:"context"`
	Budget   models.Budget  `yaml:"budget"`
	Marathon MarathonConfig `yaml:"marathon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownGrace bounds graceful shutdown of in-flight requests.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type StorageConfig struct {
	// BaseDir is the root of all durable state (sessions/, marathon/,
	// token/, api/).
	BaseDir string `yaml:"base_dir"`
}

type LLMConfig struct {
	Model string `yaml:"model"`
	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int `yaml:"max_output_tokens"`
	// Pricing maps model name to per-million-token USD rates.
	Pricing map[string]ModelPricing `yaml:"pricing"`
	Timeout time.Duration           `yaml:"timeout"`
}

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// FallbackModelKey is the pricing-table row consulted for models without
// an entry of their own. Deployments override it like any other row.
const FallbackModelKey = "default"

// FallbackPricing is the built-in rate for the fallback row, used when
// the configured pricing map has no row of its own.
var FallbackPricing = ModelPricing{InputPerMTok: 3.0, OutputPerMTok: 15.0}

type AgentConfig struct {
	// MaxToolLoops bounds tool iterations within one turn.
	MaxToolLoops int `yaml:"max_tool_loops"`
	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	// SystemPrompt is prepended to every turn.
	SystemPrompt string `yaml:"system_prompt"`
}

type ContextConfig struct {
	// MaxContextTokens is the model window size the manager packs against.
	MaxContextTokens int `yaml:"max_context_tokens"`
	// CompactionRatio triggers compaction when estimated usage crosses it.
	CompactionRatio float64 `yaml:"compaction_ratio"`
	// MinMessagesForCompaction gates compaction on history length.
	MinMessagesForCompaction int `yaml:"min_messages_for_compaction"`
	// KeepRecentFraction is the share of newest messages kept verbatim.
	KeepRecentFraction float64 `yaml:"keep_recent_fraction"`
	// ReservedOutputTokens is headroom left for the model's reply.
	ReservedOutputTokens int `yaml:"reserved_output_tokens"`
}

type MarathonConfig struct {
	// HeartbeatInterval is how often an executing marathon stamps liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// WatchdogInterval is the stale-scan period.
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	// StaleThreshold marks a marathon stale when its heartbeat is older.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	// MaxRestartAttempts bounds watchdog restarts before failing the run.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
	// CheckpointEvery persists a checkpoint after this many milestones.
	CheckpointEvery int `yaml:"checkpoint_every"`
	// MaxMilestoneAttempts bounds retries of a failing milestone.
	MaxMilestoneAttempts int `yaml:"max_milestone_attempts"`
	// ApprovalTimeout expires pending approval requests.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file, expanding ${ENV} references
// and filling defaults.
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

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = "data"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "default"
	}
	if cfg.LLM.MaxOutputTokens == 0 {
		cfg.LLM.MaxOutputTokens = 8192
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = time.Minute
	}
	if cfg.LLM.Pricing == nil {
		cfg.LLM.Pricing = map[string]ModelPricing{}
	}
	if _, ok := cfg.LLM.Pricing[FallbackModelKey]; !ok {
		cfg.LLM.Pricing[FallbackModelKey] = FallbackPricing
	}
	if cfg.Agent.MaxToolLoops == 0 {
		cfg.Agent.MaxToolLoops = 200
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 2 * time.Minute
	}
	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = 200_000
	}
	if cfg.Context.CompactionRatio == 0 {
		cfg.Context.CompactionRatio = 0.75
	}
	if cfg.Context.MinMessagesForCompaction == 0 {
		cfg.Context.MinMessagesForCompaction = 10
	}
	if cfg.Context.KeepRecentFraction == 0 {
		cfg.Context.KeepRecentFraction = 0.30
	}
	if cfg.Context.ReservedOutputTokens == 0 {
		cfg.Context.ReservedOutputTokens = 2000
	}
	if cfg.Budget.WarnAtPct == 0 {
		cfg.Budget.WarnAtPct = 0.8
	}
	if cfg.Marathon.HeartbeatInterval == 0 {
		cfg.Marathon.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Marathon.WatchdogInterval == 0 {
		cfg.Marathon.WatchdogInterval = time.Minute
	}
	if cfg.Marathon.StaleThreshold == 0 {
		cfg.Marathon.StaleThreshold = 5 * time.Minute
	}
	if cfg.Marathon.MaxRestartAttempts == 0 {
		cfg.Marathon.MaxRestartAttempts = 5
	}
	if cfg.Marathon.CheckpointEvery == 0 {
		cfg.Marathon.CheckpointEvery = 5
	}
	if cfg.Marathon.MaxMilestoneAttempts == 0 {
		cfg.Marathon.MaxMilestoneAttempts = 3
	}
	if cfg.Marathon.ApprovalTimeout == 0 {
		cfg.Marathon.ApprovalTimeout = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Context.CompactionRatio <= 0 || cfg.Context.CompactionRatio > 1 {
		return fmt.Errorf("context.compaction_ratio must be in (0, 1], got %v", cfg.Context.CompactionRatio)
	}
	if cfg.Context.KeepRecentFraction <= 0 || cfg.Context.KeepRecentFraction > 1 {
		return fmt.Errorf("context.keep_recent_fraction must be in (0, 1], got %v", cfg.Context.KeepRecentFraction)
	}
	if cfg.Context.ReservedOutputTokens >= cfg.Context.MaxContextTokens {
		return fmt.Errorf("context.reserved_output_tokens (%d) must be below max_context_tokens (%d)",
			cfg.Context.ReservedOutputTokens, cfg.Context.MaxContextTokens)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	return nil
}
