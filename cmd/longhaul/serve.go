package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/internal/auth"
	"github.com/longhaul-ai/longhaul/internal/budget"
	"github.com/longhaul-ai/longhaul/internal/config"
	ctxmgr "github.com/longhaul-ai/longhaul/internal/context"
	"github.com/longhaul-ai/longhaul/internal/gateway"
	"github.com/longhaul-ai/longhaul/internal/marathon"
	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/internal/sessions"
)

// defaultAgentID names the session namespace served over the HTTP API.
const defaultAgentID = "main"

// runServe wires the full runtime and blocks until the context is canceled
// or the listener fails.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(os.Stderr, level)
	logger.Info("starting longhaul",
		"version", version, "commit", commit, "config", configPath)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	base := cfg.Storage.BaseDir
	ledger, err := budget.NewLedger(filepath.Join(base, "token"))
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	accountant := budget.NewAccountant(cfg.Budget, ledger, cfg.LLM.Pricing, metrics, logger)

	keys, err := auth.NewKeyStore(filepath.Join(base, "api", "keys.json"), logger)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	store, err := sessions.NewFileStore(filepath.Join(base, "sessions"), logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	provider, err := newLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}

	registry := agent.NewRegistry()

	// The approval hook is late-bound: the executor needs it at build time
	// but it comes from the marathon manager, which needs the agent.
	var approvalHook agent.ApprovalFunc
	executor := agent.NewExecutor(registry, cfg.Agent.ToolTimeout,
		func(ctx context.Context, tool *agent.Tool, args json.RawMessage) error {
			if approvalHook == nil {
				return nil
			}
			return approvalHook(ctx, tool, args)
		}, metrics, logger)

	summarizer := agent.NewProviderSummarizer(provider, cfg.LLM.Model, 0)
	compactor := ctxmgr.NewCompactor(ctxmgr.CompactorConfig{
		MaxContextTokens:   cfg.Context.MaxContextTokens,
		CompactionRatio:    cfg.Context.CompactionRatio,
		MinMessages:        cfg.Context.MinMessagesForCompaction,
		KeepRecentFraction: cfg.Context.KeepRecentFraction,
	}, summarizer, metrics, logger)

	ag := agent.New(agent.Config{
		AgentID:              defaultAgentID,
		Model:                cfg.LLM.Model,
		SystemPrompt:         cfg.Agent.SystemPrompt,
		MaxToolLoops:         cfg.Agent.MaxToolLoops,
		MaxOutputTokens:      cfg.LLM.MaxOutputTokens,
		MaxContextTokens:     cfg.Context.MaxContextTokens,
		ReservedOutputTokens: cfg.Context.ReservedOutputTokens,
		LLMTimeout:           cfg.LLM.Timeout,
	}, provider, registry, executor, store, accountant, compactor, metrics, logger)

	mstore, err := marathon.NewStore(filepath.Join(base, "marathon"), logger)
	if err != nil {
		return fmt.Errorf("open marathon store: %w", err)
	}
	webhooks, err := gateway.NewWebhookStore(filepath.Join(base, "api", "webhooks.json"), logger)
	if err != nil {
		return fmt.Errorf("open webhook store: %w", err)
	}
	planner := marathon.NewPlanner(provider, cfg.LLM.Model, logger)
	runner := marathon.NewAgentRunner(ag, accountant)
	manager := marathon.NewManager(marathon.ManagerConfig{
		Heartbeat:            cfg.Marathon.HeartbeatInterval,
		CheckpointEvery:      cfg.Marathon.CheckpointEvery,
		MaxMilestoneAttempts: cfg.Marathon.MaxMilestoneAttempts,
		ApprovalTimeout:      cfg.Marathon.ApprovalTimeout,
	}, mstore, planner, runner, webhooks, metrics, logger)
	approvalHook = manager.ApprovalHook()

	// The watchdog's initial scan recovers marathons interrupted by the
	// previous process.
	watchdog := marathon.NewWatchdog(marathon.WatchdogConfig{
		Tick:               cfg.Marathon.WatchdogInterval,
		StaleThreshold:     cfg.Marathon.StaleThreshold,
		MaxRestartAttempts: cfg.Marathon.MaxRestartAttempts,
	}, mstore, manager, webhooks, metrics, logger)
	if err := watchdog.Start(); err != nil {
		return err
	}

	server := gateway.NewServer(gateway.Deps{
		Config:     cfg,
		Agent:      ag,
		AgentID:    defaultAgentID,
		Sessions:   store,
		Accountant: accountant,
		Keys:       keys,
		Marathons:  manager,
		Webhooks:   webhooks,
		Metrics:    metrics,
		Gatherer:   reg,
		Logger:     logger,
		Version:    version,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err := <-serveErr:
		watchdog.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", cfg.Server.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	watchdog.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("marathon shutdown", "error", err)
	}
	if err := keys.Flush(); err != nil {
		logger.Warn("key store flush", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// loadConfig reads the file when present and falls back to built-in defaults
// when the default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && os.Getenv("LONGHAUL_CONFIG") == "" {
		return config.Default(), nil
	}
	return nil, err
}
