package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Agent.MaxToolLoops != 200 {
		t.Errorf("max_tool_loops = %d, want 200", cfg.Agent.MaxToolLoops)
	}
	if cfg.Context.CompactionRatio != 0.75 {
		t.Errorf("compaction_ratio = %v, want 0.75", cfg.Context.CompactionRatio)
	}
	if cfg.Marathon.StaleThreshold != 5*time.Minute {
		t.Errorf("stale_threshold = %v, want 5m", cfg.Marathon.StaleThreshold)
	}
	if cfg.Marathon.ApprovalTimeout != 24*time.Hour {
		t.Errorf("approval_timeout = %v, want 24h", cfg.Marathon.ApprovalTimeout)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LONGHAUL_TEST_DIR", "/var/lib/longhaul")
	path := writeConfig(t, "storage:\n  base_dir: ${LONGHAUL_TEST_DIR}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.BaseDir != "/var/lib/longhaul" {
		t.Errorf("base_dir = %q, want expanded env value", cfg.Storage.BaseDir)
	}
}

func TestLoadRejectsInvalidRatio(t *testing.T) {
	path := writeConfig(t, "context:\n  compaction_ratio: 1.5\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for compaction_ratio > 1")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Context.ReservedOutputTokens != 2000 {
		t.Errorf("reserved_output_tokens = %d, want 2000", cfg.Context.ReservedOutputTokens)
	}
	if cfg.Marathon.CheckpointEvery != 5 {
		t.Errorf("checkpoint_every = %d, want 5", cfg.Marathon.CheckpointEvery)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, want info", cfg.Logging.Level)
	}
	if cfg.LLM.Pricing[FallbackModelKey] != FallbackPricing {
		t.Errorf("fallback pricing row = %+v, want %+v", cfg.LLM.Pricing[FallbackModelKey], FallbackPricing)
	}
}

func TestLoadKeepsConfiguredFallbackPricing(t *testing.T) {
	path := writeConfig(t, "llm:\n  pricing:\n    default:\n      input_per_mtok: 1.0\n      output_per_mtok: 2.0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM.Pricing[FallbackModelKey]; got.InputPerMTok != 1.0 || got.OutputPerMTok != 2.0 {
		t.Errorf("fallback row = %+v, want configured rates", got)
	}
}
