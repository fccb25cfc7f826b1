// Package main is the CLI entry point for the Longhaul agent runtime.
//
// Longhaul runs durable autonomous agents: a tool-using turn loop with
// context compaction and budget enforcement, long-running marathon goals
// supervised by a watchdog, and a keyed HTTP control plane.
//
// # Basic Usage
//
// Start the server:
//
//	longhaul serve --config longhaul.yaml
//
// Manage API keys:
//
//	longhaul keys create --name ci --scopes chat,sessions
//	longhaul keys list
//
// Drive marathons over the control plane:
//
//	longhaul marathon start --goal "Refactor the billing module"
//	longhaul marathon status <id>
//
// # Environment Variables
//
//   - LONGHAUL_CONFIG: path to the configuration file (default: longhaul.yaml)
//   - LONGHAUL_API_KEY: control-plane key for marathon subcommands
//   - LONGHAUL_LLM_BASE_URL: OpenAI-compatible completions endpoint
//   - LONGHAUL_LLM_API_KEY: credential for the LLM endpoint
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build-time metadata, overridden via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "longhaul",
		Short:        "Durable autonomous agent runtime",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildKeysCmd(),
		buildMarathonCmd(),
	)
	return root
}

// resolveConfigPath applies the flag > env > default precedence.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("LONGHAUL_CONFIG"); env != "" {
		return env
	}
	return "longhaul.yaml"
}
