// commands.go contains the cobra command definitions and flag wiring. Each
// builder creates one command and delegates to a handler.
package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Longhaul runtime and control plane",
		Long: `Start the agent runtime with the HTTP control plane.

The server will:
1. Load configuration from the specified file (or longhaul.yaml)
2. Open durable state under storage.base_dir (sessions, marathons, usage, keys)
3. Recover interrupted marathons and start the watchdog
4. Serve the keyed HTTP API with metrics on /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  longhaul serve

  # Start with custom config and debug logging
  longhaul serve --config /etc/longhaul/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage control-plane API keys",
	}
	cmd.AddCommand(buildKeysCreateCmd(), buildKeysListCmd(), buildKeysRevokeCmd())
	return cmd
}

func buildKeysCreateCmd() *cobra.Command {
	var (
		configPath string
		name       string
		scopes     []string
		rateLimit  int
		expiresIn  string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print the secret once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(resolveConfigPath(configPath), name, scopes, rateLimit, expiresIn)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{"chat"},
		"Comma-separated scopes (e.g. chat,chat:stream,marathon,admin)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 60, "Requests per minute, 0 for unlimited")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Optional lifetime (e.g. 720h)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func buildKeysListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList(resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildKeysRevokeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysRevoke(resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildMarathonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marathon",
		Short: "Drive long-running goals over the control plane",
	}
	cmd.AddCommand(
		buildMarathonStartCmd(),
		buildMarathonStatusCmd(),
		buildMarathonListCmd(),
		buildMarathonSignalCmd("pause", "Pause an executing marathon"),
		buildMarathonSignalCmd("resume", "Resume a paused marathon"),
		buildMarathonSignalCmd("abort", "Abort a marathon"),
	)
	cmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Control-plane base URL")
	cmd.PersistentFlags().String("api-key", "", "API key (or LONGHAUL_API_KEY)")
	return cmd
}

func buildMarathonStartCmd() *cobra.Command {
	var (
		goal        string
		workdir     string
		constraints []string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a marathon for a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarathonStart(cmd, goal, workdir, constraints)
		},
	}
	cmd.Flags().StringVar(&goal, "goal", "", "Goal to plan and execute (required)")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory hint for the plan")
	cmd.Flags().StringSliceVar(&constraints, "constraint", nil, "Planning constraint (repeatable)")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func buildMarathonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show marathon progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarathonStatus(cmd, args[0])
		},
	}
}

func buildMarathonListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List marathons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarathonList(cmd)
		},
	}
}

func buildMarathonSignalCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarathonSignal(cmd, args[0], action)
		},
	}
}
