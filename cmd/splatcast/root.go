package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/parrishsteve/splatcast/config"
)

// rootFlags holds the persistent command-line configuration.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Multi-tenant event-streaming gateway",
		Long:          appName + " validates, transforms, and streams JSON events between producers and WebSocket subscribers over NATS JetStream.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger := setupLogger(flags.logLevel, flags.logFormat)
			slog.SetDefault(logger)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c",
		getEnv("SPLATCAST_CONFIG", ""),
		"Path to configuration file (env: SPLATCAST_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level",
		getEnv("SPLATCAST_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SPLATCAST_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format",
		getEnv("SPLATCAST_LOG_FORMAT", "json"),
		"Log format: json, text (env: SPLATCAST_LOG_FORMAT)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newValidateCommand(flags))
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newValidateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := loadConfig(flags.configPath); err != nil {
				return err
			}
			slog.Info("Configuration is valid", "config_path", flags.configPath)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build %s)\n", appName, Version, BuildTime)
		},
	}
}

// loadConfig merges the defaults, an optional file layer, and environment
// overrides. Without a file the defaults target a local broker.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.Load()
	}
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
