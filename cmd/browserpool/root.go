package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserpool/internal/config"
	"github.com/neboloop/browserpool/internal/logging"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	verbose bool
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "browserpool",
		Short: "Browserpool - pooled Chromium workers with shared login state",
		Long: `Browserpool runs browser automation tasks on a bounded pool of Chromium
workers. Throwaway "ephemeral" workers are seeded with the login state of a
single persistent "master" profile, which a human keeps fresh with
'browserpool login'.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(FetchCmd())
	rootCmd.AddCommand(LoginCmd())
	rootCmd.AddCommand(SnapshotCmd())
	rootCmd.AddCommand(CleanCmd())
	rootCmd.AddCommand(ConfigCmd())

	return rootCmd
}

// loadConfig reads --config or the data directory's config.yaml and installs
// the configured logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.Setup(logging.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
