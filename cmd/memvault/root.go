package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memoryvault/memoryvault/internal/logging"
	"github.com/memoryvault/memoryvault/pkg/config"
)

var (
	// Version is set during build.
	Version = "0.1.0"

	configPath string
	logLevel   string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "memvault",
	Short: "Tiered, vector-indexed long-term memory store for AI assistants",
	Long: `memvault stores, scores, tiers, and retrieves an assistant's
long-term memories, ranking recall by a blend of recency, relevance, and
importance.

Examples:
  memvault remember "the deploy window is Tuesdays at 2pm"
  memvault recall "when do we deploy"
  memvault serve --config ./memvault.yaml
  memvault doctor`,
	Version: Version,
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-essential output")
}

// loadConfig loads configuration and initializes the global logger,
// honoring --log-level as an override of the file's own value.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	return cfg, nil
}
