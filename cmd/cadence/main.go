// Package main implements the cadence CLI.
//
// Run without a subcommand (or as "cadence post-commit") it is the git
// post-commit hook: it records HEAD and always exits 0 so a commit is never
// blocked. The remaining commands read what the hook recorded.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"github.com/fyrsmithlabs/cadence/internal/logging"
)

var (
	// configPath overrides the config file location
	configPath string
	// repoDir is the working tree the hook and status commands look at
	repoDir string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Commit-driven red/green/refactor cycle telemetry",
	Long: `cadence classifies every commit into a TDD phase, measures how long each
red-to-green cycle took, appends the result to a local event log and
optionally publishes it to an OpenTelemetry backend.

Install it as a git post-commit hook:
  cadence install

Running cadence with no subcommand is the same as "cadence post-commit".`,
	Version:      version,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runPostCommit,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/cadence/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&repoDir, "repo", "C", ".", "repository working tree")
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	return config.LoadWithFile(configPath)
}

// newLogger builds the stderr logger described by the logging section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc)
}

// commandLogger loads config and logger for the read-side commands.
func commandLogger() (*config.Config, *logging.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
