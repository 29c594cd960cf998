// Package cli wires the rewards daemon and its admin subcommands.
package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eduquiz/rewards/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rewardsd",
	Short: "Reward ledger and rate-limit engine",
	Long: `rewardsd credits gold and experience for learning-platform activity,
enforces per-user sliding-window quotas on abuse-prone actions, and serves
balances and leaderboards over HTTP. Crediting is idempotent: redelivered
events never double-credit.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.rewards/config.toml)")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies the logging settings.
func loadConfig() (daemon.Config, error) {
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return daemon.Config{}, err
	}

	lvl, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if cfg.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return cfg, nil
}
