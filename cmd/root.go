package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/config"
)

var cfg *config.Config

// configModeKey annotates commands with the config.Validate mode they need.
const configModeKey = "config-mode"

var rootCmd = &cobra.Command{
	Use:   "saferoute",
	Short: "Safety-aware route optimizer",
	Long:  "Generates alternative routes through waypoint exploration, scores them against crime, lighting, and population data, and ranks them for safety and distance.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if err := cfg.Validate(cmd.Annotations[configModeKey]); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
