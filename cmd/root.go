package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dramline/caskwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "caskwatch",
	Short: "Catalog mirror and alert pipeline",
	Long:  "Crawls the cask catalog, reconciles a local mirror, tracks recently added bottlings, and notifies users whose alerts match new arrivals.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
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
