package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sss97133/nuke-recon/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "nuke-recon",
	Short: "Multi-source field reconciliation engine for vehicle records",
	Long:  "Ingests untrusted claims about vehicles, gates them on identifier match, scores them, and maintains an append-only evidence ledger with full provenance.",
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
