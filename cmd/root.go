package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "po-cli",
	Short: "Purchase-order extraction, review and ERP hand-off",
	Long:  "Extracts purchase-order fields from uploaded documents, lets a reviewer correct them and forwards approved orders to the ERP.",
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
