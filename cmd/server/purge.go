package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/castroom/backend/config"
	"github.com/castroom/backend/internal/transcode"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run one HLS retention pass and exit",
	RunE:  runPurge,
}

func init() {
	purgeCmd.Flags().Duration("older-than", 0, "override HLS_RETENTION_MIN (e.g. 30m)")
}

func runPurge(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.App)
	defer logger.Sync()

	age := cfg.Transcode.Retention()
	if d, _ := cmd.Flags().GetDuration("older-than"); d > 0 {
		age = d
	}
	j := transcode.NewJanitor(cfg.Transcode.OutputDir, age, cfg.Transcode.PurgeInterval(), logger, nil)
	n := j.RunOnce()
	logger.Info("purge done", zap.String("root", cfg.Transcode.OutputDir), zap.Duration("older_than", age), zap.Int("files", n))
	return nil
}
