// Package main runs the casting server: WebSocket room replication, HLS
// transcoding and the media upload endpoints.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/castroom/backend/config"
)

var rootCmd = &cobra.Command{
	Use:           "castroom-server",
	Short:         "Casting server: room state replication and HLS streaming",
	Long:          `HTTP + WebSocket API. Commands: serve (default), purge.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := newLogger(config.AppConfig{})
		logger.Error("exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(app config.AppConfig) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if app.Development() {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if app.LogLevel != "" {
		if lvl, err := zapcore.ParseLevel(strings.ToLower(app.LogLevel)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
