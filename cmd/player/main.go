// Package main runs a headless player that follows one casting session and
// logs what a viewer would see.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/castroom/backend/internal/player"
	"github.com/castroom/backend/internal/timesync"
)

var (
	serverURL string
	sessionID string
	threshold float64
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:          "castroom-player",
	Short:        "Follow a casting session without a browser",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:5000/ws", "casting server WebSocket URL")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "session id to join (the caster's id)")
	rootCmd.Flags().Float64Var(&threshold, "threshold", timesync.DefaultThreshold, "drift in seconds tolerated before jumping")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every sync decision")
	_ = rootCmd.MarkFlagRequired("session")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	est := timesync.New()
	est.Threshold = threshold
	p := player.New(player.NewSimulatedMedia(nil), est, logger)

	var last player.Status
	var lastSrc string
	conn := &player.Conn{
		URL:       serverURL,
		SessionID: sessionID,
		Player:    p,
		Logger:    logger,
		OnState: func(s player.State) {
			src := p.Media().Source()
			if s.Status == last && src == lastSrc {
				return
			}
			last, lastSrc = s.Status, src
			logger.Info("state",
				zap.String("status", string(s.Status)),
				zap.String("room_id", string(s.RoomID)),
				zap.String("source", src),
				zap.Int("index", s.Index),
				zap.Float64("position", p.Media().CurrentTime()),
				zap.Int("sync_errors", s.SyncErrors))
		},
	}

	err = conn.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		logger.Error("player stopped", zap.Error(err))
	}
	return err
}
