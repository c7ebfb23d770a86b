package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/castroom/backend/config"
	"github.com/castroom/backend/internal/casting"
	"github.com/castroom/backend/internal/media"
	"github.com/castroom/backend/internal/metrics"
	"github.com/castroom/backend/internal/middleware"
	"github.com/castroom/backend/internal/realtime"
	"github.com/castroom/backend/internal/session"
	"github.com/castroom/backend/internal/transcode"
	"github.com/castroom/backend/pkg/redis"
	"github.com/castroom/backend/pkg/response"
	"github.com/castroom/backend/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP + WebSocket server",
	RunE:  runServe,
}

// app holds the wired server components.
type app struct {
	engine  *gin.Engine
	hub     *realtime.Hub
	store   *session.InMemoryStore
	jobs    *transcode.Registry
	sup     *transcode.Supervisor
	janitor *transcode.Janitor
	rdb     *redis.Client
	logger  *zap.Logger
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.App)
	defer logger.Sync()

	if !cfg.App.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	a.janitor.Start()

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     a.engine,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// WebSocket and media range responses are long-lived, so no write timeout
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("public_base_url", cfg.Server.PublicBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		a.close()
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	a.close()
	logger.Info("server stopped")
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m := metrics.New()
	store := session.NewInMemoryStore()
	jobs := transcode.NewRegistry()

	a := &app{store: store, jobs: jobs, logger: logger}

	var hub *realtime.Hub
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		logger.Info("redis disabled; broadcasts stay on this instance")
		hub = realtime.NewHub(logger, nil, nil)
	}
	hub.SetConnectionCountHandler(m.SetConnections)
	a.hub = hub

	var backend media.Backend
	var resolve func(string) (string, bool)
	uploadDir := ""
	if cfg.AWS.UploadsBucket != "" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			UploadsBucket:        cfg.AWS.UploadsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("s3: %w", err)
		}
		s3Backend := &media.S3Backend{S3: s3}
		backend = s3Backend
		resolve = s3Backend.Resolve
	} else {
		disk, err := media.NewLocalDisk(cfg.Media.UploadDir, cfg.Server.PublicBaseURL)
		if err != nil {
			a.close()
			return nil, err
		}
		backend = disk
		resolve = disk.Resolve
		uploadDir = disk.Dir
	}

	hlsRoot, err := filepath.Abs(cfg.Transcode.OutputDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("hls dir: %w", err)
	}
	sup := transcode.NewSupervisor(transcode.Options{
		FFmpegPath:   cfg.Transcode.FFmpegPath,
		OutputDir:    hlsRoot,
		PublicPrefix: cfg.Server.PublicBaseURL + "/hls",
		Retention:    cfg.Transcode.Retention(),
		StopTimeout:  cfg.Transcode.StopTimeout(),
		ResolveInput: resolve,
	}, logger)
	a.sup = sup

	router := casting.NewRouter(store, jobs, sup, hub, logger, casting.WithMetrics(m))
	sup.SetFailureHandler(router.HandleTranscodeFailure)

	a.janitor = transcode.NewJanitor(hlsRoot, cfg.Transcode.Retention(), cfg.Transcode.PurgeInterval(), logger, m.AddPurgedFiles)

	mediaHandler := media.NewHandler(backend, uploadDir, int64(cfg.Media.MaxUploadMB)<<20, logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	engine.Use(middleware.Logger(logger))
	engine.Use(middleware.Metrics(m))

	engine.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(m.Handler(func() {
		m.SetActiveSessions(store.Len())
		m.SetActiveTranscodes(jobs.Len())
		m.SetConnections(hub.ConnectionCount())
	})))
	engine.GET("/rooms", func(c *gin.Context) {
		rooms := store.List()
		for i := range rooms {
			rooms[i].MemberCount = hub.MemberCount(rooms[i].RoomID)
		}
		response.OK(c, rooms)
	})

	engine.POST("/upload", mediaHandler.Upload)
	engine.GET("/media/*name", mediaHandler.Serve)
	engine.HEAD("/media/*name", mediaHandler.Serve)
	engine.Static("/hls", hlsRoot)

	origins := make([]string, 0)
	for o := range middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins) {
		origins = append(origins, o)
	}
	engine.GET("/ws", realtime.ServeWs(hub, router, realtime.ClientOptions{
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
		AllowedOrigins: origins,
	}, logger))

	a.engine = engine
	return a, nil
}

// close stops every transcode, the janitor and the Redis fan-out.
func (a *app) close() {
	if a.sup != nil {
		for _, job := range a.jobs.Snapshot() {
			if err := a.sup.Stop(job); err != nil {
				a.logger.Warn("stop transcode", zap.String("job_id", job.ID), zap.Error(err))
			}
			a.jobs.CompareAndRemove(job.RoomID, job)
		}
	}
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
