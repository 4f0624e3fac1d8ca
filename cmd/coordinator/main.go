// Command coordinator starts the roomdrop real-time coordination service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/config"
	"github.com/mossy-p/roomdrop/internal/blob"
	"github.com/mossy-p/roomdrop/internal/call"
	"github.com/mossy-p/roomdrop/internal/content"
	"github.com/mossy-p/roomdrop/internal/handlers"
	"github.com/mossy-p/roomdrop/internal/match"
	"github.com/mossy-p/roomdrop/internal/middleware"
	"github.com/mossy-p/roomdrop/internal/presence"
	"github.com/mossy-p/roomdrop/internal/redisclient"
	"github.com/mossy-p/roomdrop/internal/relay"
	"github.com/mossy-p/roomdrop/internal/retry"
	"github.com/mossy-p/roomdrop/internal/session"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	if cfg.Environment == "production" {
		logger, _ = zap.NewProduction()
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The shared store is optional at startup: the engine serves in
	// fallback mode until it comes up, and readiness reports the gap.
	redisClient, err := redisclient.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("shared store unreachable at startup, running degraded", zap.Error(err))
	} else {
		logger.Info("shared store connected",
			zap.String("host", cfg.Redis.Host),
			zap.String("port", cfg.Redis.Port),
		)
	}
	defer redisClient.Close()

	monitor := redisclient.NewMonitor(redisClient, retry.DefaultPolicy(), logger)
	go monitor.Run(ctx)

	blobs, err := blob.NewDiskStorage(cfg.UploadDir)
	if err != nil {
		logger.Fatal("upload storage", zap.Error(err))
	}

	reg := presence.NewFailover(
		presence.NewRedisRegistry(redisClient, cfg.Retention.PresenceTTL),
		presence.NewMemoryRegistry(),
		logger,
	)
	store := content.NewFailover(
		content.NewRedisStore(redisClient, cfg.Retention.PresenceTTL),
		content.NewMemoryStore(),
		logger,
	)

	events := relay.New(logger)
	calls := call.NewManager(events, nil, logger, 30*time.Second, 5*time.Second)
	queue := match.NewQueue(calls, events, logger)
	go queue.Run(ctx)

	sweeper := content.NewSweeper(store, blobs, events, logger,
		cfg.Retention.SweepInterval,
		cfg.Retention.TextWindow,
		cfg.Retention.FileWindow,
	)
	go sweeper.Run(ctx)

	deps := session.Deps{
		Presence: reg,
		Content:  store,
		Relay:    events,
		Calls:    calls,
		Match:    queue,
		Blobs:    blobs,
		Logger:   logger,
	}
	api := handlers.NewAPI(cfg, deps, monitor)

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/healthz", api.Healthz)
	router.GET("/readyz", api.Readyz)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/room-info", api.RoomInfo)
		apiGroup.GET("/room/:roomId", api.GetRoom)
		apiGroup.POST("/upload", api.Upload)
		apiGroup.GET("/file/:fileId", api.Download)
		apiGroup.DELETE("/file/:fileId", middleware.DeviceAuth(cfg.JWTSecret), api.DeleteFile)
	}

	router.GET("/ws", api.Connect)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("starting coordination service", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
