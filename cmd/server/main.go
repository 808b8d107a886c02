// Package main runs the live streaming coordinator HTTP server with
// WebSocket fan-out and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsefit/livestream/config"
	"github.com/pulsefit/livestream/internal/analytics"
	"github.com/pulsefit/livestream/internal/auth"
	"github.com/pulsefit/livestream/internal/chat"
	"github.com/pulsefit/livestream/internal/coordinator"
	"github.com/pulsefit/livestream/internal/middleware"
	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/notify"
	"github.com/pulsefit/livestream/internal/presence"
	"github.com/pulsefit/livestream/internal/realtime"
	"github.com/pulsefit/livestream/internal/streams"
	"github.com/pulsefit/livestream/pkg/database"
	"github.com/pulsefit/livestream/pkg/queue"
	"github.com/pulsefit/livestream/pkg/redis"
	"github.com/pulsefit/livestream/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	var notifier notify.Notifier = notify.NewQueueNotifier(jobQueue, logger)
	if cfg.Worker.NotifyMode == "log" {
		notifier = notify.NewLogNotifier(logger)
	}

	// Stores
	streamRepo := streams.NewRepository(pool)
	presenceRepo := presence.NewRepository(pool)
	chatRepo := chat.NewRepository(pool)
	analyticsRepo := analytics.NewRepository(pool)

	tracker := presence.NewTracker(presenceRepo, streamRepo, logger)
	feed := chat.NewFeed(chatRepo, streamRepo, logger)
	aggregator := analytics.NewAggregator(analyticsRepo, presenceRepo, logger)

	coord := coordinator.New(streamRepo, tracker, feed, aggregator, notifier, jobQueue, cfg.Stream.ViewerMilestones, logger)
	coordHandler := coordinator.NewHandler(coord, cfg.Stream.DefaultMaxViewers, models.StreamQuality(cfg.Stream.DefaultQuality))

	jwtValidate := func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Media pipeline publish check (stream key is the credential; no JWT)
	router.POST("/ingest/verify", coordHandler.VerifyIngest)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/sessions", middleware.RequireRole("admin", "trainer"), coordHandler.Create)
		api.GET("/sessions", coordHandler.List)
		api.GET("/sessions/:id", coordHandler.GetByID)

		api.POST("/sessions/:id/start", coordHandler.Start)
		api.POST("/sessions/:id/pause", coordHandler.Pause)
		api.POST("/sessions/:id/resume", coordHandler.Resume)
		api.POST("/sessions/:id/end", coordHandler.End)

		api.POST("/sessions/:id/join", coordHandler.Join)
		api.POST("/sessions/:id/leave", coordHandler.Leave)
		api.GET("/sessions/:id/viewers/count", coordHandler.ViewerCount)

		api.GET("/sessions/:id/chat", coordHandler.ChatSince)
		api.POST("/sessions/:id/chat", coordHandler.PostChat)

		api.GET("/sessions/:id/analytics", coordHandler.Analytics)
		api.GET("/sessions/:id/analytics/series", coordHandler.AnalyticsSeries)
		api.POST("/sessions/:id/analytics/rollup", middleware.RequireRole("admin", "trainer"), coordHandler.RollupNow)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, coord, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
