// Package main runs the background job worker (analytics rollups,
// notification delivery, periodic snapshots for live sessions).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsefit/livestream/config"
	"github.com/pulsefit/livestream/internal/analytics"
	"github.com/pulsefit/livestream/internal/presence"
	"github.com/pulsefit/livestream/internal/streams"
	"github.com/pulsefit/livestream/internal/worker"
	"github.com/pulsefit/livestream/pkg/database"
	"github.com/pulsefit/livestream/pkg/queue"
	"github.com/pulsefit/livestream/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	streamRepo := streams.NewRepository(pool)
	presenceRepo := presence.NewRepository(pool)
	analyticsRepo := analytics.NewRepository(pool)
	aggregator := analytics.NewAggregator(analyticsRepo, presenceRepo, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(jobQueue, aggregator, streamRepo, cfg.Worker.NotifyWebhookURL, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go processor.RunSnapshots(workerCtx, time.Duration(cfg.Worker.RollupIntervalSec)*time.Second)
	logger.Info("worker started",
		zap.Int("rollup_interval_sec", cfg.Worker.RollupIntervalSec))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
