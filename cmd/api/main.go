package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azin/mediacache-service/internal/api"
	"github.com/azin/mediacache-service/internal/api/handlers"
	"github.com/azin/mediacache-service/internal/app"
	"github.com/azin/mediacache-service/internal/config"
	"github.com/azin/mediacache-service/pkg/logger"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(logger.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	}); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("starting mediacache API",
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.Mode),
		zap.String("cache_dir", cfg.Storage.CacheDir))

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("failed to init application", zap.Error(err))
	}

	// 预取队列依赖 Redis，未配置时 /v1/prefetch 返回 503
	var enqueuer handlers.TaskEnqueuer
	if cfg.RedisEnabled() {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr: cfg.Redis.URL,
			DB:   cfg.Redis.DB,
		})
		defer client.Close()
		enqueuer = client
	} else {
		log.Warn("redis is not configured, prefetch is disabled")
	}

	router := api.SetupRouter(cfg, api.Handlers{
		Media:   handlers.NewMediaHandler(a.Coordinator, a.Queue.Layout(), a.Settings, log),
		Jobs:    handlers.NewJobHandler(a.History, a.Queue, a.Coordinator, enqueuer, cfg.Worker.MaxRetry, log),
		Setting: handlers.NewSettingHandler(a.Settings, log),
		Cache:   handlers.NewCacheHandler(a.Cache, log),
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		log.Error("failed to close application", zap.Error(err))
	}
}
