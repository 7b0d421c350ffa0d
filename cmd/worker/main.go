package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/azin/mediacache-service/internal/config"
	"github.com/azin/mediacache-service/internal/worker"
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
	if !cfg.RedisEnabled() {
		log.Fatal("redis is not configured, set REDIS_URL")
	}
	log.Info("starting mediacache prefetch worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("media_server", cfg.Worker.MediaServerURL))

	prefetcher := worker.NewPrefetcher(&cfg.Worker, log)

	// 初始化 asynq 服务器
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr: cfg.Redis.URL,
			DB:   cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"default": 10,
			},
			Logger: &asynqLogger{log.Sugar()},
		},
	)

	// 注册任务处理器
	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TypePrefetch, prefetcher.ProcessTask)

	// 启动服务器，信号由下面统一处理
	if err := srv.Start(mux); err != nil {
		log.Fatal("failed to start worker", zap.Error(err))
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	srv.Shutdown()
}

// asynqLogger asynq 日志适配器
type asynqLogger struct {
	s *zap.SugaredLogger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
