package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/suPer8Hu/chat-sync/internal/app"
	"github.com/suPer8Hu/chat-sync/internal/config"
	"github.com/suPer8Hu/chat-sync/internal/jobs"
	"github.com/suPer8Hu/chat-sync/internal/logger"
	"github.com/suPer8Hu/chat-sync/internal/store/rabbitmq"
	"go.uber.org/zap"
)

// The worker drains the RabbitMQ job queue. With JOB_QUEUE=inprocess the API
// server runs jobs itself and this binary is not needed.
func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.JobQueue != "rabbitmq" {
		zl.Fatal("worker requires JOB_QUEUE=rabbitmq", zap.String("job_queue", cfg.JobQueue))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, zl.Named("worker"))
	if err != nil {
		zl.Fatal("rabbit consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.Permanent = jobs.Permanent

	zl.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := consumer.Run(ctx, cfg.WorkerConcurrency, a.Runner.Run); err != nil {
		zl.Error("worker stopped", zap.Error(err))
		return
	}
	zl.Info("worker shutting down")
}
