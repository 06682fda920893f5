package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/app"
	"github.com/suPer8Hu/chat-sync/internal/config"
	"github.com/suPer8Hu/chat-sync/internal/httpapi"
	"github.com/suPer8Hu/chat-sync/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-sync/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.Blob.EnsureBucket(ctx); err != nil {
		zl.Warn("blob bucket not ready, image uploads will fail", zap.Error(err))
	}
	if a.Bridge != nil {
		ready := make(chan struct{})
		go func() {
			if err := a.Bridge.Run(ctx, ready); err != nil {
				zl.Error("realtime bridge stopped", zap.Error(err))
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			zl.Warn("realtime bridge subscription not confirmed")
		}
	}
	if a.Pool != nil {
		a.Pool.Start(ctx, cfg.WorkerConcurrency)
	}
	go a.Maintain(ctx, time.Minute)

	h := handlers.NewHandler(handlers.Deps{
		BaseCtx:      ctx,
		Cfg:          cfg,
		Log:          zl,
		Directory:    a.Directory,
		Messages:     a.Messages,
		Translations: a.Translations,
		SmartReplies: a.SmartReplies,
		Typing:       a.Typing,
		Users:        a.Users,
		Uploads:      a.Blob,
		Migration:    a.Migration,
		Hub:          a.Hub,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("http server started", zap.String("addr", cfg.HTTPAddr),
			zap.String("db", cfg.DBDriver), zap.String("job_queue", cfg.JobQueue),
			zap.String("realtime", cfg.RealtimeBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
}
