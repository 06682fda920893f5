// Package app wires configuration into the services shared by the API server
// and the job worker.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/chat-sync/internal/ai"
	"github.com/suPer8Hu/chat-sync/internal/blob"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/config"
	"github.com/suPer8Hu/chat-sync/internal/db"
	"github.com/suPer8Hu/chat-sync/internal/jobs"
	"github.com/suPer8Hu/chat-sync/internal/migration"
	"github.com/suPer8Hu/chat-sync/internal/ratelimit"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"github.com/suPer8Hu/chat-sync/internal/smartreply"
	"github.com/suPer8Hu/chat-sync/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-sync/internal/translation"
	"github.com/suPer8Hu/chat-sync/internal/typing"
	"github.com/suPer8Hu/chat-sync/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	staleJobAge   = 5 * time.Minute
	staleJobBatch = 200
)

type App struct {
	Cfg config.Config
	Log *zap.Logger
	DB  *gorm.DB

	Redis  *redis.Client
	Hub    *realtime.Hub
	Bridge *realtime.RedisBridge

	Directory    *chat.Directory
	Messages     *chat.Service
	Translations *translation.Service
	SmartReplies *smartreply.Service
	Typing       *typing.Service
	Users        *users.Service
	Migration    *migration.Service
	Blob         *blob.Store

	Jobs       *jobs.Repo
	Runner     *jobs.Runner
	Dispatcher *jobs.Dispatcher
	// Pool is set when jobs run in-process.
	Pool *jobs.Pool

	closers []func() error
}

// New connects to the database and the configured backends and builds every
// service. Job handlers are registered on Runner before it returns.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Cfg: cfg, Log: log}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.DB = gdb

	if cfg.RateLimitBackend == "redis" || cfg.RealtimeBackend == "redis" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, a.Redis.Close)
	}

	a.Hub = realtime.NewHub(log.Named("realtime"))
	var pub realtime.Publisher = a.Hub
	if cfg.RealtimeBackend == "redis" {
		a.Bridge = realtime.NewRedisBridge(a.Redis, cfg.RealtimeChannel, a.Hub, log.Named("realtime"))
		pub = a.Bridge
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var store ratelimit.Store = ratelimit.NewGormStore(gdb)
	if cfg.RateLimitBackend == "redis" {
		store = ratelimit.NewRedisStore(a.Redis)
	}
	limiter := ratelimit.New(store, cfg.RateLimitWindow, map[ratelimit.Feature]int{
		ratelimit.FeatureTranslation:  cfg.TranslationRateLimit,
		ratelimit.FeatureSmartReplies: cfg.SmartReplyRateLimit,
	})

	a.Blob, err = blob.New(blob.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
		URLTTL:    cfg.UploadURLTTL,
	})
	if err != nil {
		return nil, err
	}

	// the runner exists before its handlers so the dispatcher can be handed
	// to the chat service
	a.Jobs = jobs.NewRepo(gdb)
	a.Runner = jobs.NewRunner(a.Jobs, log.Named("jobs"))
	queue, err := a.newQueue(cfg)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = jobs.NewDispatcher(a.Jobs, queue, log.Named("jobs"))

	repo := chat.NewRepo(gdb)
	a.Users = users.NewService(gdb, pub, log.Named("users"))
	a.Directory = chat.NewDirectory(repo, pub, log.Named("chat"))
	a.Messages = chat.NewService(repo, a.Dispatcher, a.Blob, pub, log.Named("chat"))
	a.Translations = translation.NewService(gdb, provider, a.Messages, limiter, cfg.TranslationLanguages, pub, log.Named("translation"))
	a.SmartReplies = smartreply.NewService(gdb, provider, a.Messages, limiter, cfg.SmartReplyHistory, pub, log.Named("smartreply"))
	a.Typing = typing.NewService(gdb, a.Users, pub, log.Named("typing"))
	a.Migration = migration.NewService(gdb, a.Translations, cfg.MigrationPause, log.Named("migration"))

	a.Runner.Handle(jobs.KindTranslateMessage, func(ctx context.Context, payload json.RawMessage) error {
		var p jobs.TranslatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return a.Translations.Populate(ctx, p.MessageID)
	})
	a.Runner.Handle(jobs.KindSmartReplies, func(ctx context.Context, payload json.RawMessage) error {
		var p jobs.SmartRepliesPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := a.SmartReplies.Generate(ctx, p.ConversationID, p.UserID)
		return err
	})
	return a, nil
}

func (a *App) newQueue(cfg config.Config) (jobs.Queue, error) {
	switch cfg.JobQueue {
	case "", "inprocess":
		a.Pool = jobs.NewPool(a.Runner, 0, a.Log.Named("jobs"))
		return a.Pool, nil
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, fmt.Errorf("rabbit publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported JOB_QUEUE=%q", cfg.JobQueue)
	}
}

// newProvider routes AI_PROVIDER through the registry. An empty model falls
// back to the provider's own default.
func newProvider(ctx context.Context, cfg config.Config) (ai.Provider, error) {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg.Get(ctx, cfg.AIProvider, cfg.AIModel)
}

// Maintain runs periodic housekeeping until ctx is done: stale smart replies
// are pruned and queued jobs that never ran are published again.
func (a *App) Maintain(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	a.requeueStale(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.requeueStale(ctx)
			if n, err := a.SmartReplies.Prune(ctx, a.Cfg.SmartReplyRetention); err != nil {
				a.Log.Warn("prune smart replies failed", zap.Error(err))
			} else if n > 0 {
				a.Log.Info("pruned smart replies", zap.Int64("deleted", n))
			}
		}
	}
}

func (a *App) requeueStale(ctx context.Context) {
	stale, err := a.Jobs.ListStale(ctx, jobs.StatusQueued, time.Now().Add(-staleJobAge), staleJobBatch)
	if err != nil {
		a.Log.Warn("list stale jobs failed", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}
	n := a.Dispatcher.Requeue(ctx, stale)
	a.Log.Info("requeued stale jobs", zap.Int("found", len(stale)), zap.Int("published", n))
}

// Close releases backend connections. Stop the job pool first.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", zap.Error(err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
