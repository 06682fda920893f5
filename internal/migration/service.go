// Package migration backfills translations for messages stored before the
// translation pipeline existed.
package migration

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/chat"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 500
)

// ErrAlreadyRunning is returned when a non-dry run is requested while
// another one holds the service.
var ErrAlreadyRunning = errors.New("a translation migration is already running")

type Populator interface {
	Populate(ctx context.Context, messageID string) error
}

type Stats struct {
	Total           int64   `json:"total"`
	Migrated        int64   `json:"migrated"`
	NeedsMigration  int64   `json:"needsMigration"`
	EmptyMessages   int64   `json:"emptyMessages"`
	PercentComplete float64 `json:"percentComplete"`
}

type Options struct {
	DryRun    bool
	BatchSize int
}

type Report struct {
	DryRun    bool  `json:"dryRun"`
	BatchSize int   `json:"batchSize"`
	Pending   int64 `json:"pending"`
	Batches   int   `json:"batches"`
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
}

type Service struct {
	db        *gorm.DB
	populator Populator
	pause     time.Duration
	log       *zap.Logger
	running   atomic.Bool
}

func NewService(db *gorm.DB, populator Populator, pause time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, populator: populator, pause: pause, log: log}
}

func (s *Service) pending(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&chat.Message{}).
		Where("content <> ? AND detected_language IS NULL", "")
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.WithContext(ctx).Model(&chat.Message{}).Count(&st.Total).Error; err != nil {
		return st, err
	}
	if err := s.db.WithContext(ctx).Model(&chat.Message{}).Where("content = ?", "").Count(&st.EmptyMessages).Error; err != nil {
		return st, err
	}
	if err := s.pending(ctx).Count(&st.NeedsMigration).Error; err != nil {
		return st, err
	}
	st.Migrated = st.Total - st.EmptyMessages - st.NeedsMigration

	st.PercentComplete = 100
	if eligible := st.Total - st.EmptyMessages; eligible > 0 {
		st.PercentComplete = math.Round(float64(st.Migrated)/float64(eligible)*1000) / 10
	}
	return st, nil
}

func clampBatch(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// Running reports whether a non-dry run is in progress.
func (s *Service) Running() bool { return s.running.Load() }

// Run walks pending messages in id order and populates their translations.
// A failed message is counted and skipped; it stays pending for the next run.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	if opts.DryRun {
		rep := Report{DryRun: true, BatchSize: clampBatch(opts.BatchSize)}
		if err := s.pending(ctx).Count(&rep.Pending).Error; err != nil {
			return rep, err
		}
		rep.Batches = int((rep.Pending + int64(rep.BatchSize) - 1) / int64(rep.BatchSize))
		return rep, nil
	}

	if !s.running.CompareAndSwap(false, true) {
		return Report{BatchSize: clampBatch(opts.BatchSize)}, ErrAlreadyRunning
	}
	defer s.running.Store(false)
	return s.run(ctx, opts)
}

// Start claims the service and runs the migration in the background. The
// claim happens before Start returns, so a second caller sees
// ErrAlreadyRunning at once. done, if set, receives the outcome.
func (s *Service) Start(ctx context.Context, opts Options, done func(Report, error)) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	opts.DryRun = false
	go func() {
		rep, err := s.run(ctx, opts)
		s.running.Store(false)
		if err != nil {
			s.log.Error("migration: run failed", zap.Error(err))
		}
		if done != nil {
			done(rep, err)
		}
	}()
	return nil
}

func (s *Service) run(ctx context.Context, opts Options) (Report, error) {
	rep := Report{BatchSize: clampBatch(opts.BatchSize)}
	if err := s.pending(ctx).Count(&rep.Pending).Error; err != nil {
		return rep, err
	}

	start := time.Now()
	cursor := ""
	for {
		var ids []string
		if err := s.pending(ctx).
			Where("id > ?", cursor).
			Order("id").
			Limit(rep.BatchSize).
			Pluck("id", &ids).Error; err != nil {
			return rep, err
		}
		if len(ids) == 0 {
			break
		}
		rep.Batches++

		for _, id := range ids {
			if err := s.populator.Populate(ctx, id); err != nil {
				rep.Failed++
				s.log.Warn("migration: populate failed", zap.String("message_id", id), zap.Error(err))
			}
			rep.Processed++
		}
		cursor = ids[len(ids)-1]

		s.log.Info("migration: batch done",
			zap.Int("batch", rep.Batches), zap.Int("processed", rep.Processed), zap.Int("failed", rep.Failed))

		if len(ids) < rep.BatchSize {
			break
		}
		if s.pause > 0 {
			select {
			case <-ctx.Done():
				return rep, ctx.Err()
			case <-time.After(s.pause):
			}
		}
	}

	s.log.Info("migration: finished",
		zap.Int("processed", rep.Processed), zap.Int("failed", rep.Failed), zap.Duration("cost", time.Since(start)))
	return rep, nil
}
