package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("job queue full")
	ErrQueueClosed = errors.New("job queue closed")
)

// Pool runs jobs in-process on a fixed number of workers. It is the Queue
// used when no broker is configured.
type Pool struct {
	runner *Runner
	log    *zap.Logger

	mu     sync.RWMutex
	ch     chan string
	closed bool
	wg     sync.WaitGroup
}

func NewPool(runner *Runner, buffer int, log *zap.Logger) *Pool {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{runner: runner, log: log, ch: make(chan string, buffer)}
}

// Publish never blocks; a full buffer is reported as ErrQueueFull.
func (p *Pool) Publish(_ context.Context, jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.ch <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches concurrency workers. Jobs run with ctx.
func (p *Pool) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer p.wg.Done()
			for id := range p.ch {
				if err := p.runner.Run(ctx, id); err != nil {
					p.log.Warn("job failed", zap.Int("worker", workerID), zap.String("job_id", id), zap.Error(err))
				}
			}
		}(i)
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
