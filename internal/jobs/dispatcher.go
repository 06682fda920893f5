package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
	"go.uber.org/zap"
)

// Queue hands a stored job id to whatever executes jobs.
type Queue interface {
	Publish(ctx context.Context, jobID string) error
}

type Dispatcher struct {
	repo  *Repo
	queue Queue
	log   *zap.Logger
}

func NewDispatcher(repo *Repo, queue Queue, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{repo: repo, queue: queue, log: log}
}

// Enqueue stores the job and publishes its id. The row is written first so a
// job lost in transit can still be found by status.
func (d *Dispatcher) Enqueue(ctx context.Context, kind Kind, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", kind, err)
	}
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	job := &Job{
		ID:      id,
		Kind:    kind,
		Payload: string(b),
		Status:  StatusQueued,
	}
	if err := d.repo.Create(ctx, job); err != nil {
		metrics.JobsEnqueueFailedTotal.Inc()
		return "", err
	}
	if err := d.queue.Publish(ctx, job.ID); err != nil {
		metrics.JobsEnqueueFailedTotal.Inc()
		d.log.Warn("job publish failed", zap.String("job_id", job.ID), zap.String("kind", string(kind)), zap.Error(err))
		return job.ID, err
	}
	return job.ID, nil
}

// Requeue publishes stale jobs again, e.g. after a broker outage.
func (d *Dispatcher) Requeue(ctx context.Context, jobs []Job) int {
	n := 0
	for _, j := range jobs {
		if err := d.queue.Publish(ctx, j.ID); err != nil {
			d.log.Warn("job requeue failed", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
