package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Runner executes stored jobs by kind.
type Runner struct {
	repo     *Repo
	handlers map[Kind]HandlerFunc
	log      *zap.Logger
}

func NewRunner(repo *Repo, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{repo: repo, handlers: make(map[Kind]HandlerFunc), log: log}
}

// Handle registers fn for kind. It must be called before Run is used.
func (r *Runner) Handle(kind Kind, fn HandlerFunc) {
	r.handlers[kind] = fn
}

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	switch common.KindOf(err) {
	case common.KindNotFound, common.KindValidation, common.KindForbidden:
		return true
	}
	return errors.Is(err, errNoHandler)
}

var errNoHandler = errors.New("no handler registered")

func (r *Runner) Run(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	t0 := time.Now()
	_ = r.repo.MarkRunning(ctx, jobID)
	updateCost := time.Since(t0)

	t1 := time.Now()
	j, err := r.repo.GetByID(ctx, jobID)
	getJobCost := time.Since(t1)
	if err != nil {
		r.log.Warn("job_timing",
			zap.String("job", jobID), zap.Duration("update", updateCost),
			zap.Duration("get_job", getJobCost), zap.Duration("total", time.Since(jobStart)), zap.Error(err))
		return common.NotFoundIfMissing(err, "job not found")
	}
	if j.Status == StatusSucceeded {
		return nil
	}

	h, ok := r.handlers[j.Kind]
	if !ok {
		err := fmt.Errorf("%w for kind %q", errNoHandler, j.Kind)
		_ = r.repo.MarkFailed(ctx, jobID, err.Error())
		metrics.JobsProcessedTotal.WithLabelValues(string(j.Kind), "failed").Inc()
		return err
	}

	t2 := time.Now()
	err = h(ctx, json.RawMessage(j.Payload))
	runCost := time.Since(t2)
	metrics.JobDuration.WithLabelValues(string(j.Kind)).Observe(runCost.Seconds())

	if err != nil {
		t3 := time.Now()
		_ = r.repo.MarkFailed(ctx, jobID, err.Error())
		markFailCost := time.Since(t3)
		metrics.JobsProcessedTotal.WithLabelValues(string(j.Kind), "failed").Inc()

		r.log.Warn("job_timing_failed",
			zap.String("job", jobID), zap.String("kind", string(j.Kind)), zap.Int("attempt", j.Attempts),
			zap.Duration("update", updateCost), zap.Duration("get_job", getJobCost), zap.Duration("run", runCost),
			zap.Duration("mark_fail", markFailCost), zap.Duration("total", time.Since(jobStart)), zap.Error(err))
		return err
	}

	t4 := time.Now()
	if err := r.repo.MarkSucceeded(ctx, jobID); err != nil {
		r.log.Warn("job_timing_failed",
			zap.String("job", jobID), zap.String("kind", string(j.Kind)),
			zap.Duration("run", runCost), zap.Duration("mark_succ", time.Since(t4)), zap.Error(err))
		return err
	}
	markSuccCost := time.Since(t4)
	metrics.JobsProcessedTotal.WithLabelValues(string(j.Kind), "succeeded").Inc()

	if total := time.Since(jobStart); total > 2*time.Second {
		r.log.Info("job_timing",
			zap.String("job", jobID), zap.String("kind", string(j.Kind)),
			zap.Duration("update", updateCost), zap.Duration("get_job", getJobCost), zap.Duration("run", runCost),
			zap.Duration("mark_succ", markSuccCost), zap.Duration("total", total))
	}
	return nil
}
