package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkRunning moves a queued or previously failed job to running and counts
// the attempt. Succeeded jobs are left alone.
func (r *Repo) MarkRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status <> ?", id, StatusSucceeded).
		Updates(map[string]any{
			"status":   StatusRunning,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

func (r *Repo) MarkSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": StatusSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": StatusFailed,
			"error":  errMsg,
		}).Error
}

// ListStale returns jobs of the given status not touched since before.
func (r *Repo) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}
