package ratelimit

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Counter struct {
	ID            uint64 `gorm:"primaryKey"`
	UserID        string `gorm:"type:varchar(64);not null;uniqueIndex:uniq_rl_user_feature,priority:1"`
	Feature       string `gorm:"type:varchar(32);not null;uniqueIndex:uniq_rl_user_feature,priority:2"`
	Count         int    `gorm:"not null;default:0"`
	WindowStartMs int64  `gorm:"not null"`
	UpdatedAt     time.Time
}

func (Counter) TableName() string { return "rate_limits" }

// GormStore keeps counters in the rate_limits table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Usage(ctx context.Context, userID string, feature Feature, windowStart time.Time) (int, error) {
	var c Counter
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND feature = ?", userID, string(feature)).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if c.WindowStartMs != windowStart.UnixMilli() {
		return 0, nil
	}
	return c.Count, nil
}

// Increment is a locked read-modify-write so concurrent calls never lose an
// update.
func (s *GormStore) Increment(ctx context.Context, userID string, feature Feature, windowStart time.Time, _ time.Duration) (int, error) {
	ws := windowStart.UnixMilli()
	var out int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Counter{
			UserID:        userID,
			Feature:       string(feature),
			WindowStartMs: ws,
		}).Error; err != nil {
			return err
		}

		var c Counter
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND feature = ?", userID, string(feature)).
			First(&c).Error; err != nil {
			return err
		}
		if c.WindowStartMs != ws {
			c.Count = 0
		}
		out = c.Count + 1
		return tx.Model(&Counter{}).Where("id = ?", c.ID).
			Updates(map[string]any{"count": out, "window_start_ms": ws}).Error
	})
	return out, err
}
