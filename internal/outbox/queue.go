// Package outbox is the client-side send path: a durable bounded queue of
// messages that could not be sent yet, and a view that shows them next to
// confirmed messages until each send resolves.
package outbox

import (
	"context"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultCapacity = 100

type Entry struct {
	ID             uint64    `gorm:"primaryKey"`
	LocalID        string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	ConversationID string    `gorm:"type:varchar(26);not null"`
	Content        string    `gorm:"type:text;not null"`
	ImageRef       *string   `gorm:"type:varchar(255)"`
	EnqueuedAt     time.Time `gorm:"not null"`
	Attempts       int       `gorm:"not null;default:0"`
	LastError      *string   `gorm:"type:text"`
}

func (Entry) TableName() string { return "outbound_messages" }

// Queue is FIFO by insertion. When full, the oldest entries are evicted.
type Queue struct {
	db       *gorm.DB
	capacity int
}

// Open stores the queue in a SQLite file at path.
func Open(path string, capacity int) (*Queue, error) {
	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	return NewQueue(db, capacity)
}

func NewQueue(db *gorm.DB, capacity int) (*Queue, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Queue{db: db, capacity: capacity}, nil
}

// Enqueue appends e and returns how many old entries were evicted to make room.
func (q *Queue) Enqueue(ctx context.Context, e *Entry) (evicted int, err error) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&Entry{}).Count(&n).Error; err != nil {
			return err
		}
		over := int(n) - q.capacity
		if over <= 0 {
			return nil
		}
		var oldest []uint64
		if err := tx.Model(&Entry{}).Order("id").Limit(over).Pluck("id", &oldest).Error; err != nil {
			return err
		}
		evicted = len(oldest)
		return tx.Where("id IN ?", oldest).Delete(&Entry{}).Error
	})
	return evicted, err
}

func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := q.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

func (q *Queue) Remove(ctx context.Context, localID string) error {
	return q.db.WithContext(ctx).Where("local_id = ?", localID).Delete(&Entry{}).Error
}

func (q *Queue) MarkAttempt(ctx context.Context, localID, errMsg string) error {
	return q.db.WithContext(ctx).Model(&Entry{}).
		Where("local_id = ?", localID).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": errMsg,
		}).Error
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error
	return int(n), err
}
