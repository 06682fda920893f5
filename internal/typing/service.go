// Package typing tracks who is typing in a conversation. Entries expire
// lazily on read; nothing sweeps them.
package typing

import (
	"context"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"github.com/suPer8Hu/chat-sync/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Window is how long a typing signal stays fresh.
const Window = 5 * time.Second

type Indicator struct {
	ID             uint64    `gorm:"primaryKey"`
	UserID         string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_typing_user_conv,priority:1"`
	ConversationID string    `gorm:"type:varchar(26);not null;uniqueIndex:uniq_typing_user_conv,priority:2;index"`
	IsTyping       bool      `gorm:"not null"`
	LastUpdated    time.Time `gorm:"not null"`
}

func (Indicator) TableName() string { return "typing_indicators" }

type Profiles interface {
	Profiles(ctx context.Context, ids []string) ([]users.Profile, error)
}

type Service struct {
	db       *gorm.DB
	profiles Profiles
	pub      realtime.Publisher
	log      *zap.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, profiles Profiles, pub realtime.Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = realtime.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, profiles: profiles, pub: pub, log: log, now: time.Now}
}

// Update records the user's typing state, keeping one row per user and
// conversation.
func (s *Service) Update(ctx context.Context, conversationID, userID string, isTyping bool) error {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_typing", "last_updated"}),
	}).Create(&Indicator{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
		LastUpdated:    now,
	}).Error
	if err != nil {
		return err
	}
	s.pub.Publish(ctx, realtime.NewEvent(realtime.EventTypingUpdated, realtime.ConversationTopic(conversationID),
		map[string]any{"user_id": userID, "is_typing": isTyping, "at": now}))
	return nil
}

// TypingUsers returns profiles of users typing within the last Window,
// excluding excludingUserID.
func (s *Service) TypingUsers(ctx context.Context, conversationID, excludingUserID string) ([]users.Profile, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Indicator{}).
		Where("conversation_id = ? AND is_typing = ? AND user_id <> ?", conversationID, true, excludingUserID).
		Where("last_updated > ?", s.now().UTC().Add(-Window)).
		Order("last_updated").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []users.Profile{}, nil
	}
	return s.profiles.Profiles(ctx, ids)
}
