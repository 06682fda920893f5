package smartreply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/ai"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
	"github.com/suPer8Hu/chat-sync/internal/ratelimit"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultHistory  = 20
	SuggestionCount = 3
)

type SmartReply struct {
	ID               uint64    `gorm:"primaryKey" json:"-"`
	ConversationID   string    `gorm:"type:varchar(26);not null;uniqueIndex:uniq_sr_key,priority:1" json:"conversation_id"`
	TriggerMessageID string    `gorm:"type:varchar(26);not null;uniqueIndex:uniq_sr_key,priority:2" json:"trigger_message_id"`
	UserID           string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_sr_key,priority:3" json:"user_id"`
	Suggestions      []string  `gorm:"serializer:json;type:text;not null" json:"suggestions"`
	GeneratedAt      time.Time `gorm:"index" json:"generated_at"`
}

func (SmartReply) TableName() string { return "smart_replies" }

type Messages interface {
	RecentMessages(ctx context.Context, conversationID string, n int) ([]chat.Message, error)
}

type Quota interface {
	Allow(ctx context.Context, userID string, feature ratelimit.Feature) error
	Increment(ctx context.Context, userID string, feature ratelimit.Feature) (int, error)
}

type Service struct {
	db       *gorm.DB
	provider ai.Provider
	messages Messages
	quota    Quota
	history  int
	pub      realtime.Publisher
	log      *zap.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, provider ai.Provider, messages Messages, quota Quota, history int, pub realtime.Publisher, log *zap.Logger) *Service {
	if history <= 0 || history > 100 {
		history = DefaultHistory
	}
	if pub == nil {
		pub = realtime.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, provider: provider, messages: messages, quota: quota, history: history, pub: pub, log: log, now: time.Now}
}

// Get returns suggestions for the conversation's latest message only.
func (s *Service) Get(ctx context.Context, conversationID, userID string) (*SmartReply, error) {
	latest, err := s.messages.RecentMessages(ctx, conversationID, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, common.NotFound("no smart replies")
	}
	r, err := s.lookup(ctx, conversationID, latest[0].ID, userID)
	if err != nil {
		return nil, common.NotFoundIfMissing(err, "no smart replies")
	}
	return r, nil
}

func (s *Service) lookup(ctx context.Context, conversationID, triggerID, userID string) (*SmartReply, error) {
	var r SmartReply
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND trigger_message_id = ? AND user_id = ?", conversationID, triggerID, userID).
		First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// Generate produces suggestions for userID to answer the latest message. It
// returns nil when there is nothing to answer: no messages, or the latest
// one is userID's own.
func (s *Service) Generate(ctx context.Context, conversationID, userID string) (*SmartReply, error) {
	msgs, err := s.messages.RecentMessages(ctx, conversationID, s.history)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	latest := msgs[len(msgs)-1]
	if latest.SenderID == userID {
		return nil, nil
	}

	suggestions, err := s.call(ctx, transcript(msgs, userID))
	if err != nil {
		metrics.SmartReplyRequestsTotal.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	r := &SmartReply{
		ConversationID:   conversationID,
		TriggerMessageID: latest.ID,
		UserID:           userID,
		Suggestions:      suggestions,
		GeneratedAt:      s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "trigger_message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"suggestions", "generated_at"}),
	}).Create(r).Error; err != nil {
		return nil, err
	}

	metrics.SmartReplyRequestsTotal.WithLabelValues("generated").Inc()
	s.pub.Publish(ctx, realtime.NewEvent(realtime.EventSmartRepliesReady, realtime.UserTopic(userID), r))
	return r, nil
}

// GenerateForUser is Generate on a user's request: a cached result is
// returned for free, otherwise the smart_replies quota applies and is spent
// only on success.
func (s *Service) GenerateForUser(ctx context.Context, conversationID, userID string) (*SmartReply, error) {
	if r, err := s.Get(ctx, conversationID, userID); err == nil {
		metrics.SmartReplyRequestsTotal.WithLabelValues("cache_hit").Inc()
		return r, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if err := s.quota.Allow(ctx, userID, ratelimit.FeatureSmartReplies); err != nil {
		metrics.SmartReplyRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, err
	}
	r, err := s.Generate(ctx, conversationID, userID)
	if err != nil || r == nil {
		return r, err
	}
	if _, err := s.quota.Increment(ctx, userID, ratelimit.FeatureSmartReplies); err != nil {
		s.log.Warn("smart reply quota increment failed", zap.String("user_id", userID), zap.Error(err))
	}
	return r, nil
}

// Prune deletes suggestions older than olderThan that no longer belong to
// their conversation's latest message.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("generated_at < ?", cutoff).
		Where(`trigger_message_id <> (SELECT m.id FROM messages m
			WHERE m.conversation_id = smart_replies.conversation_id ORDER BY m.seq DESC LIMIT 1)`).
		Delete(&SmartReply{})
	return res.RowsAffected, res.Error
}

func transcript(msgs []chat.Message, userID string) string {
	var b strings.Builder
	for _, m := range msgs {
		who := "Other"
		if m.SenderID == userID {
			who = "Me"
		}
		text := m.Content
		if text == "" && m.ImageRef != nil {
			text = "[image]"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, text)
	}
	return b.String()
}
