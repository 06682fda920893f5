package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/jobs"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Enqueuer schedules background work after a message is stored.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind jobs.Kind, payload any) (string, error)
}

// ImageVerifier confirms an uploaded attachment exists.
type ImageVerifier interface {
	Stat(ctx context.Context, ref string) error
}

// Service is the message store: sending, listing and read state.
type Service struct {
	repo   *Repo
	jobs   Enqueuer
	images ImageVerifier
	pub    realtime.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewService(repo *Repo, enq Enqueuer, images ImageVerifier, pub realtime.Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = realtime.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, jobs: enq, images: images, pub: pub, log: log, now: time.Now}
}

func (s *Service) requireMember(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, common.NotFoundIfMissing(err, "conversation not found")
	}
	if _, err := s.repo.GetMember(ctx, conversationID, userID); err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil, common.Forbidden("not a participant of this conversation")
		}
		return nil, err
	}
	return conv, nil
}

// SendMessage stores a message from senderID. The sender counts as having
// read and received it. Translation and reply suggestions are scheduled after
// commit and never fail the send.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string, imageRef *string) (*Message, error) {
	if imageRef != nil && strings.TrimSpace(*imageRef) == "" {
		imageRef = nil
	}
	if strings.TrimSpace(content) == "" && imageRef == nil {
		return nil, common.Validation("message needs text or an image")
	}

	conv, err := s.requireMember(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	if imageRef != nil {
		if s.images == nil {
			return nil, common.Upload("image uploads are not configured", nil)
		}
		if err := s.images.Stat(ctx, *imageRef); err != nil {
			return nil, common.Upload("image upload not found", err)
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ImageRef:       imageRef,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	m.ReadBy = []string{senderID}
	m.DeliveredTo = []string{senderID}

	metrics.MessagesSentTotal.WithLabelValues(strconv.FormatBool(imageRef != nil)).Inc()

	s.pub.Publish(ctx, realtime.NewEvent(realtime.EventMessageCreated, realtime.ConversationTopic(conversationID), m))
	realtime.PublishAll(ctx, s.pub, realtime.EventConversationUpdated, userTopics(conv.ParticipantIDs),
		map[string]any{"conversation_id": conversationID, "last_message_at": m.CreatedAt, "last_seq": m.Seq})

	s.schedule(ctx, conv, m)
	return m, nil
}

func (s *Service) schedule(ctx context.Context, conv *Conversation, m *Message) {
	if s.jobs == nil || strings.TrimSpace(m.Content) == "" {
		return
	}
	if _, err := s.jobs.Enqueue(ctx, jobs.KindTranslateMessage, jobs.TranslatePayload{MessageID: m.ID}); err != nil {
		s.log.Warn("enqueue translation failed", zap.String("message_id", m.ID), zap.Error(err))
	}
	for _, uid := range conv.ParticipantIDs {
		if uid == m.SenderID {
			continue
		}
		if _, err := s.jobs.Enqueue(ctx, jobs.KindSmartReplies,
			jobs.SmartRepliesPayload{ConversationID: conv.ID, UserID: uid}); err != nil {
			s.log.Warn("enqueue smart replies failed",
				zap.String("conversation_id", conv.ID), zap.String("user_id", uid), zap.Error(err))
		}
	}
}

// GetMessages returns the most recent limit messages, oldest first. A zero
// limit means the default page; limits above MaxPageSize are rejected.
func (s *Service) GetMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 0 || limit > MaxPageSize {
		return nil, common.Validation(fmt.Sprintf("limit must be between 1 and %d", MaxPageSize))
	}
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, common.NotFoundIfMissing(err, "conversation not found")
	}

	desc, err := s.repo.ListRecentMessagesDesc(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	msgs := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		msgs = append(msgs, desc[i])
	}
	if err := s.repo.FillReceipts(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// RecentMessages returns the last n messages oldest first, without receipts.
func (s *Service) RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	desc, err := s.repo.ListRecentMessagesDesc(ctx, conversationID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(desc)-1; i < j; i, j = i+1, j-1 {
		desc[i], desc[j] = desc[j], desc[i]
	}
	return desc, nil
}

func (s *Service) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, common.NotFoundIfMissing(err, "message not found")
	}
	msgs := []Message{*m}
	if err := s.repo.FillReceipts(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *Service) MarkAsDelivered(ctx context.Context, messageID, userID string) error {
	return s.mark(ctx, messageID, userID, false)
}

// MarkAsRead also marks the message delivered.
func (s *Service) MarkAsRead(ctx context.Context, messageID, userID string) error {
	return s.mark(ctx, messageID, userID, true)
}

func (s *Service) mark(ctx context.Context, messageID, userID string, read bool) error {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return common.NotFoundIfMissing(err, "message not found")
	}
	if _, err := s.requireMember(ctx, m.ConversationID, userID); err != nil {
		return err
	}
	rows := []Receipt{{MessageID: m.ID, UserID: userID, ConversationID: m.ConversationID}}
	if err := s.repo.UpsertReceipts(ctx, rows, read, s.now().UTC()); err != nil {
		return err
	}
	s.publishReceipts(ctx, m.ConversationID, userID, []string{m.ID}, read)
	return nil
}

// MarkConversationAsRead marks every message userID has not read yet and
// returns how many were affected.
func (s *Service) MarkConversationAsRead(ctx context.Context, conversationID, userID string) (int, error) {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	ids, err := s.repo.UnreadMessageIDs(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	rows := make([]Receipt, len(ids))
	for i, id := range ids {
		rows[i] = Receipt{MessageID: id, UserID: userID, ConversationID: conversationID}
	}
	if err := s.repo.UpsertReceipts(ctx, rows, true, s.now().UTC()); err != nil {
		return 0, err
	}
	s.publishReceipts(ctx, conversationID, userID, ids, true)
	return len(ids), nil
}

// HasUnreadMessages reports whether any message from someone else is unread
// by userID.
func (s *Service) HasUnreadMessages(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.repo.HasUnreadFrom(ctx, conversationID, userID)
}

func (s *Service) SetDetectedLanguage(ctx context.Context, messageID, lang string) error {
	return s.repo.SetDetectedLanguage(ctx, messageID, lang)
}

func (s *Service) publishReceipts(ctx context.Context, conversationID, userID string, ids []string, read bool) {
	kind := "delivered"
	if read {
		kind = "read"
	}
	s.pub.Publish(ctx, realtime.NewEvent(realtime.EventMessageReceipts, realtime.ConversationTopic(conversationID),
		map[string]any{"user_id": userID, "message_ids": ids, "kind": kind}))
}
