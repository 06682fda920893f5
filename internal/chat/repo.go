package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// DB exposes the handle for callers that need to join on chat tables.
func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		members := make([]Member, 0, len(c.ParticipantIDs))
		for _, uid := range c.ParticipantIDs {
			members = append(members, Member{ConversationID: c.ID, UserID: uid})
		}
		return tx.Create(&members).Error
	})
}

func (r *Repo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if err := r.fillDeletedBy(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetConversationByPairKey(ctx context.Context, key string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "pair_key = ?", key).Error; err != nil {
		return nil, err
	}
	if err := r.fillDeletedBy(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversationOrGetExisting creates a direct conversation, or returns
// the one already holding the same pair key when a concurrent create won.
func (r *Repo) CreateConversationOrGetExisting(ctx context.Context, c *Conversation) (*Conversation, bool, error) {
	err := r.CreateConversation(ctx, c)
	if err == nil {
		return c, true, nil
	}
	if c.PairKey == nil {
		return nil, false, err
	}

	existing, getErr := r.GetConversationByPairKey(ctx, *c.PairKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// ListConversationsForUser returns visible conversations, most recently
// active first.
func (r *Repo) ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	var convs []Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_members m ON m.conversation_id = conversations.id").
		Where("m.user_id = ? AND m.hidden = ?", userID, false).
		Order("conversations.last_message_at DESC").
		Order("conversations.id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	ptrs := make([]*Conversation, len(convs))
	for i := range convs {
		ptrs[i] = &convs[i]
	}
	if err := r.fillDeletedBy(ctx, ptrs...); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *Repo) fillDeletedBy(ctx context.Context, convs ...*Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]string, len(convs))
	byID := make(map[string]*Conversation, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		c.DeletedBy = []string{}
		byID[c.ID] = c
	}
	var hidden []Member
	if err := r.db.WithContext(ctx).
		Where("conversation_id IN ? AND hidden = ?", ids, true).
		Order("user_id").
		Find(&hidden).Error; err != nil {
		return err
	}
	for _, m := range hidden {
		c := byID[m.ConversationID]
		c.DeletedBy = append(c.DeletedBy, m.UserID)
	}
	return nil
}

func (r *Repo) GetMember(ctx context.Context, conversationID, userID string) (*Member, error) {
	var m Member
	if err := r.db.WithContext(ctx).
		First(&m, "conversation_id = ? AND user_id = ?", conversationID, userID).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) HideForUser(ctx context.Context, conversationID, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Member{}).
		Where("conversation_id = ? AND user_id = ? AND hidden = ?", conversationID, userID, false).
		Updates(map[string]any{"hidden": true, "hidden_at": at}).Error
}

func (r *Repo) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Member{}).
		Where("user_id = ?", userID).
		Order("conversation_id").
		Pluck("conversation_id", &ids).Error
	return ids, err
}

// AppendMessage assigns the next sequence number and stores m together with
// the sender's own receipt. Members who hid the conversation see it again.
func (r *Repo) AppendMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Conversation{}).
			Where("id = ?", m.ConversationID).
			Updates(map[string]any{
				"last_seq":        gorm.Expr("last_seq + 1"),
				"last_message_at": m.CreatedAt,
			}).Error; err != nil {
			return err
		}
		var conv Conversation
		if err := tx.Select("last_seq").First(&conv, "id = ?", m.ConversationID).Error; err != nil {
			return err
		}
		m.Seq = conv.LastSeq

		if err := tx.Create(m).Error; err != nil {
			return err
		}
		at := m.CreatedAt
		if err := tx.Create(&Receipt{
			MessageID:      m.ID,
			UserID:         m.SenderID,
			ConversationID: m.ConversationID,
			DeliveredAt:    &at,
			ReadAt:         &at,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&Member{}).
			Where("conversation_id = ? AND hidden = ?", m.ConversationID, true).
			Updates(map[string]any{"hidden": false, "hidden_at": nil}).Error
	})
}

func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessagesDesc returns the newest messages first.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// FillReceipts populates ReadBy and DeliveredTo for msgs.
func (r *Repo) FillReceipts(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*Message, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		msgs[i].ReadBy = []string{}
		msgs[i].DeliveredTo = []string{}
		byID[msgs[i].ID] = &msgs[i]
	}
	var rows []Receipt
	if err := r.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("user_id").
		Find(&rows).Error; err != nil {
		return err
	}
	for _, rc := range rows {
		m := byID[rc.MessageID]
		if rc.DeliveredAt != nil {
			m.DeliveredTo = append(m.DeliveredTo, rc.UserID)
		}
		if rc.ReadAt != nil {
			m.ReadBy = append(m.ReadBy, rc.UserID)
		}
	}
	return nil
}

// UpsertReceipts records delivery, and read when read is set, for each row.
// Timestamps already present are kept, so repeated calls change nothing.
func (r *Repo) UpsertReceipts(ctx context.Context, rows []Receipt, read bool, at time.Time) error {
	if len(rows) == 0 {
		return nil
	}
	set := map[string]any{
		"delivered_at": gorm.Expr("COALESCE(message_receipts.delivered_at, ?)", at),
	}
	for i := range rows {
		rows[i].DeliveredAt = &at
		if read {
			rows[i].ReadAt = &at
		}
	}
	if read {
		set["read_at"] = gorm.Expr("COALESCE(message_receipts.read_at, ?)", at)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(set),
	}).CreateInBatches(&rows, 200).Error
}

// UnreadMessageIDs lists messages in the conversation that userID has not read.
func (r *Repo) UnreadMessageIDs(ctx context.Context, conversationID, userID string) ([]string, error) {
	var ids []string
	err := r.unread(ctx, conversationID, userID).
		Order("messages.seq").
		Pluck("messages.id", &ids).Error
	return ids, err
}

// HasUnreadFrom reports whether someone other than userID sent a message
// userID has not read.
func (r *Repo) HasUnreadFrom(ctx context.Context, conversationID, userID string) (bool, error) {
	var ids []string
	err := r.unread(ctx, conversationID, userID).
		Where("messages.sender_id <> ?", userID).
		Limit(1).
		Pluck("messages.id", &ids).Error
	return len(ids) > 0, err
}

func (r *Repo) unread(ctx context.Context, conversationID, userID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("messages.conversation_id = ?", conversationID).
		Where(`NOT EXISTS (SELECT 1 FROM message_receipts r
			WHERE r.message_id = messages.id AND r.user_id = ? AND r.read_at IS NOT NULL)`, userID)
}

// SetDetectedLanguage records the language once; later calls are ignored.
func (r *Repo) SetDetectedLanguage(ctx context.Context, messageID, lang string) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND detected_language IS NULL", messageID).
		Update("detected_language", lang).Error
}
