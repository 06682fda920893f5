package chat

import "time"

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type Conversation struct {
	ID             string           `gorm:"type:varchar(26);primaryKey" json:"id"`
	Type           ConversationType `gorm:"type:varchar(16);not null;index" json:"type"`
	ParticipantIDs []string         `gorm:"serializer:json;type:text;not null" json:"participant_ids"`
	// PairKey is set for direct conversations only; the unique index makes the
	// unordered pair unique system-wide.
	PairKey       *string   `gorm:"type:varchar(160);uniqueIndex" json:"-"`
	LastSeq       int64     `gorm:"not null;default:0" json:"last_seq"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`

	// DeletedBy lists participants who soft-deleted the conversation.
	DeletedBy []string `gorm:"-" json:"deleted_by"`
}

func (Conversation) TableName() string { return "conversations" }

// Member indexes conversations by participant and carries the per-user
// soft-delete flag.
type Member struct {
	ConversationID string     `gorm:"type:varchar(26);primaryKey"`
	UserID         string     `gorm:"type:varchar(64);primaryKey;index:idx_member_user_hidden,priority:1"`
	Hidden         bool       `gorm:"not null;index:idx_member_user_hidden,priority:2"`
	HiddenAt       *time.Time ``
}

func (Member) TableName() string { return "conversation_members" }

type Message struct {
	ID             string  `gorm:"type:varchar(26);primaryKey" json:"id"`
	ConversationID string  `gorm:"type:varchar(26);not null;uniqueIndex:uniq_msg_conv_seq,priority:1" json:"conversation_id"`
	Seq            int64   `gorm:"not null;uniqueIndex:uniq_msg_conv_seq,priority:2" json:"seq"`
	SenderID       string  `gorm:"type:varchar(64);not null;index" json:"sender_id"`
	Content        string  `gorm:"type:text;not null" json:"content"`
	ImageRef       *string `gorm:"type:varchar(255)" json:"image_ref,omitempty"`
	// DetectedLanguage is filled by the first successful translation.
	DetectedLanguage *string   `gorm:"type:varchar(16);index" json:"detected_language,omitempty"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`

	ReadBy      []string `gorm:"-" json:"read_by"`
	DeliveredTo []string `gorm:"-" json:"delivered_to"`
}

func (Message) TableName() string { return "messages" }

// Receipt records delivery and read state of one message for one user.
// Timestamps are only ever set, never cleared.
type Receipt struct {
	MessageID      string     `gorm:"type:varchar(26);primaryKey"`
	UserID         string     `gorm:"type:varchar(64);primaryKey;index:idx_receipt_conv_user,priority:2"`
	ConversationID string     `gorm:"type:varchar(26);not null;index:idx_receipt_conv_user,priority:1"`
	DeliveredAt    *time.Time ``
	ReadAt         *time.Time `gorm:"index:idx_receipt_conv_user,priority:3"`
}

func (Receipt) TableName() string { return "message_receipts" }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Conversation{}, &Member{}, &Message{}, &Receipt{}}
}
