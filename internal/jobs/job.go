package jobs

import "time"

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Kind string

const (
	KindTranslateMessage Kind = "translate_message"
	KindSmartReplies     Kind = "smart_replies"
)

// TranslatePayload asks for a message to be translated into every configured
// language.
type TranslatePayload struct {
	MessageID string `json:"message_id"`
}

// SmartRepliesPayload asks for suggestions for UserID on the latest message
// of a conversation.
type SmartRepliesPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	Kind    Kind   `gorm:"type:varchar(32);index;not null"`
	Payload string `gorm:"type:text;not null"`

	Status   Status `gorm:"type:varchar(16);index;not null"`
	Attempts int    `gorm:"not null;default:0"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "background_jobs" }
