package users

import (
	"time"

	"gorm.io/gorm"
)

// User is the local copy of an identity-provider profile. ID is issued by the
// provider and never changes.
type User struct {
	ID                string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	DisplayName       string         `gorm:"type:varchar(128);not null" json:"display_name"`
	Phone             *string        `gorm:"type:varchar(32);index" json:"phone,omitempty"`
	AvatarURL         *string        `gorm:"type:varchar(512)" json:"avatar_url,omitempty"`
	PreferredLanguage string         `gorm:"type:varchar(16);not null" json:"preferred_language"`
	IsOnline          bool           `gorm:"not null" json:"-"`
	LastSeenAt        *time.Time     `gorm:"index" json:"last_seen_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

// Profile is what other users see. IsOnline is derived from LastSeenAt and
// overrides the stored flag.
type Profile struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"display_name"`
	Phone             *string    `json:"phone,omitempty"`
	AvatarURL         *string    `json:"avatar_url,omitempty"`
	PreferredLanguage string     `json:"preferred_language"`
	IsOnline          bool       `json:"is_online"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty"`
}

func (u *User) Profile(now time.Time) Profile {
	return Profile{
		ID:                u.ID,
		DisplayName:       u.DisplayName,
		Phone:             u.Phone,
		AvatarURL:         u.AvatarURL,
		PreferredLanguage: u.PreferredLanguage,
		IsOnline:          IsOnline(u.LastSeenAt, now),
		LastSeenAt:        u.LastSeenAt,
	}
}
