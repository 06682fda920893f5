package users

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/suPer8Hu/chat-sync/internal/common"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

const defaultLanguage = "en"

var errMissingUserID = common.Validation("identity event without user id")

type IdentityEvent struct {
	Type string       `json:"type"`
	Data IdentityUser `json:"data"`
}

type IdentityUser struct {
	ID           string  `json:"id"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	Username     *string `json:"username"`
	ImageURL     *string `json:"image_url"`
	PhoneNumbers []struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"phone_numbers"`
	PublicMetadata struct {
		PreferredLanguage string `json:"preferred_language"`
	} `json:"public_metadata"`
}

func (u IdentityUser) displayName() string {
	var parts []string
	for _, p := range []*string{u.FirstName, u.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	return "User"
}

func (u IdentityUser) toUser() *User {
	out := &User{
		ID:                u.ID,
		DisplayName:       u.displayName(),
		AvatarURL:         u.ImageURL,
		PreferredLanguage: strings.ToLower(strings.TrimSpace(u.PublicMetadata.PreferredLanguage)),
	}
	if out.PreferredLanguage == "" {
		out.PreferredLanguage = defaultLanguage
	}
	if len(u.PhoneNumbers) > 0 && u.PhoneNumbers[0].PhoneNumber != "" {
		phone := u.PhoneNumbers[0].PhoneNumber
		out.Phone = &phone
	}
	return out
}

// ApplyIdentityEvent mirrors an identity-provider lifecycle event into the
// local users table. Unknown event types are logged and ignored.
func (s *Service) ApplyIdentityEvent(ctx context.Context, ev IdentityEvent) (applied bool, err error) {
	switch ev.Type {
	case EventUserCreated, EventUserUpdated:
		if ev.Data.ID == "" {
			return false, errMissingUserID
		}
		return true, s.Upsert(ctx, ev.Data.toUser())
	case EventUserDeleted:
		if ev.Data.ID == "" {
			return false, errMissingUserID
		}
		return true, s.Delete(ctx, ev.Data.ID)
	default:
		s.log.Info("ignoring identity event", zap.String("type", ev.Type), zap.String("user_id", ev.Data.ID))
		return false, nil
	}
}

// Upsert creates or refreshes a profile. A previously deleted user is restored.
// Presence columns are left alone.
func (s *Service) Upsert(ctx context.Context, u *User) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "phone", "avatar_url", "preferred_language", "updated_at", "deleted_at"}),
	}).Create(u).Error
}

// Delete soft-deletes the profile. Deleting an unknown user is not an error.
func (s *Service) Delete(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("id = ?", userID).Delete(&User{}).Error
}

// VerifySignature checks a hex HMAC-SHA256 of body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign is the counterpart of VerifySignature, used by tests and tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
