package users

import (
	"context"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// OnlineWindow is how long a heartbeat keeps a user online.
	OnlineWindow = 30 * time.Second
	// HeartbeatInterval is what foreground clients are expected to use.
	HeartbeatInterval = 15 * time.Second
)

type AppState string

const (
	AppActive     AppState = "active"
	AppBackground AppState = "background"
	AppInactive   AppState = "inactive"
)

func IsOnline(lastSeen *time.Time, now time.Time) bool {
	return lastSeen != nil && now.Sub(*lastSeen) < OnlineWindow
}

type Service struct {
	db  *gorm.DB
	pub realtime.Publisher
	log *zap.Logger
	now func() time.Time
}

func NewService(db *gorm.DB, pub realtime.Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = realtime.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, pub: pub, log: log, now: time.Now}
}

// Heartbeat refreshes the liveness timestamp and sets the stored flag.
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"is_online": true, "last_seen_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.NotFound("user not found")
	}
	s.pub.Publish(ctx, realtime.NewEvent(realtime.EventPresenceUpdated, realtime.UserTopic(userID),
		map[string]any{"user_id": userID, "is_online": true, "last_seen_at": now}))
	return nil
}

// SetAppState applies an app lifecycle transition. Leaving the foreground only
// clears the stored flag; displayed status still follows the liveness window.
func (s *Service) SetAppState(ctx context.Context, userID string, state AppState) error {
	switch state {
	case AppActive:
		return s.Heartbeat(ctx, userID)
	case AppBackground, AppInactive:
	default:
		return common.Validation("unknown app state")
	}

	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("is_online", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports changed rows, so an already-offline user lands here too.
		if _, err := s.Get(ctx, userID); err != nil {
			return err
		}
	}
	s.pub.Publish(ctx, realtime.NewEvent(realtime.EventPresenceUpdated, realtime.UserTopic(userID),
		map[string]any{"user_id": userID, "state": state}))
	return nil
}

func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return nil, common.NotFoundIfMissing(err, "user not found")
	}
	return &u, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := u.Profile(s.now())
	return &p, nil
}

// Profiles resolves ids in input order, skipping unknown users.
func (s *Service) Profiles(ctx context.Context, ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return []Profile{}, nil
	}
	var rows []User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]*User, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	now := s.now()
	out := make([]Profile, 0, len(rows))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u.Profile(now))
		}
	}
	return out, nil
}
