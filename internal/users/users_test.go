package users

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/dbtest"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"gorm.io/gorm"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock) {
	t.Helper()
	db := dbtest.Open(t, &User{})
	svc := NewService(db, realtime.Discard, nil)
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = c.Now
	return svc, db, c
}

func seedUser(t *testing.T, svc *Service, id string) {
	t.Helper()
	require.NoError(t, svc.Upsert(context.Background(), &User{ID: id, DisplayName: id, PreferredLanguage: "en"}))
}

func TestHeartbeat_DerivedOnlineWindow(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, "u1")

	p, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)

	require.NoError(t, svc.Heartbeat(ctx, "u1"))
	p, err = svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)

	c.t = c.t.Add(29 * time.Second)
	p, _ = svc.Profile(ctx, "u1")
	assert.True(t, p.IsOnline)

	c.t = c.t.Add(time.Second)
	p, _ = svc.Profile(ctx, "u1")
	assert.False(t, p.IsOnline, "liveness window is exclusive at 30s")
}

func TestSetAppState_StoredFlagDoesNotOverrideDerived(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, "u1")

	require.NoError(t, svc.SetAppState(ctx, "u1", AppActive))
	require.NoError(t, svc.SetAppState(ctx, "u1", AppBackground))

	u, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)

	p, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsOnline, "derived value governs display")

	// repeating the transition is fine
	require.NoError(t, svc.SetAppState(ctx, "u1", AppInactive))
	assert.ErrorIs(t, svc.SetAppState(ctx, "u1", AppState("sleeping")), common.ErrValidation)
}

func TestPresence_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Heartbeat(ctx, "ghost"), common.ErrNotFound)
	assert.ErrorIs(t, svc.SetAppState(ctx, "ghost", AppBackground), common.ErrNotFound)
	_, err := svc.Profile(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestProfiles_KeepsOrderAndSkipsUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, "a")
	seedUser(t, svc, "b")

	ps, err := svc.Profiles(ctx, []string{"b", "zzz", "a"})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "b", ps[0].ID)
	assert.Equal(t, "a", ps[1].ID)
}

func TestApplyIdentityEvent_Lifecycle(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	raw := `{"type":"user.created","data":{"id":"user_1","first_name":"Ada","last_name":"Lovelace",
		"phone_numbers":[{"phone_number":"+15550001"}],"public_metadata":{"preferred_language":"FR"}}}`
	var ev IdentityEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	applied, err := svc.ApplyIdentityEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, applied)

	u, err := svc.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", u.DisplayName)
	assert.Equal(t, "fr", u.PreferredLanguage)
	require.NotNil(t, u.Phone)
	assert.Equal(t, "+15550001", *u.Phone)

	name := "ada"
	_, err = svc.ApplyIdentityEvent(ctx, IdentityEvent{Type: EventUserUpdated, Data: IdentityUser{ID: "user_1", Username: &name}})
	require.NoError(t, err)
	u, _ = svc.Get(ctx, "user_1")
	assert.Equal(t, "ada", u.DisplayName)
	assert.Equal(t, "en", u.PreferredLanguage)

	_, err = svc.ApplyIdentityEvent(ctx, IdentityEvent{Type: EventUserDeleted, Data: IdentityUser{ID: "user_1"}})
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user_1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	var count int64
	require.NoError(t, db.Unscoped().Model(&User{}).Where("id = ?", "user_1").Count(&count).Error)
	assert.EqualValues(t, 1, count, "deletion is soft")

	// re-creation restores the row
	_, err = svc.ApplyIdentityEvent(ctx, ev)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user_1")
	assert.NoError(t, err)
}

func TestApplyIdentityEvent_UnknownTypeIgnored(t *testing.T) {
	svc, _, _ := newTestService(t)
	applied, err := svc.ApplyIdentityEvent(context.Background(), IdentityEvent{Type: "session.created"})
	assert.NoError(t, err)
	assert.False(t, applied)

	_, err = svc.ApplyIdentityEvent(context.Background(), IdentityEvent{Type: EventUserCreated})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"user.created"}`)
	sig := Sign("s3cret", body)

	assert.True(t, VerifySignature("s3cret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("s3cret", []byte("tampered"), sig))
	assert.False(t, VerifySignature("", body, sig))
	assert.False(t, VerifySignature("s3cret", body, "sha256=nothex"))
}
