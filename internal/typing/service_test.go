package typing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-sync/internal/dbtest"
	"github.com/suPer8Hu/chat-sync/internal/users"
)

func profileIDs(ps []users.Profile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestTypingUsers_FreshnessAndExclusion(t *testing.T) {
	db := dbtest.Open(t, &Indicator{}, &users.User{})
	ctx := context.Background()

	people := users.NewService(db, nil, nil)
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, people.Upsert(ctx, &users.User{ID: id, DisplayName: id, PreferredLanguage: "en"}))
	}

	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(db, people, nil, nil)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Update(ctx, "c1", "alice", true))
	require.NoError(t, svc.Update(ctx, "c1", "bob", true))
	require.NoError(t, svc.Update(ctx, "c2", "carol", true))

	got, err := svc.TypingUsers(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, profileIDs(got))

	// toggling updates the single row
	require.NoError(t, svc.Update(ctx, "c1", "alice", false))
	got, _ = svc.TypingUsers(ctx, "c1", "carol")
	assert.Equal(t, []string{"bob"}, profileIDs(got))

	var rows int64
	require.NoError(t, db.Model(&Indicator{}).Where("user_id = ? AND conversation_id = ?", "alice", "c1").Count(&rows).Error)
	assert.EqualValues(t, 1, rows)

	// stale after the window with no cleanup needed
	now = now.Add(4 * time.Second)
	got, _ = svc.TypingUsers(ctx, "c1", "carol")
	assert.Equal(t, []string{"bob"}, profileIDs(got))

	now = now.Add(time.Second)
	got, err = svc.TypingUsers(ctx, "c1", "carol")
	require.NoError(t, err)
	assert.Empty(t, got)
}
