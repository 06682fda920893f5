package smartreply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-sync/internal/ai"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/dbtest"
	"github.com/suPer8Hu/chat-sync/internal/ratelimit"
)

type recordingProvider struct {
	calls int
	last  []ai.Message
	reply string
	err   error
}

func (p *recordingProvider) Chat(_ context.Context, messages []ai.Message) (string, error) {
	p.calls++
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	return p.reply, p.err
}

type fixture struct {
	svc     *Service
	prov    *recordingProvider
	msgs    *chat.Service
	limiter *ratelimit.Limiter
	conv    *chat.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	models := append(chat.Models(), &SmartReply{}, &ratelimit.Counter{})
	db := dbtest.Open(t, models...)

	repo := chat.NewRepo(db)
	conv, _, err := chat.NewDirectory(repo, nil, nil).
		CreateOrGetConversation(context.Background(), []string{"alice", "bob"}, chat.ConversationDirect)
	require.NoError(t, err)

	msgs := chat.NewService(repo, nil, nil, nil, nil)
	prov := &recordingProvider{reply: `{"suggestions":["Sure!","Maybe later"," No thanks "]}`}
	limiter := ratelimit.New(ratelimit.NewGormStore(db), time.Hour, map[ratelimit.Feature]int{ratelimit.FeatureSmartReplies: 1})
	svc := NewService(db, prov, msgs, limiter, 0, nil, nil)
	return &fixture{svc: svc, prov: prov, msgs: msgs, limiter: limiter, conv: conv}
}

func (f *fixture) send(t *testing.T, sender, text string) *chat.Message {
	t.Helper()
	m, err := f.msgs.SendMessage(context.Background(), f.conv.ID, sender, text, nil)
	require.NoError(t, err)
	return m
}

func TestGenerate_NothingToAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Generate(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	assert.Nil(t, r, "empty conversation")

	f.send(t, "bob", "anyone?")
	r, err = f.svc.Generate(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	assert.Nil(t, r, "latest message is the user's own")
	assert.Zero(t, f.prov.calls)
}

func TestGenerate_TranscriptAndStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, "bob", "hey")
	last := f.send(t, "alice", "dinner tonight?")

	r, err := f.svc.Generate(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, []string{"Sure!", "Maybe later", "No thanks"}, r.Suggestions)
	assert.Equal(t, last.ID, r.TriggerMessageID)
	assert.Equal(t, "Me: hey\nOther: dinner tonight?\n", f.prov.last[1].Content)

	got, err := f.svc.Get(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, r.Suggestions, got.Suggestions)

	// regenerating the same key overwrites
	f.prov.reply = `["a","b","c"]`
	_, err = f.svc.Generate(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	got, _ = f.svc.Get(ctx, f.conv.ID, "bob")
	assert.Equal(t, []string{"a", "b", "c"}, got.Suggestions)

	// a newer message hides older suggestions
	f.send(t, "alice", "?")
	_, err = f.svc.Get(ctx, f.conv.ID, "bob")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGenerate_RejectsBadSuggestions(t *testing.T) {
	cases := map[string]string{
		"two":       `{"suggestions":["a","b"]}`,
		"four":      `["a","b","c","d"]`,
		"blank":     `{"suggestions":["a"," ","c"]}`,
		"wrong key": `{"replies":["a","b","c"]}`,
		"prose":     "How about: yes, no, maybe",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.send(t, "alice", "hi")
			f.prov.reply = reply

			_, err := f.svc.Generate(context.Background(), f.conv.ID, "bob")
			assert.ErrorIs(t, err, common.ErrProvider)
			_, err = f.svc.Get(context.Background(), f.conv.ID, "bob")
			assert.ErrorIs(t, err, common.ErrNotFound)
		})
	}
}

func TestGenerateForUser_QuotaSpentOnSuccessOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "alice", "hi")

	f.prov.err = errors.New("timeout")
	_, err := f.svc.GenerateForUser(ctx, f.conv.ID, "bob")
	assert.ErrorIs(t, err, common.ErrProvider)

	f.prov.err = nil
	r, err := f.svc.GenerateForUser(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, r)

	// cached, so free even though the quota of one is used up
	_, err = f.svc.GenerateForUser(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, f.prov.calls)

	f.send(t, "alice", "hello?")
	_, err = f.svc.GenerateForUser(ctx, f.conv.ID, "bob")
	assert.ErrorIs(t, err, common.ErrRateLimitExceeded)
}

func TestPrune_KeepsLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, "alice", "one")
	_, err := f.svc.Generate(ctx, f.conv.ID, "bob")
	require.NoError(t, err)
	f.send(t, "alice", "two")
	_, err = f.svc.Generate(ctx, f.conv.ID, "bob")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err := f.svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.Get(ctx, f.conv.ID, "bob")
	assert.NoError(t, err)
}
