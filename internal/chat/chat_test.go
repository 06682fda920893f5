package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/dbtest"
	"github.com/suPer8Hu/chat-sync/internal/jobs"
	"gorm.io/gorm"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

type enqueued struct {
	kind    jobs.Kind
	payload any
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, kind jobs.Kind, payload any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.jobs = append(e.jobs, enqueued{kind: kind, payload: payload})
	return common.NewULID()
}

type stubImages struct{ missing bool }

func (s stubImages) Stat(context.Context, string) error {
	if s.missing {
		return errors.New("object does not exist")
	}
	return nil
}

type fixture struct {
	dir  *Directory
	svc  *Service
	enq  *recordingEnqueuer
	repo *Repo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, Models()...)
	repo := NewRepo(db)
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	dir := NewDirectory(repo, nil, nil)
	dir.now = c.Now
	enq := &recordingEnqueuer{}
	svc := NewService(repo, enq, stubImages{}, nil, nil)
	svc.now = c.Now
	return &fixture{dir: dir, svc: svc, enq: enq, repo: repo}
}

func (f *fixture) direct(t *testing.T, a, b string) *Conversation {
	t.Helper()
	conv, _, err := f.dir.CreateOrGetConversation(context.Background(), []string{a, b}, ConversationDirect)
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, convID, sender, text string) *Message {
	t.Helper()
	m, err := f.svc.SendMessage(context.Background(), convID, sender, text, nil)
	require.NoError(t, err)
	return m
}

func TestCreateOrGetConversation_DirectIsUniquePerPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.dir.CreateOrGetConversation(ctx, []string{"alice", "bob"}, ConversationDirect)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"alice", "bob"}, first.ParticipantIDs)

	again, created, err := f.dir.CreateOrGetConversation(ctx, []string{"bob", "alice"}, ConversationDirect)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// a group with the same members is a different conversation
	group, created, err := f.dir.CreateOrGetConversation(ctx, []string{"alice", "bob"}, ConversationGroup)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, group.ID)
}

func TestCreateOrGetConversation_ConcurrentSamePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	created := make([]bool, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair := []string{"alice", "bob"}
			if i%2 == 1 {
				pair = []string{"bob", "alice"}
			}
			conv, c, err := f.dir.CreateOrGetConversation(ctx, pair, ConversationDirect)
			errs[i] = err
			created[i] = c
			if conv != nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	inserts := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			inserts++
		}
	}
	assert.Equal(t, 1, inserts)

	convs, err := f.repo.ListConversationsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestCreateConversationOrGetExisting_FallsBackOnPairConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	winner := f.direct(t, "alice", "bob")

	// a create that lost the race still holds the pair key it looked up
	key := pairKey([]string{"alice", "bob"})
	id, err := common.NewULID()
	require.NoError(t, err)
	loser := &Conversation{
		ID:             id,
		Type:           ConversationDirect,
		ParticipantIDs: []string{"alice", "bob"},
		PairKey:        &key,
		LastMessageAt:  time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}

	got, created, err := f.repo.CreateConversationOrGetExisting(ctx, loser)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, got.ID)

	_, err = f.repo.GetConversation(ctx, loser.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "the losing row is rolled back")

	// a failed create with no pair key surfaces the insert error
	dup := &Conversation{ID: winner.ID, Type: ConversationGroup, ParticipantIDs: []string{"alice", "bob"}}
	_, _, err = f.repo.CreateConversationOrGetExisting(ctx, dup)
	assert.Error(t, err)
}

func TestCreateOrGetConversation_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		ids  []string
		typ  ConversationType
	}{
		{"direct with self", []string{"alice", "alice"}, ConversationDirect},
		{"direct with three", []string{"a", "b", "c"}, ConversationDirect},
		{"group of one", []string{"a", " "}, ConversationGroup},
		{"unknown type", []string{"a", "b"}, ConversationType("channel")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.dir.CreateOrGetConversation(ctx, tc.ids, tc.typ)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestSendMessage_SenderHasReadAndReceived(t *testing.T) {
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")

	m := f.send(t, conv.ID, "alice", "  hello  ")
	assert.Equal(t, "  hello  ", m.Content, "content is stored as sent")
	assert.Equal(t, int64(1), m.Seq)
	assert.Equal(t, []string{"alice"}, m.ReadBy)
	assert.Equal(t, []string{"alice"}, m.DeliveredTo)

	got, err := f.svc.GetMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.ReadBy)
	assert.Equal(t, []string{"alice"}, got.DeliveredTo)
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	_, err := f.svc.SendMessage(ctx, conv.ID, "alice", "   ", nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.SendMessage(ctx, conv.ID, "mallory", "hi", nil)
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = f.svc.SendMessage(ctx, "missing", "alice", "hi", nil)
	assert.ErrorIs(t, err, common.ErrNotFound)

	f.svc.images = stubImages{missing: true}
	ref := "uploads/alice/1.jpg"
	_, err = f.svc.SendMessage(ctx, conv.ID, "alice", "", &ref)
	assert.ErrorIs(t, err, common.ErrUpload)

	msgs, err := f.svc.GetMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "failed sends leave nothing behind")
}

func TestSendMessage_ImageOnly(t *testing.T) {
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")

	ref := "uploads/alice/1.jpg"
	m, err := f.svc.SendMessage(context.Background(), conv.ID, "alice", "", &ref)
	require.NoError(t, err)
	require.NotNil(t, m.ImageRef)
	assert.Equal(t, ref, *m.ImageRef)
	assert.Empty(t, f.enq.jobs, "nothing to translate without text")
}

func TestSendMessage_SchedulesBackgroundWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.dir.CreateOrGetConversation(ctx, []string{"alice", "bob", "carol"}, ConversationGroup)
	require.NoError(t, err)

	f.send(t, conv.ID, "alice", "hola")

	require.Len(t, f.enq.jobs, 3)
	assert.Equal(t, jobs.KindTranslateMessage, f.enq.jobs[0].kind)
	assert.Equal(t, jobs.SmartRepliesPayload{ConversationID: conv.ID, UserID: "bob"}, f.enq.jobs[1].payload)
	assert.Equal(t, jobs.SmartRepliesPayload{ConversationID: conv.ID, UserID: "carol"}, f.enq.jobs[2].payload)

	// enqueue failures do not fail the send
	f.enq.err = errors.New("queue full")
	f.send(t, conv.ID, "bob", "still works")
}

func TestGetMessages_MostRecentOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	for _, text := range []string{"one", "two", "three", "four"} {
		f.send(t, conv.ID, "alice", text)
	}

	msgs, err := f.svc.GetMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "four", msgs[2].Content)
	for i := 1; i < len(msgs); i++ {
		assert.Less(t, msgs[i-1].Seq, msgs[i].Seq)
	}

	recent, err := f.svc.RecentMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "three", recent[0].Content)
	assert.Equal(t, "four", recent[1].Content)
}

func TestGetMessages_LimitBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	f.send(t, conv.ID, "alice", "one")
	f.send(t, conv.ID, "alice", "two")

	msgs, err := f.svc.GetMessages(ctx, conv.ID, MaxPageSize)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	msgs, err = f.svc.GetMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "zero falls back to the default page")

	for _, limit := range []int{MaxPageSize + 1, -1} {
		_, err = f.svc.GetMessages(ctx, conv.ID, limit)
		assert.ErrorIs(t, err, common.ErrValidation, "limit %d", limit)
	}
}

func TestMarkAsRead_IdempotentAndImpliesDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	m := f.send(t, conv.ID, "alice", "hi")

	require.NoError(t, f.svc.MarkAsDelivered(ctx, m.ID, "bob"))
	got, _ := f.svc.GetMessage(ctx, m.ID)
	assert.Equal(t, []string{"alice", "bob"}, got.DeliveredTo)
	assert.Equal(t, []string{"alice"}, got.ReadBy)

	require.NoError(t, f.svc.MarkAsRead(ctx, m.ID, "bob"))
	require.NoError(t, f.svc.MarkAsRead(ctx, m.ID, "bob"))
	got, _ = f.svc.GetMessage(ctx, m.ID)
	assert.Equal(t, []string{"alice", "bob"}, got.ReadBy)
	assert.Equal(t, []string{"alice", "bob"}, got.DeliveredTo)

	// delivery after read never un-reads
	require.NoError(t, f.svc.MarkAsDelivered(ctx, m.ID, "bob"))
	got, _ = f.svc.GetMessage(ctx, m.ID)
	assert.Equal(t, []string{"alice", "bob"}, got.ReadBy)

	assert.ErrorIs(t, f.svc.MarkAsRead(ctx, "missing", "bob"), common.ErrNotFound)
	assert.ErrorIs(t, f.svc.MarkAsRead(ctx, m.ID, "mallory"), common.ErrForbidden)
}

func TestMarkConversationAsRead_ClearsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	for _, text := range []string{"a", "b", "c"} {
		f.send(t, conv.ID, "alice", text)
	}

	unread, err := f.svc.HasUnreadMessages(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.True(t, unread)

	unread, err = f.svc.HasUnreadMessages(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.False(t, unread, "own messages never count as unread")

	n, err := f.svc.MarkConversationAsRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	unread, _ = f.svc.HasUnreadMessages(ctx, conv.ID, "bob")
	assert.False(t, unread)

	msgs, _ := f.svc.GetMessages(ctx, conv.ID, 10)
	for _, m := range msgs {
		assert.ElementsMatch(t, []string{"alice", "bob"}, m.ReadBy)
		assert.ElementsMatch(t, []string{"alice", "bob"}, m.DeliveredTo)
	}

	n, err = f.svc.MarkConversationAsRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSoftDelete_HidesUntilNextMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	f.send(t, conv.ID, "alice", "hi")

	require.NoError(t, f.dir.SoftDeleteConversation(ctx, conv.ID, "alice"))
	require.NoError(t, f.dir.SoftDeleteConversation(ctx, conv.ID, "alice"))

	mine, err := f.dir.GetUserConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := f.dir.GetUserConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, []string{"alice"}, theirs[0].DeletedBy)

	// the pair still maps to the same conversation
	again := f.direct(t, "bob", "alice")
	assert.Equal(t, conv.ID, again.ID)

	f.send(t, conv.ID, "bob", "you there?")

	mine, err = f.dir.GetUserConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Empty(t, mine[0].DeletedBy)

	assert.ErrorIs(t, f.dir.SoftDeleteConversation(ctx, conv.ID, "mallory"), common.ErrForbidden)
	assert.ErrorIs(t, f.dir.SoftDeleteConversation(ctx, "missing", "alice"), common.ErrNotFound)
}

func TestGetUserConversations_MostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withBob := f.direct(t, "alice", "bob")
	withCarol := f.direct(t, "alice", "carol")

	f.send(t, withCarol.ID, "carol", "first")
	f.send(t, withBob.ID, "bob", "second")

	convs, err := f.dir.GetUserConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, withBob.ID, convs[0].ID)
	assert.Equal(t, withCarol.ID, convs[1].ID)

	ok, err := f.dir.IsParticipant(ctx, withBob.ID, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := f.dir.ConversationIDsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{withBob.ID, withCarol.ID}, ids)
}

func TestSetDetectedLanguage_WritesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	m := f.send(t, conv.ID, "alice", "hola")

	require.NoError(t, f.svc.SetDetectedLanguage(ctx, m.ID, "es"))
	require.NoError(t, f.svc.SetDetectedLanguage(ctx, m.ID, "pt"))

	got, err := f.svc.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DetectedLanguage)
	assert.Equal(t, "es", *got.DetectedLanguage)
}
