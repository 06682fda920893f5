package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_FanOutByTopic(t *testing.T) {
	h := NewHub(nil)
	a := h.Subscribe(ConversationTopic("c1"))
	b := h.Subscribe(ConversationTopic("c2"), UserTopic("u1"))
	defer a.Close()
	defer b.Close()

	h.Publish(context.Background(), NewEvent(EventMessageCreated, ConversationTopic("c1"), map[string]string{"id": "m1"}))
	h.Publish(context.Background(), NewEvent(EventConversationUpdated, UserTopic("u1"), nil))

	ev := recv(t, a)
	assert.Equal(t, EventMessageCreated, ev.Type)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "m1", payload["id"])

	ev = recv(t, b)
	assert.Equal(t, EventConversationUpdated, ev.Type)
	assert.Empty(t, a.C())
}

func TestHub_AddAndClose(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	s.Add(ConversationTopic("c1"))

	h.Publish(context.Background(), NewEvent(EventTypingUpdated, ConversationTopic("c1"), nil))
	assert.Equal(t, EventTypingUpdated, recv(t, s).Type)

	s.Close()
	s.Close()
	_, ok := <-s.C()
	assert.False(t, ok)

	// publishing after close must not panic
	h.Publish(context.Background(), NewEvent(EventTypingUpdated, ConversationTopic("c1"), nil))
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe("t")
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer+10; i++ {
			h.Publish(context.Background(), NewEvent("x", "t", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, s.C(), subscriptionBuffer)
}

func TestRedisBridge_RelaysIntoHub(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	h := NewHub(nil)
	sub := h.Subscribe(ConversationTopic("c9"))
	defer sub.Close()

	bridge := NewRedisBridge(rdb, "events", h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go func() { _ = bridge.Run(ctx, ready) }()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never subscribed")
	}

	bridge.Publish(ctx, NewEvent(EventMessageCreated, ConversationTopic("c9"), map[string]int{"seq": 3}))

	ev := recv(t, sub)
	assert.Equal(t, EventMessageCreated, ev.Type)
	assert.JSONEq(t, `{"seq":3}`, string(ev.Data))
}
