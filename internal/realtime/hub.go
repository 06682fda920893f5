package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/metrics"
	"go.uber.org/zap"
)

// Event types pushed to live subscribers.
const (
	EventMessageCreated      = "message.created"
	EventMessageReceipts     = "message.receipts"
	EventConversationUpdated = "conversation.updated"
	EventTypingUpdated       = "typing.updated"
	EventTranslationReady    = "translation.ready"
	EventSmartRepliesReady   = "smart_replies.ready"
	EventPresenceUpdated     = "presence.updated"
)

type Event struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    time.Time       `json:"at"`
}

func ConversationTopic(id string) string { return "conversation:" + id }
func UserTopic(id string) string         { return "user:" + id }

// NewEvent marshals data into an event for topic. A marshal failure yields an
// event without payload; subscribers can still refetch.
func NewEvent(typ, topic string, data any) Event {
	ev := Event{Type: typ, Topic: topic, At: time.Now().UTC()}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			ev.Data = b
		}
	}
	return ev
}

// Publisher is what services use to announce committed changes.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type discard struct{}

func (discard) Publish(context.Context, Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

// PublishAll sends the same event type and payload to several topics.
func PublishAll(ctx context.Context, p Publisher, typ string, topics []string, data any) {
	if p == nil {
		return
	}
	for _, t := range topics {
		p.Publish(ctx, NewEvent(typ, t, data))
	}
}

const subscriptionBuffer = 64

type Subscription struct {
	hub    *Hub
	ch     chan Event
	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

// C delivers events for the subscribed topics. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Add subscribes to more topics.
func (s *Subscription) Add(topics ...string) {
	s.hub.add(s, topics)
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub is an in-process topic fan-out. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	log    *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{topics: make(map[string]map[*Subscription]struct{}), log: log}
}

func (h *Hub) Subscribe(topics ...string) *Subscription {
	s := &Subscription{hub: h, ch: make(chan Event, subscriptionBuffer), topics: make(map[string]struct{})}
	h.add(s, topics)
	return s
}

func (h *Hub) add(s *Subscription, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, t := range topics {
		subs, ok := h.topics[t]
		if !ok {
			subs = make(map[*Subscription]struct{})
			h.topics[t] = subs
		}
		subs[s] = struct{}{}
		s.topics[t] = struct{}{}
	}
	metrics.RealtimeSubscriptions.Set(float64(h.countLocked()))
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for t := range s.topics {
		if subs, ok := h.topics[t]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.topics, t)
			}
		}
	}
	close(s.ch)
	metrics.RealtimeSubscriptions.Set(float64(h.countLocked()))
}

func (h *Hub) countLocked() int {
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}

func (h *Hub) Publish(_ context.Context, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.topics[ev.Topic] {
		select {
		case s.ch <- ev:
		default:
			metrics.RealtimeDroppedTotal.Inc()
			h.log.Warn("realtime subscriber buffer full, dropping event",
				zap.String("topic", ev.Topic), zap.String("type", ev.Type))
		}
	}
}
