package outbox

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/chat"
)

const tempPrefix = "temp-"

// IsTempID reports whether id was issued locally for a pending send.
func IsTempID(id string) bool { return strings.HasPrefix(id, tempPrefix) }

type Item struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	ImageRef       *string   `json:"image_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Pending        bool      `json:"pending"`
}

// View merges confirmed messages with pending sends. Pending entries are
// tracked by temp id only and disappear when their send resolves, whatever
// the outcome; two pending sends with the same text stay distinct.
type View struct {
	mu        sync.Mutex
	confirmed map[string]Item
	pending   map[string]Item
}

func NewView() *View {
	return &View{confirmed: make(map[string]Item), pending: make(map[string]Item)}
}

func (v *View) AddPending(it Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	it.Pending = true
	v.pending[it.ID] = it
}

// Resolve drops the pending entry for tempID.
func (v *View) Resolve(tempID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, tempID)
}

// Confirm adds or refreshes server messages.
func (v *View) Confirm(msgs ...chat.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range msgs {
		v.confirmed[m.ID] = Item{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Content:        m.Content,
			ImageRef:       m.ImageRef,
			CreatedAt:      m.CreatedAt,
		}
	}
}

// Items returns everything for conversationID ordered by time.
func (v *View) Items(conversationID string) []Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Item, 0, len(v.confirmed)+len(v.pending))
	for _, src := range []map[string]Item{v.confirmed, v.pending} {
		for _, it := range src {
			if it.ConversationID == conversationID {
				out = append(out, it)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
