package chat

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"go.uber.org/zap"
)

// Directory owns conversation creation, listing and per-user deletion.
type Directory struct {
	repo *Repo
	pub  realtime.Publisher
	log  *zap.Logger
	now  func() time.Time
}

func NewDirectory(repo *Repo, pub realtime.Publisher, log *zap.Logger) *Directory {
	if pub == nil {
		pub = realtime.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{repo: repo, pub: pub, log: log, now: time.Now}
}

func normalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func pairKey(sorted []string) string {
	return sorted[0] + "|" + sorted[1]
}

// CreateOrGetConversation returns the direct conversation between two users,
// creating it on first use, or creates a new group. created reports whether
// a row was inserted.
func (d *Directory) CreateOrGetConversation(ctx context.Context, participantIDs []string, typ ConversationType) (conv *Conversation, created bool, err error) {
	ids := normalizeParticipants(participantIDs)

	switch typ {
	case ConversationDirect:
		if len(ids) != 2 {
			return nil, false, common.Validation("direct conversation needs exactly two distinct participants")
		}
	case ConversationGroup:
		if len(ids) < 2 {
			return nil, false, common.Validation("group conversation needs at least two participants")
		}
	default:
		return nil, false, common.Validation("unknown conversation type")
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	now := d.now().UTC()
	c := &Conversation{
		ID:             id,
		Type:           typ,
		ParticipantIDs: ids,
		LastMessageAt:  now,
		CreatedAt:      now,
	}

	if typ == ConversationDirect {
		key := pairKey(ids)
		existing, err := d.repo.GetConversationByPairKey(ctx, key)
		if err == nil {
			return existing, false, nil
		}
		if common.KindOf(err) != common.KindNotFound {
			return nil, false, err
		}
		c.PairKey = &key
		conv, created, err = d.repo.CreateConversationOrGetExisting(ctx, c)
		if err != nil {
			return nil, false, err
		}
	} else {
		if err := d.repo.CreateConversation(ctx, c); err != nil {
			return nil, false, err
		}
		conv, created = c, true
	}

	if created {
		conv.DeletedBy = []string{}
		d.log.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("type", string(conv.Type)),
			zap.Int("participants", len(conv.ParticipantIDs)))
		realtime.PublishAll(ctx, d.pub, realtime.EventConversationUpdated, userTopics(conv.ParticipantIDs), conv)
	}
	return conv, created, nil
}

func (d *Directory) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := d.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, common.NotFoundIfMissing(err, "conversation not found")
	}
	return c, nil
}

// GetUserConversations lists conversations userID takes part in and has not
// deleted, most recently active first.
func (d *Directory) GetUserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return d.repo.ListConversationsForUser(ctx, userID)
}

func (d *Directory) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := d.repo.GetMember(ctx, conversationID, userID)
	if err == nil {
		return true, nil
	}
	if common.KindOf(err) == common.KindNotFound {
		return false, nil
	}
	return false, err
}

// ConversationIDsForUser includes hidden conversations, since a new message
// brings them back.
func (d *Directory) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return d.repo.ConversationIDsForUser(ctx, userID)
}

// SoftDeleteConversation hides the conversation for userID only. It stays
// hidden until the next message is sent to it.
func (d *Directory) SoftDeleteConversation(ctx context.Context, conversationID, userID string) error {
	if _, err := d.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	if _, err := d.repo.GetMember(ctx, conversationID, userID); err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return common.Forbidden("not a participant of this conversation")
		}
		return err
	}
	if err := d.repo.HideForUser(ctx, conversationID, userID, d.now().UTC()); err != nil {
		return err
	}
	d.pub.Publish(ctx, realtime.NewEvent(realtime.EventConversationUpdated, realtime.UserTopic(userID),
		map[string]any{"conversation_id": conversationID, "deleted": true}))
	return nil
}

func userTopics(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = realtime.UserTopic(id)
	}
	return out
}
