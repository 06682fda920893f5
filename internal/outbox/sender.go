package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"go.uber.org/zap"
)

// Transport delivers a message to the server.
type Transport interface {
	SendMessage(ctx context.Context, conversationID, content string, imageRef *string) (*chat.Message, error)
}

type Sender struct {
	userID    string
	queue     *Queue
	view      *View
	transport Transport
	log       *zap.Logger
	now       func() time.Time
}

func NewSender(userID string, queue *Queue, view *View, transport Transport, log *zap.Logger) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{userID: userID, queue: queue, view: view, transport: transport, log: log, now: time.Now}
}

// retryable errors are worth queueing; rejected messages are not.
func retryable(err error) bool {
	switch common.KindOf(err) {
	case common.KindValidation, common.KindForbidden, common.KindNotFound:
		return false
	}
	return true
}

// Send shows the message as pending, sends it, and resolves the pending
// entry. A send that fails for transient reasons is queued for Flush.
func (s *Sender) Send(ctx context.Context, conversationID, content string, imageRef *string) (tempID string, msg *chat.Message, err error) {
	tempID = tempPrefix + uuid.NewString()
	now := s.now()
	s.view.AddPending(Item{
		ID:             tempID,
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        content,
		ImageRef:       imageRef,
		CreatedAt:      now,
	})

	msg, err = s.transport.SendMessage(ctx, conversationID, content, imageRef)
	s.view.Resolve(tempID)
	if err == nil {
		s.view.Confirm(*msg)
		return tempID, msg, nil
	}

	if retryable(err) {
		e := &Entry{LocalID: tempID, ConversationID: conversationID, Content: content, ImageRef: imageRef, EnqueuedAt: now}
		evicted, qerr := s.queue.Enqueue(ctx, e)
		if qerr != nil {
			s.log.Warn("outbox enqueue failed", zap.String("local_id", tempID), zap.Error(qerr))
		} else if evicted > 0 {
			s.log.Warn("outbox full, dropped oldest", zap.Int("evicted", evicted))
		}
	}
	return tempID, nil, err
}

// Flush retries queued messages in order. Entries rejected by the server are
// dropped; transient failures stay queued with the attempt counted.
func (s *Sender) Flush(ctx context.Context) (sent int, err error) {
	entries, err := s.queue.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		msg, serr := s.transport.SendMessage(ctx, e.ConversationID, e.Content, e.ImageRef)
		if serr == nil {
			if err := s.queue.Remove(ctx, e.LocalID); err != nil {
				return sent, err
			}
			s.view.Confirm(*msg)
			sent++
			continue
		}
		if !retryable(serr) {
			s.log.Info("outbox dropping rejected message", zap.String("local_id", e.LocalID), zap.Error(serr))
			if err := s.queue.Remove(ctx, e.LocalID); err != nil {
				return sent, err
			}
			continue
		}
		if err := s.queue.MarkAttempt(ctx, e.LocalID, serr.Error()); err != nil {
			return sent, err
		}
	}
	return sent, nil
}
