package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBridge relays events between API instances. Publish only writes to
// Redis; Run delivers everything on the channel, including this instance's
// own events, into the local hub.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger
}

func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub, log *zap.Logger) *RedisBridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBridge{rdb: rdb, channel: channel, hub: hub, log: log}
}

func (b *RedisBridge) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("marshal realtime event", zap.Error(err))
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		// fall back to local delivery so this instance's clients still see it
		b.log.Warn("redis publish failed, delivering locally", zap.Error(err), zap.String("topic", ev.Topic))
		b.hub.Publish(ctx, ev)
	}
}

// Run blocks until ctx is cancelled. ready, when non-nil, is closed once the
// subscription is confirmed.
func (b *RedisBridge) Run(ctx context.Context, ready chan<- struct{}) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("bad realtime payload", zap.Error(err))
				continue
			}
			b.hub.Publish(ctx, ev)
		}
	}
}
