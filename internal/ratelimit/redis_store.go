package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one key per window; keys expire when the window ends.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(userID string, feature Feature, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", feature, userID, windowStart.UnixMilli())
}

func (s *RedisStore) Usage(ctx context.Context, userID string, feature Feature, windowStart time.Time) (int, error) {
	n, err := s.rdb.Get(ctx, redisKey(userID, feature, windowStart)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) Increment(ctx context.Context, userID string, feature Feature, windowStart time.Time, window time.Duration) (int, error) {
	key := redisKey(userID, feature, windowStart)
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.PExpireAt(ctx, key, windowStart.Add(window))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}
