// Package ratelimit enforces per-user, per-feature quotas over clock-aligned
// fixed windows.
//
// Windows start at multiples of the window length on the unix epoch, so a
// client can spend up to twice its limit across a boundary. This matches the
// counters already in production.
package ratelimit

import (
	"context"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
)

type Feature string

const (
	FeatureTranslation  Feature = "translation"
	FeatureSmartReplies Feature = "smart_replies"
)

type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store persists one counter per (user, feature) for the current window.
type Store interface {
	// Usage returns the count for the window starting at windowStart, zero if
	// the stored counter belongs to another window.
	Usage(ctx context.Context, userID string, feature Feature, windowStart time.Time) (int, error)
	// Increment adds one to the window's count, starting over when the stored
	// counter belongs to another window, and returns the new count.
	Increment(ctx context.Context, userID string, feature Feature, windowStart time.Time, window time.Duration) (int, error)
}

type Limiter struct {
	store  Store
	window time.Duration
	limits map[Feature]int
	now    func() time.Time
}

func New(store Store, window time.Duration, limits map[Feature]int) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{store: store, window: window, limits: limits, now: time.Now}
}

// WindowStart aligns now to the window grid.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ms := now.UnixMilli()
	w := window.Milliseconds()
	return time.UnixMilli(ms - ms%w).UTC()
}

func (l *Limiter) limit(feature Feature) (int, error) {
	n, ok := l.limits[feature]
	if !ok {
		return 0, common.Validation("unknown rate limited feature")
	}
	return n, nil
}

// Check reports whether one more use is allowed. It never changes the count.
func (l *Limiter) Check(ctx context.Context, userID string, feature Feature) (Decision, error) {
	limit, err := l.limit(feature)
	if err != nil {
		return Decision{}, err
	}
	start := WindowStart(l.now(), l.window)
	used, err := l.store.Usage(ctx, userID, feature, start)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   used < limit,
		Limit:     limit,
		Used:      used,
		Remaining: max(limit-used, 0),
		ResetAt:   start.Add(l.window),
	}, nil
}

// Allow is Check folded into an error: RateLimitExceeded carrying the reset time.
func (l *Limiter) Allow(ctx context.Context, userID string, feature Feature) error {
	d, err := l.Check(ctx, userID, feature)
	if err != nil {
		return err
	}
	if !d.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(feature)).Inc()
		return common.RateLimited("rate limit exceeded for "+string(feature), d.ResetAt)
	}
	return nil
}

// Increment records one use and returns the count in the current window.
func (l *Limiter) Increment(ctx context.Context, userID string, feature Feature) (int, error) {
	if _, err := l.limit(feature); err != nil {
		return 0, err
	}
	return l.store.Increment(ctx, userID, feature, WindowStart(l.now(), l.window), l.window)
}
