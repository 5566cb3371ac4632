// Package ratelimit implements the per-recipient fixed-window notification
// limiter described in spec §4.7/§3 (RateWindow): a Redis INCR+PEXPIRE
// counter keyed by recipient, reset on TTL expiry.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter enforces a fixed-size counting window per recipient.
type Limiter struct {
	rdb    *redis.Client
	prefix string
}

// New wraps an existing Redis client. Sharing the broker's client is fine;
// streams and counters live in different keyspaces.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, prefix: "ratelimit:"}
}

// Allow increments the recipient's counter and reports whether the event
// stays within max for the given window. The first increment in a fresh
// window sets the TTL; subsequent increments do not extend it, so the
// window is fixed rather than a rolling one.
func (l *Limiter) Allow(ctx context.Context, recipient string, max int, window time.Duration) (bool, error) {
	key := l.prefix + recipient
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate window: %w", err)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("set rate window ttl: %w", err)
		}
	}
	return count <= int64(max), nil
}

// Remaining reports how many more events recipient may send in the current
// window (max minus the current count, never below zero) without
// incrementing; with no live window it reports max.
func (l *Limiter) Remaining(ctx context.Context, recipient string, max int) (int, error) {
	key := l.prefix + recipient
	count, err := l.rdb.Get(ctx, key).Int()
	if err != nil {
		if err == redis.Nil {
			return max, nil
		}
		return 0, err
	}
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
