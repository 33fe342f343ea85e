// Package ratelimit implements a distributed, Redis-backed rate limiter
// for deployments running more than one router instance. A single
// in-process token bucket (as used by pkg/waf's default Limiter) can't
// share state across pods, so every instance would independently allow its
// own quota per client; RedisLimiter fixes that by keeping the counter in
// Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces a fixed-window request count per key, shared across
// every process talking to the same Redis instance.
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int64
	window    time.Duration
}

// NewRedisLimiter creates a limiter allowing at most limit requests per key
// within each window.
func NewRedisLimiter(client *redis.Client, keyPrefix string, limit int64, window time.Duration) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "atprouter:ratelimit:"
	}
	return &RedisLimiter{client: client, keyPrefix: keyPrefix, limit: limit, window: window}
}

func (r *RedisLimiter) key(clientID string) string {
	return r.keyPrefix + clientID
}

// Allow increments the counter for clientID and reports whether the count
// is still within limit for the current window. The first increment in a
// window sets its expiry; later increments ride the existing TTL.
func (r *RedisLimiter) Allow(clientID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := r.key(clientID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: redis pexpire: %w", err)
		}
	}
	return count <= r.limit, nil
}

// RetryAfter reports the remaining TTL on clientID's current window, which
// is the soonest the count can reset. It does not consume a request.
func (r *RedisLimiter) RetryAfter(clientID string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ttl, err := r.client.PTTL(ctx, r.key(clientID)).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis pttl: %w", err)
	}
	if ttl < 0 {
		return r.window, nil
	}
	return ttl, nil
}

// Reset clears clientID's window early, used by admin tooling to lift a
// limit without waiting out the TTL.
func (r *RedisLimiter) Reset(clientID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Del(ctx, r.key(clientID)).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis del: %w", err)
	}
	return nil
}
