package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	redisv9 "github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed one-minute window counter per user. A request is
// allowed while the window count stays within perMinute+burst.
type RateLimiter struct {
	client *redisv9.Client
	limit  int64
}

func NewRateLimiter(client *redisv9.Client, perMinute, burst int) *RateLimiter {
	return &RateLimiter{client: client, limit: int64(perMinute + burst)}
}

func (r *RateLimiter) Allow(ctx context.Context, userID uuid.UUID) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	key := rateKey(userID)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil && err != redisv9.Nil {
		return false, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	return incr.Val() <= r.limit, nil
}

type MemoryRateLimiter struct {
	counters *gocache.Cache
	limit    int
}

func NewMemoryRateLimiter(perMinute, burst int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		counters: gocache.New(time.Minute, 2*time.Minute),
		limit:    perMinute + burst,
	}
}

func (r *MemoryRateLimiter) Allow(_ context.Context, userID uuid.UUID) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	key := rateKey(userID)
	// Add only succeeds for a fresh window; the error just means it is open
	_ = r.counters.Add(key, 0, time.Minute)
	count, err := r.counters.IncrementInt(key, 1)
	if err != nil {
		// window expired between Add and Increment
		r.counters.Set(key, 1, time.Minute)
		count = 1
	}
	return count <= r.limit, nil
}
