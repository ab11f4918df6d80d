package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/pkg/database"
)

// RateLimitResult describes the outcome of a single Allow call.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a sliding-window request limiter keyed by caller.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	redis *database.Redis
	clock clock.Clock
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *database.Redis, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RateLimiter{redis: redis, clock: clk}
}

var _ Limiter = (*RateLimiter)(nil)

// Allow records a request for key unless limit requests already fall inside
// the trailing window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := r.clock.Now()
	windowStart := now.Add(-window)
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	result := RateLimitResult{Limit: limit}

	// Sliding window log: scores are unix milliseconds
	err := r.redis.Client.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10)).Err()
	if err != nil {
		return result, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := r.redis.Client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return result, fmt.Errorf("failed to count entries: %w", err)
	}

	if count >= int64(limit) {
		oldest, err := r.redis.Client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			return result, fmt.Errorf("failed to read oldest entry: %w", err)
		}
		result.RetryAfter = window
		if len(oldest) > 0 {
			oldestTime := time.UnixMilli(int64(oldest[0].Score))
			if wait := oldestTime.Add(window).Sub(now); wait > 0 {
				result.RetryAfter = wait
			}
		}
		return result, nil
	}

	err = r.redis.Client.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	}).Err()
	if err != nil {
		return result, fmt.Errorf("failed to add entry: %w", err)
	}

	if err := r.redis.Client.Expire(ctx, redisKey, window+time.Minute).Err(); err != nil {
		return result, fmt.Errorf("failed to set expiry: %w", err)
	}

	result.Allowed = true
	result.Remaining = limit - int(count) - 1
	return result, nil
}
