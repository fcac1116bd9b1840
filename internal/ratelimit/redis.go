package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a sliding-window limiter backed by a Redis sorted
// set per key. Instances sharing one Redis share one request budget,
// which keeps the max-per-window guarantee under multi-process
// deployment.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter builds a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		max:    max,
		window: window,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// Allow trims expired members, counts the survivors, and either
// rejects or records the request. Trim, count and insert run in one
// MULTI/EXEC block so concurrent checks for the same key cannot
// both slip under the limit.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := rl.now()
	cutoff := now.Add(-rl.window)
	redisKey := rl.prefix + key
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis pipeline: %w", err)
	}

	count := int(countCmd.Val())
	if count >= rl.max {
		// The speculative ZADD above must not count against the key.
		rl.client.ZRem(ctx, redisKey, member)
		retryAfter := rl.window
		if oldest, err := rl.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result(); err == nil && len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(rl.window).Sub(now)
		}
		return Result{OK: false, RetryAfter: retryAfter}, nil
	}

	return Result{OK: true, Remaining: rl.max - count - 1}, nil
}
