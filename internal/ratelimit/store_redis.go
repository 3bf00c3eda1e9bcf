package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "brokerdesk:ratelimit:"

// RedisLimiter shares windows across instances with one sorted set per key,
// scored by hit time in milliseconds.
type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now()
	k := redisKeyPrefix + key
	member := strconv.FormatInt(now.UnixMilli(), 10) + ":" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, k)
	oldest := pipe.ZRangeWithScores(ctx, k, 0, 0)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	first := now
	if zs := oldest.Val(); len(zs) > 0 {
		first = time.UnixMilli(int64(zs[0].Score))
	}
	count := int(card.Val())
	if count <= limit {
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count,
			ResetAt:   first.Add(window),
		}, nil
	}

	// Over the limit: the denied hit must not occupy the window.
	if err := l.client.ZRem(ctx, k, member).Err(); err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return Result{
		Limit:      limit,
		ResetAt:    first.Add(window),
		RetryAfter: retryAfter(first, window, now),
	}, nil
}
