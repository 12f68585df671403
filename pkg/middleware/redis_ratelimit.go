package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a Redis-backed sliding-window rate limit store. Counts are
// shared across all instances, so limits hold under horizontal scaling and
// survive instance restarts.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed rate limit store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Check implements a sliding window over a sorted set: members are request
// timestamps scored by unix-nanos, pruned to the trailing window on each call.
func (s *RedisStore) Check(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	redisKey := fmt.Sprintf("%s:%s", s.prefix, key)
	now := s.now()
	cutoff := now.Add(-window).UnixNano()

	pipe := s.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateLimitResult{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}

	count := int(card.Val())
	if count >= limit {
		retry := window
		oldest, err := s.redis.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) == 1 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retry = oldestAt.Add(window).Sub(now)
		}
		retrySeconds := int64(retry / time.Second)
		if retry%time.Second > 0 {
			retrySeconds++
		}
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		return RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Duration(retrySeconds) * time.Second,
		}, nil
	}

	nowNanos := now.UnixNano()
	pipe = s.redis.Pipeline()
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(nowNanos),
		Member: strconv.FormatInt(nowNanos, 10),
	})
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateLimitResult{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}

	return RateLimitResult{
		Allowed:   true,
		Remaining: limit - count - 1,
	}, nil
}

// HealthCheck verifies Redis connectivity for rate limiting
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Reset clears the rate limit for a key (for testing or admin purposes)
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.redis.Del(ctx, fmt.Sprintf("%s:%s", s.prefix, key)).Err()
}
