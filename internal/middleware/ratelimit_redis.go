package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window counter shared by every instance
// pointed at the same Redis.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisRateLimiter(client *redis.Client, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ncats:rl:"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// Allow increments the key and starts its expiry on the first hit of a
// window. INCR is atomic, so concurrent hits across instances never both
// take the last slot.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", k, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", k, err)
		}
	} else if ttl, err := l.client.TTL(ctx, k).Result(); err == nil && ttl == -1 {
		// A crash between INCR and EXPIRE would leave the key without a TTL.
		l.client.Expire(ctx, k, window)
	}
	return count <= int64(limit), nil
}
