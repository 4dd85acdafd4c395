package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations shares signed-session revocations between instances.
// Keys expire on their own, so Sweep has nothing to do.
type RedisRevocations struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocations(client *redis.Client, prefix string) *RedisRevocations {
	if prefix == "" {
		prefix = "ncats:sess:"
	}
	return &RedisRevocations{client: client, prefix: prefix}
}

func (r *RedisRevocations) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+"jti:"+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke session %s: %w", jti, err)
	}
	return nil
}

func (r *RedisRevocations) TokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+"jti:"+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRevocations) SetUserCutoff(ctx context.Context, userID int64, notBefore, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	key := r.prefix + "cutoff:" + strconv.FormatInt(userID, 10)
	if err := r.client.Set(ctx, key, notBefore.UnixNano(), ttl).Err(); err != nil {
		return fmt.Errorf("set session cutoff: %w", err)
	}
	return nil
}

func (r *RedisRevocations) UserCutoff(ctx context.Context, userID int64) (time.Time, bool, error) {
	ns, err := r.client.Get(ctx, r.prefix+"cutoff:"+strconv.FormatInt(userID, 10)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get session cutoff: %w", err)
	}
	return time.Unix(0, ns), true, nil
}

func (r *RedisRevocations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
