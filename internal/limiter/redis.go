package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter backed by a shared Redis instance, for
// deployments running more than one API replica.
type Redis struct {
	client *redis.Client
	limit  int
	per    time.Duration
	prefix string
}

// NewRedis creates a Redis-backed limiter allowing limit events per window.
func NewRedis(client *redis.Client, limit int, per time.Duration) *Redis {
	return &Redis{client: client, limit: limit, per: per, prefix: "ratelimit:"}
}

// Allow increments the key's window counter and reports whether it is within
// budget. The first increment in a window sets the expiry, so stale keys
// clean themselves up.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := r.prefix + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("limiter: incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.per).Err(); err != nil {
			return false, fmt.Errorf("limiter: expire: %w", err)
		}
	}
	return count <= int64(r.limit), nil
}

var _ Limiter = (*Redis)(nil)
