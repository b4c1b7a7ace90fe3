package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bonsaipay/internal/domain"
)

const redisKeyPrefix = "bonsaipay:rl:"

// redisLimiter is a fixed-window counter shared by every replica. Counters
// are bucketed by window start, so all replicas agree on the reset time
// without reading the key's TTL.
type redisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// The key outlives its window by one second to absorb clock drift between
// replicas.
var redisIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisLimiter(addr, password string, db int, now func() time.Time) (domain.RateLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if now == nil {
		now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisLimiter{client: client, now: now}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	start, reset := windowBounds(r.now(), window)
	ttl := reset.Sub(start) + time.Second
	current, err := redisIncrScript.Run(ctx, r.client, []string{bucketKey(key, start)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	return windowDecision(current, limit, reset), nil
}

func (r *redisLimiter) Close() error {
	return r.client.Close()
}

// windowBounds returns the fixed window containing now. Windows shorter
// than a second are widened to one second.
func windowBounds(now time.Time, window time.Duration) (start, reset time.Time) {
	if window < time.Second {
		window = time.Second
	}
	start = now.Truncate(window)
	return start, start.Add(window)
}

func bucketKey(key string, start time.Time) string {
	return fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, start.UnixMilli())
}

func windowDecision(current int64, limit int, reset time.Time) domain.RateLimitDecision {
	remaining := int64(limit) - current
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   reset,
	}
}
