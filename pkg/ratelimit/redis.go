package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, microsecond precision)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return {allowed, tostring(tokens)}
`)

// RedisLimiter shares token buckets between server replicas.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	clock  func() time.Time
}

// NewRedisLimiter creates a limiter that talks to addr.
func NewRedisLimiter(addr, password string, db int) *RedisLimiter {
	return NewRedisLimiterFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewRedisLimiterFromClient wraps an existing client.
func NewRedisLimiterFromClient(c redis.Scripter) *RedisLimiter {
	return &RedisLimiter{client: c, prefix: "soulbound:limiter:", clock: time.Now}
}

// Ping checks connectivity when the client supports it.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	p, ok := l.client.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	})
	if !ok {
		return nil
	}
	return p.Ping(ctx).Err()
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	now := float64(l.clock().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		policy.perSecond(), policy.burst(), cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from limiter script: %v", res)
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Close closes the underlying client when it owns one.
func (l *RedisLimiter) Close() error {
	if c, ok := l.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
