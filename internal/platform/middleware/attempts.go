package middleware

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptScript is a token bucket evaluated atomically in Redis.
// KEYS[1] bucket key; ARGV: capacity, refill rate (tokens/s), now (ms).
// Returns {allowed (1/0), tokens left * 1000}.
const attemptScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local info = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(info[1])
local ts = tonumber(info[2])
if not tokens then
	tokens = capacity
	ts = now
end

local elapsed = math.max(0, now - ts) / 1000
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
	allowed = 1
	tokens = tokens - 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", tostring(now))
local ttl = 60000
if rate > 0 then
	ttl = math.ceil(capacity / rate * 1000) + 1000
end
redis.call("PEXPIRE", key, ttl)

return {allowed, math.floor(tokens * 1000)}
`

var attemptLua = redis.NewScript(attemptScript)

// RedisLimiter is a token bucket shared by every replica through Redis.
// It backs the access-code attempt limit so that guessing codes from one
// address is throttled across the whole deployment.
type RedisLimiter struct {
	client redis.Scripter
	rate   float64
	burst  int
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		rate:   cfg.RequestsPerSecond,
		burst:  cfg.BurstSize,
		prefix: "dossier:attempts:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	res, err := attemptLua.Run(ctx, l.client, []string{l.prefix + key},
		l.burst, l.rate, l.now().UnixMilli()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("evaluate attempt script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected attempt script result: %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	tokens := float64(res[1]) / 1000
	return false, int(math.Max(1, float64(retryAfterSeconds(tokens, l.rate)))), nil
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
