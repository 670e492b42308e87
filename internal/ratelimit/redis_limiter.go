package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucketScript implements an atomic token bucket.
//
// KEYS[1] = rate limit key
// ARGV[1] = current timestamp (seconds, fractional)
// ARGV[2] = refill rate (tokens per second)
// ARGV[3] = capacity (max tokens)
// ARGV[4] = cost (tokens to consume, default 1)
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local capacity = tonumber(ARGV[3])
	local cost = tonumber(ARGV[4]) or 1

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if tokens == nil then
		tokens = capacity
		last_refill = now
	end

	local elapsed = math.max(now - last_refill, 0)
	tokens = math.min(tokens + elapsed * rate, capacity)

	local allowed = tokens >= cost
	if allowed then
		tokens = tokens - cost
	end

	redis.call('HSET', key, 'tokens', tokens)
	redis.call('HSET', key, 'last_refill', now)
	redis.call('EXPIRE', key, math.ceil(capacity / rate * 2))

	local retry_after = 0
	if not allowed then
		retry_after = (cost - tokens) / rate
	end

	return {allowed and 1 or 0, math.floor(tokens), math.ceil(retry_after)}
`)

// RedisLimiter implements Limiter using a Redis token bucket, so attempts are
// counted across every instance of the service.
type RedisLimiter struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisLimiter creates a new Redis-based limiter
func NewRedisLimiter(client *redis.Client, config *Config, logger *zap.Logger) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisLimiter{
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Allow consumes one attempt from the bucket for key
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	now := rl.now()

	result, err := tokenBucketScript.Run(
		ctx,
		rl.client,
		[]string{rl.redisKey(key)},
		unixSeconds(now),
		rl.config.refillRate(),
		rl.config.MaxAttempts,
		1,
	).Result()
	if err != nil {
		if rl.config.FailOpen {
			rl.logger.Warn("Rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err),
			)
			return true, -1, now.Add(rl.config.Window), nil
		}
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Parse result: {allowed, remaining, retry_after_seconds}
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("invalid script result: %v", result)
	}
	allowed, ok1 := values[0].(int64)
	remaining, ok2 := values[1].(int64)
	retryAfter, ok3 := values[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return false, 0, time.Time{}, fmt.Errorf("invalid script result: %v", result)
	}

	resetTime := now.Add(time.Duration(retryAfter) * time.Second)
	if retryAfter == 0 {
		resetTime = now
	}

	return allowed == 1, int(remaining), resetTime, nil
}

// Reset clears the rate limit for a key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.redisKey(key)).Err()
}

// Close releases Redis client resources
func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}

func (rl *RedisLimiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", rl.config.KeyPrefix, key)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
