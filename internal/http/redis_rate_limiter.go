package httpx

import (
	"context"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares fixed-window counters between API replicas.
type RedisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter constructs a Redis backed rate limiter.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (*RedisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "bugradar:ratelimit:",
		timeout: 250 * time.Millisecond,
	}, nil
}

// Allow fails open: a Redis outage never blocks ingestion.
func (rl *RedisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		rl.logRedisError("incr", err)
		return rateDecision{allowed: true}
	}
	counter := incr.Val()
	remaining := ttl.Val()
	if remaining <= 0 {
		// A fresh key, or one whose expiry was lost.
		if err := rl.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			rl.logRedisError("expire", err)
		}
		remaining = window
	}
	return rateDecision{
		allowed:   int(counter) <= limit,
		count:     int(counter),
		windowEnd: time.Now().Add(remaining),
	}
}

// Ping reports whether Redis is reachable.
func (rl *RedisRateLimiter) Ping(ctx context.Context) error {
	return rl.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (rl *RedisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *RedisRateLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}
