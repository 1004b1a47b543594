package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/platform/retry"
)

var connectPolicy = retry.Policy{
	MaxAttempts:      5,
	InitialBackoff:   500 * time.Millisecond,
	RateLimitBackoff: 2 * time.Second,
}

// Client wraps a go-redis client guarded by a circuit breaker hook.
type Client struct {
	rdb     *redis.Client
	breaker *CircuitBreakerHook
}

// NewClient creates a client from a URL (e.g., "redis://localhost:6379") and
// waits until the server answers a PING.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	breaker := NewCircuitBreakerHook(m)
	rdb.AddHook(breaker)

	c := &Client{rdb: rdb, breaker: breaker}

	p := connectPolicy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Redis ping failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}
	alwaysRetry := func(error) retry.Action { return retry.Retry }
	if err := retry.DoVoid(ctx, p, alwaysRetry, func() error { return c.Ping(ctx) }); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr)
	return c, nil
}

// Ping verifies the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
