package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/attendance-dispatch/internal/config"
)

// Client holds the connection used by the idempotency store and the device
// throttle.
type Client struct {
	inner *redis.Client
}

// NewClient connects and verifies the server answers within the dial timeout.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis: address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	wait := cfg.DialTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Address, err)
	}

	return &Client{inner: client}, nil
}

// Inner exposes the raw client for Lua scripts.
func (c *Client) Inner() *redis.Client {
	return c.inner
}

// Ping backs the intake health check.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
