// File: internal/infra/redis/redis_client.go
package redis

import (
	"context"
	"time"

	"github.com/reelforge/video-orchestrator/internal/config"

	"github.com/go-redis/redis/v8"
)

// Client wraps the go-redis client so the lock and rate-limiter helpers
// share one connection. The rate limiter uses only these wrappers;
// RedisLocker uses the underlying go-redis client and scripts directly.
type Client struct {
	cli        *redis.Client
	defaultTTL time.Duration
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{cli: c, defaultTTL: cfg.TTL}, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

// Set stores value under key, falling back to the configured redis.ttl
// when the caller doesn't need a key-specific expiration.
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = c.defaultTTL
	}
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.cli.Incr(ctx, key).Result()
}

func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.cli.Expire(ctx, key, expiration).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.cli.Del(ctx, keys...).Err()
}

func (c *Client) Close() error { return c.cli.Close() }
