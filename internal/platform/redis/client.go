package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"idsync/internal/platform/config"
)

// Client wraps the go-redis client with health checking capabilities.
type Client struct {
	*redis.Client
}

// New creates a new Redis client from the provided configuration.
// Returns nil if the URL is empty (Redis not configured).
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	return &Client{Client: client}, nil
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return fmt.Errorf("redis not configured")
	}
	return c.Ping(ctx).Err()
}
