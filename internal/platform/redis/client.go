// Package redis opens the shared go-redis client used for job locks and the
// screening cache.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"brokerguard/internal/platform/config"
)

const clientName = "brokerguard-engine"

type Client struct {
	*redis.Client
	prefix string
}

// New dials Redis and pings it once. It returns nil, nil when cfg.URL is
// empty so callers can fall back to the in-memory KV store.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.ClientName = clientName
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &Client{Client: client, prefix: cfg.KeyPrefix}, nil
}

// KeyPrefix namespaces every key this process writes.
func (c *Client) KeyPrefix() string {
	return c.prefix
}

// Health is the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
