// Package store persists activity records, the schedule index, and the
// widget token sets in Redis. The record is the sole source of truth; the
// schedule index is a reprojection for fast due-lookup.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client with the typed operations the scheduler and
// HTTP surface need. All operations are individually atomic against Redis;
// no multi-key transactions are required.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// ClientOptions configures the store client.
type ClientOptions struct {
	URL      string
	PoolSize int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewClient creates a store client from a Redis URL.
func NewClient(opts ClientOptions) (*Client, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
		redisOpts.MinIdleConns = opts.PoolSize / 5
	}
	if opts.Timeout > 0 {
		redisOpts.PoolTimeout = opts.Timeout
		redisOpts.ReadTimeout = opts.Timeout
		redisOpts.WriteTimeout = opts.Timeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		rdb:    redis.NewClient(redisOpts),
		logger: logger,
	}, nil
}

// Connect verifies connectivity.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	c.logger.Info("connected to Redis")
	return nil
}

// Ping checks Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
