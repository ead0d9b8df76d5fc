// Package redis provides the engine's Redis-backed coordination primitives:
// the per-position locks that serialize mint, redeem, risk, and yield work
// across instances, the last-observed price cache, and the engine event
// stream.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key the engine writes, so a shared Redis
// instance can host other tenants without collisions.
const keyPrefix = "stablemint:"

// key joins parts under the engine keyspace, e.g. key("lock", positionID).
func key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

const (
	defaultPoolSize    = 20
	defaultDialTimeout = 5 * time.Second
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis Client shared by the lock manager, price cache,
// and event bus.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a ping. Lock
// acquisition sits on the hot path of every engine operation, so the dial
// timeout is kept short and a zero pool size falls back to a sane default.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: defaultDialTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for the primitives in this
// package that need direct driver access.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
