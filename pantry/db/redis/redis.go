// db/redis/redis.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is re-exported so callers need not import go-redis directly.
type Client = redis.Client

// Config describes how to reach the session store.
type Config struct {
	// URL wins over the other connection fields when set.
	// Formats: redis://host:6379, redis://:password@host:6379/2, rediss://host:6379 (TLS).
	URL string

	Addr     string
	Password string
	DB       int

	// PoolSize is the connection pool size.
	// Default: go-redis default (10 per CPU).
	PoolSize int

	// ConnectTimeout bounds the startup ping.
	// Default: 10s.
	ConnectTimeout time.Duration
}

// Options turns cfg into go-redis options.
func (cfg Config) Options() (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		return opts, nil
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis: url or addr required")
	}
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}, nil
}

// Connect opens a client and pings it before returning.
// The caller is responsible for calling client.Close() when done.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// HealthCheck returns a check for the health package.
func HealthCheck(client redis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
