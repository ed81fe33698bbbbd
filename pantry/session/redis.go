// session/redis.go
package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on Redis hashes and sets.
type RedisBackend struct {
	client redis.UniversalClient
}

// RedisBackendConfig configures the Redis backend.
type RedisBackendConfig struct {
	// Client is an existing Redis client.
	// If provided, other connection options are ignored.
	Client redis.UniversalClient

	// Address is the Redis server address.
	Address string

	// Password for Redis authentication.
	Password string

	// DB is the database number.
	DB int

	// PoolSize is the connection pool size.
	// Default: 10.
	PoolSize int
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// NewRedisBackendWithConfig creates a Redis backend with custom configuration.
func NewRedisBackendWithConfig(cfg RedisBackendConfig) (*RedisBackend, error) {
	var client redis.UniversalClient

	if cfg.Client != nil {
		client = cfg.Client
	} else {
		if cfg.Address == "" {
			return nil, errors.New("session: redis address required")
		}

		poolSize := cfg.PoolSize
		if poolSize == 0 {
			poolSize = 10
		}

		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: poolSize,
		})
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisBackend{client: client}, nil
}

// HGetAll implements Backend.
func (b *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return b.client.HGetAll(ctx, key).Result()
}

// HSet implements Backend.
func (b *RedisBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return b.client.HSet(ctx, key, args...).Err()
}

// HDel implements Backend.
func (b *RedisBackend) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.client.HDel(ctx, key, fields...).Err()
}

// Exists implements Backend.
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Rename implements Backend.
func (b *RedisBackend) Rename(ctx context.Context, oldKey, newKey string) error {
	return b.client.Rename(ctx, oldKey, newKey).Err()
}

// Del implements Backend.
func (b *RedisBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return b.client.Del(ctx, keys...).Result()
}

// Expire implements Backend.
func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

// ExpireAt implements Backend.
func (b *RedisBackend) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return b.client.PExpireAt(ctx, key, at).Err()
}

// Persist implements Backend.
func (b *RedisBackend) Persist(ctx context.Context, key string) error {
	return b.client.Persist(ctx, key).Err()
}

// SetWithTTL implements Backend.
func (b *RedisBackend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// SAdd implements Backend.
func (b *RedisBackend) SAdd(ctx context.Context, key, member string) error {
	return b.client.SAdd(ctx, key, member).Err()
}

// SRem implements Backend.
func (b *RedisBackend) SRem(ctx context.Context, key, member string) error {
	return b.client.SRem(ctx, key, member).Err()
}

// DrainSet implements Backend with MULTI/EXEC so no member added between
// the read and the delete is lost.
func (b *RedisBackend) DrainSet(ctx context.Context, key string) ([]string, error) {
	var members *redis.StringSliceCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members.Val(), nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Client returns the underlying Redis client.
func (b *RedisBackend) Client() redis.UniversalClient {
	return b.client
}
