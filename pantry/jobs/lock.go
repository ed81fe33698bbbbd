package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock errors.
var (
	ErrLockNotAcquired = errors.New("jobs: lock not acquired")
	ErrLockNotHeld     = errors.New("jobs: lock not held")
)

// Locker provides mutual exclusion across scheduler instances.
type Locker interface {
	// Acquire tries to take key for ttl. It reports whether the lock was
	// taken; a lock held by another owner is not an error.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release gives key up if this owner holds it.
	Release(ctx context.Context, key string) (bool, error)

	// Extend pushes the expiry of a held lock out to ttl from now.
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLocker is a Locker on a single Redis key per lock (SET NX PX).
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ownerID string
}

// RedisLockerConfig configures a RedisLocker.
type RedisLockerConfig struct {
	// Client is the Redis client.
	Client redis.UniversalClient

	// Prefix is prepended to every lock key.
	// Default: "lock:"
	Prefix string

	// OwnerID identifies this instance.
	// Default: random UUID
	OwnerID string
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(cfg RedisLockerConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "lock:"
	}
	if cfg.OwnerID == "" {
		cfg.OwnerID = uuid.NewString()
	}
	return &RedisLocker{
		client:  cfg.Client,
		prefix:  cfg.Prefix,
		ownerID: cfg.OwnerID,
	}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("jobs: failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Release implements Locker. Only the owner's lock is deleted.
func (l *RedisLocker) Release(ctx context.Context, key string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, l.ownerID).Int64()
	if err != nil {
		return false, fmt.Errorf("jobs: failed to release lock: %w", err)
	}
	return n == 1, nil
}

// Extend implements Locker.
func (l *RedisLocker) Extend(ctx context.Context, key string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.prefix + key}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("jobs: failed to extend lock: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// OwnerID returns this locker's owner id.
func (l *RedisLocker) OwnerID() string {
	return l.ownerID
}

// MemoryLocker is a Locker for single-instance deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryLocker creates an in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Acquire implements Locker. A held, unexpired lock is never re-entered.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.locks[key]; ok && expires.After(now) {
		return false, nil
	}
	l.locks[key] = now.Add(ttl)
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.locks[key]; !ok {
		return false, nil
	}
	delete(l.locks, key)
	return true, nil
}

// Extend implements Locker.
func (l *MemoryLocker) Extend(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expires, ok := l.locks[key]
	if !ok || !expires.After(now) {
		return ErrLockNotHeld
	}
	l.locks[key] = now.Add(ttl)
	return nil
}
