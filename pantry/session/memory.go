// session/memory.go
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errNoSuchKey = errors.New("session: no such key")
	errWrongType = errors.New("session: operation against a key holding the wrong kind of value")
)

// MemoryBackend implements Backend in process memory. Expired keys are
// evicted lazily when they are accessed, like Redis, and by a periodic
// cleanup goroutine.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	stopCh  chan struct{}
	cleanCh chan struct{}
	closed  sync.Once
}

type memoryEntry struct {
	hash      map[string]string
	set       map[string]struct{}
	str       *string
	expiresAt time.Time // zero means no TTL
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// CleanupInterval is how often to remove expired keys.
	// Default: 10 minutes. Negative disables the cleanup goroutine.
	CleanupInterval time.Duration

	// Now supplies the current time.
	// Default: time.Now.
	Now func() time.Time
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{
		CleanupInterval: 10 * time.Minute,
	})
}

// NewMemoryBackendWithConfig creates a memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	b := &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		now:     cfg.Now,
		stopCh:  make(chan struct{}),
		cleanCh: make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go b.cleanup(cfg.CleanupInterval)
	} else {
		close(b.cleanCh)
	}

	return b
}

// lookup returns the live entry for key, evicting it first if its TTL has
// passed. Callers hold b.mu.
func (b *MemoryBackend) lookup(key string) *memoryEntry {
	e, ok := b.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return nil
	}
	return e
}

// HGetAll implements Backend.
func (b *MemoryBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]string)
	e := b.lookup(key)
	if e == nil {
		return out, nil
	}
	if e.hash == nil {
		return nil, errWrongType
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

// HSet implements Backend.
func (b *MemoryBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(key)
	if e == nil {
		e = &memoryEntry{hash: make(map[string]string)}
		b.entries[key] = e
	}
	if e.hash == nil {
		return errWrongType
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

// HDel implements Backend.
func (b *MemoryBackend) HDel(ctx context.Context, key string, fields ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(key)
	if e == nil {
		return nil
	}
	if e.hash == nil {
		return errWrongType
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		delete(b.entries, key)
	}
	return nil
}

// Exists implements Backend.
func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookup(key) != nil, nil
}

// Rename implements Backend.
func (b *MemoryBackend) Rename(ctx context.Context, oldKey, newKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(oldKey)
	if e == nil {
		return errNoSuchKey
	}
	delete(b.entries, oldKey)
	b.entries[newKey] = e
	return nil
}

// Del implements Backend.
func (b *MemoryBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	for _, k := range keys {
		if b.lookup(k) != nil {
			delete(b.entries, k)
			n++
		}
	}
	return n, nil
}

// Expire implements Backend. A non-positive ttl deletes the key, as in Redis.
func (b *MemoryBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.ExpireAt(ctx, key, b.now().Add(ttl))
}

// ExpireAt implements Backend.
func (b *MemoryBackend) ExpireAt(ctx context.Context, key string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(key)
	if e == nil {
		return nil
	}
	if !at.After(b.now()) {
		delete(b.entries, key)
		return nil
	}
	e.expiresAt = at
	return nil
}

// Persist implements Backend.
func (b *MemoryBackend) Persist(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e := b.lookup(key); e != nil {
		e.expiresAt = time.Time{}
	}
	return nil
}

// SetWithTTL implements Backend.
func (b *MemoryBackend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := &memoryEntry{str: &value}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.entries[key] = e
	return nil
}

// SAdd implements Backend.
func (b *MemoryBackend) SAdd(ctx context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(key)
	if e == nil {
		e = &memoryEntry{set: make(map[string]struct{})}
		b.entries[key] = e
	}
	if e.set == nil {
		return errWrongType
	}
	e.set[member] = struct{}{}
	return nil
}

// SRem implements Backend.
func (b *MemoryBackend) SRem(ctx context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(key)
	if e == nil {
		return nil
	}
	if e.set == nil {
		return errWrongType
	}
	delete(e.set, member)
	if len(e.set) == 0 {
		delete(b.entries, key)
	}
	return nil
}

// DrainSet implements Backend.
func (b *MemoryBackend) DrainSet(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, err := b.members(key)
	if err != nil {
		return nil, err
	}
	delete(b.entries, key)
	return members, nil
}

func (b *MemoryBackend) members(key string) ([]string, error) {
	e := b.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if e.set == nil {
		return nil, errWrongType
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

// TTL returns the remaining time to live of key. hasTTL is false for keys
// without an expiry; exists is false for missing keys. TTL does not evict.
func (b *MemoryBackend) TTL(key string) (ttl time.Duration, hasTTL bool, exists bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return 0, false, false
	}
	if e.expiresAt.IsZero() {
		return 0, false, true
	}
	return e.expiresAt.Sub(b.now()), true, true
}

// Size returns the number of keys held, including expired keys not yet
// evicted.
func (b *MemoryBackend) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Close stops the cleanup goroutine.
func (b *MemoryBackend) Close() error {
	b.closed.Do(func() { close(b.stopCh) })
	<-b.cleanCh
	return nil
}

// cleanup periodically removes expired keys.
func (b *MemoryBackend) cleanup(interval time.Duration) {
	defer close(b.cleanCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.removeExpired()
		}
	}
}

// removeExpired removes all expired keys.
func (b *MemoryBackend) removeExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.entries {
		b.lookup(key)
	}
}
