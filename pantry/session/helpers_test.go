package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordedEvents) OnSessionEvent(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	repo   *Repository
	index  *ExpirationIndex
	mem    *MemoryBackend
	clock  *fakeClock
	events *recordedEvents
}

// newFixture builds a repository over a memory backend driven by a fake
// clock. With indexed set, an ExpirationIndex owns TTLs.
func newFixture(t *testing.T, indexed bool, mods ...func(*Config)) *fixture {
	t.Helper()

	clock := newFakeClock(testStart)
	mem := NewMemoryBackendWithConfig(MemoryBackendConfig{
		CleanupInterval: -1,
		Now:             clock.Now,
	})
	t.Cleanup(func() { mem.Close() })

	events := &recordedEvents{}
	f := &fixture{mem: mem, clock: clock, events: events}

	cfg := Config{
		Clock:    clock.Now,
		Listener: events,
	}
	if indexed {
		f.index = NewExpirationIndex(mem, NewKeys(""), IndexConfig{
			Clock:    clock.Now,
			Listener: events,
		})
		cfg.Index = f.index
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	f.repo = NewRepository(mem, cfg)
	return f
}

// markers returns every bucket member grouped by bucket key.
func (f *fixture) markers() map[string][]string {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()

	prefix := f.repo.Keys().Namespace() + ":expirations:"
	out := make(map[string][]string)
	for key, e := range f.mem.entries {
		if !strings.HasPrefix(key, prefix) || e.set == nil {
			continue
		}
		for m := range e.set {
			out[key] = append(out[key], m)
		}
	}
	return out
}

func (f *fixture) markerCount(marker string) int {
	n := 0
	for _, members := range f.markers() {
		for _, m := range members {
			if m == marker {
				n++
			}
		}
	}
	return n
}

func (f *fixture) keySet() map[string]bool {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	out := make(map[string]bool, len(f.mem.entries))
	for k := range f.mem.entries {
		out[k] = true
	}
	return out
}

func (f *fixture) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := f.mem.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("exists %s: %v", key, err)
	}
	return ok
}

// faultyBackend fails selected operations.
type faultyBackend struct {
	Backend
	drainErr  error
	hsetErr   error
	renameErr error
}

var errInjected = errors.New("injected failure")

func (b *faultyBackend) DrainSet(ctx context.Context, key string) ([]string, error) {
	if b.drainErr != nil {
		return nil, b.drainErr
	}
	return b.Backend.DrainSet(ctx, key)
}

func (b *faultyBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	if b.hsetErr != nil {
		return b.hsetErr
	}
	return b.Backend.HSet(ctx, key, fields)
}

func (b *faultyBackend) Rename(ctx context.Context, oldKey, newKey string) error {
	if b.renameErr != nil {
		return b.renameErr
	}
	return b.Backend.Rename(ctx, oldKey, newKey)
}
