package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBoundary(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		want     time.Time
	}{
		{"mid minute", base.Add(30 * time.Second), time.Minute, base.Add(time.Minute)},
		{"on boundary", base, time.Minute, base.Add(time.Minute)},
		{"just before", base.Add(59*time.Second + 999*time.Millisecond), time.Minute, base.Add(time.Minute)},
		{"ten seconds", base.Add(12 * time.Second), 10 * time.Second, base.Add(20 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextBoundary(tt.now, tt.interval); !got.Equal(tt.want) {
				t.Errorf("nextBoundary = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler_Add_Validation(t *testing.T) {
	s := NewScheduler(nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(&ScheduledJob{Interval: time.Second, Handler: noop}))
	assert.Error(t, s.Add(&ScheduledJob{Name: "a", Handler: noop}))
	assert.Error(t, s.Add(&ScheduledJob{Name: "a", Interval: time.Second}))
	require.NoError(t, s.Every(time.Second, "a", noop))
	assert.Error(t, s.Every(time.Second, "a", noop))

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Error(t, s.RunNow("a"))
	require.NoError(t, s.Every(time.Second, "a", noop))
}

func TestScheduler_RunsAndStops(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add(&ScheduledJob{
		Name:           "tick",
		Interval:       10 * time.Millisecond,
		RunImmediately: true,
		Handler: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, s.IsRunning())

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after stop")
}

func TestScheduler_AlignedJob(t *testing.T) {
	s := NewScheduler(nil)
	fired := make(chan time.Time, 1)
	require.NoError(t, s.Add(&ScheduledJob{
		Name:     "aligned",
		Interval: 50 * time.Millisecond,
		Aligned:  true,
		Handler: func(ctx context.Context) error {
			select {
			case fired <- time.Now():
			default:
			}
			return nil
		},
	}))

	s.Start()
	defer s.Stop(context.Background())

	select {
	case at := <-fired:
		offset := at.Sub(at.Truncate(50 * time.Millisecond))
		assert.Less(t, offset, 40*time.Millisecond, "aligned run should start near a boundary")
	case <-time.After(2 * time.Second):
		t.Fatal("aligned job never ran")
	}
}

func TestScheduler_RunNowErrors(t *testing.T) {
	s := NewScheduler(nil)
	boom := errors.New("boom")
	require.NoError(t, s.Every(time.Hour, "fail", func(context.Context) error { return boom }))

	assert.ErrorIs(t, s.RunNow("fail"), boom)
	assert.Error(t, s.RunNow("missing"))
}

func TestScheduler_SkipsWhenLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	other := NewRedisLocker(RedisLockerConfig{Client: client})
	ok, err := other.Acquire(ctx, "scheduler:sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	var runs atomic.Int32
	s := NewScheduler(nil, WithLocker(NewRedisLocker(RedisLockerConfig{Client: client})))
	require.NoError(t, s.Every(time.Hour, "sweep", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	err = s.RunNow("sweep")
	assert.True(t, IsSkipped(err))
	assert.Equal(t, int32(0), runs.Load())

	_, err = other.Release(ctx, "scheduler:sweep")
	require.NoError(t, err)

	require.NoError(t, s.RunNow("sweep"))
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, mr.Exists("lock:scheduler:sweep"), "lock is released after the run")
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisLocker(RedisLockerConfig{Client: client, OwnerID: "a"})
	b := NewRedisLocker(RedisLockerConfig{Client: client, OwnerID: "b"})

	ok, err := a.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	owner, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "a", owner)

	ok, err = b.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := b.Release(ctx, "k")
	require.NoError(t, err)
	assert.False(t, released, "only the owner may release")
	assert.ErrorIs(t, b.Extend(ctx, "k", time.Hour), ErrLockNotHeld)

	require.NoError(t, a.Extend(ctx, "k", time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("lock:k"))

	released, err = a.Release(ctx, "k")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = b.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = a.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired locks can be taken")
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	ok, _ := l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
	ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "held lock is not re-entered")

	require.NoError(t, l.Extend(ctx, "k", 2*time.Minute))
	now = now.Add(90 * time.Second)
	ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "extended lock still held")

	now = now.Add(time.Minute)
	ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok, "expired lock can be taken")

	released, _ := l.Release(ctx, "k")
	assert.True(t, released)
	released, _ = l.Release(ctx, "k")
	assert.False(t, released)
	assert.ErrorIs(t, l.Extend(ctx, "k", time.Minute), ErrLockNotHeld)
}
