// session/expiration.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// BucketGrace is added to the idle timeout for the TTL of an expiration
// bucket and of the record itself, so the record outlives its logical expiry
// long enough for a sweep to reclaim it.
const BucketGrace = 5 * time.Minute

// Expirable is the timing view of a session the index needs.
type Expirable interface {
	ID() string
	LastAccessedTime() time.Time
	MaxInactiveInterval() time.Duration
}

// IndexConfig configures an ExpirationIndex.
type IndexConfig struct {
	// Clock supplies the current time. Default: time.Now.
	Clock func() time.Time

	// Logger. Default: no-op.
	Logger *zap.Logger

	// Listener receives an expired event for each record a sweep reclaims.
	Listener Listener

	// Metrics receives sweep results.
	Metrics Metrics

	// Concurrency bounds how many bucket members are reclaimed at once.
	// Default: 16.
	Concurrency int
}

// ExpirationIndex groups sessions into one-minute buckets by expiry so that
// a periodic sweep can reclaim them close to their logical expiry, whether
// or not the store's own TTL eviction has fired.
//
// A session is assigned to the bucket of its expiry rounded up to the next
// minute; a sweep drains the bucket of the current minute rounded down. A
// session is therefore never swept before its expiry minute has passed.
type ExpirationIndex struct {
	backend Backend
	keys    Keys
	cfg     IndexConfig
	flight  singleflight.Group
}

// SweepResult reports one sweep.
type SweepResult struct {
	// Bucket is the minute that was drained.
	Bucket time.Time

	// Markers is the number of members the bucket held.
	Markers int

	// Reclaimed is the number of expired records deleted.
	Reclaimed int
}

// NewExpirationIndex creates an index over backend using the key layout keys.
func NewExpirationIndex(backend Backend, keys Keys, cfg IndexConfig) *ExpirationIndex {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}

	return &ExpirationIndex{
		backend: backend,
		keys:    keys,
		cfg:     cfg,
	}
}

// OnExpiryChanged moves the session's marker to the bucket of its current
// expiry and refreshes the TTLs of the bucket, the shadow key and the
// record. prev is the expiry the marker was last filed under, nil if none.
//
// A negative interval leaves the record without a TTL and out of every
// bucket. A zero interval deletes the record.
func (x *ExpirationIndex) OnExpiryChanged(ctx context.Context, prev *time.Time, s Expirable) error {
	id := s.ID()
	interval := s.MaxInactiveInterval()
	marker := x.keys.Marker(id)
	recordKey := x.keys.Session(id)
	shadowKey := x.keys.Shadow(id)
	newBucket := roundUpToNextMinute(s.LastAccessedTime().Add(interval))

	if prev != nil {
		oldBucket := roundUpToNextMinute(*prev)
		if interval <= 0 || !oldBucket.Equal(newBucket) {
			if err := x.backend.SRem(ctx, x.keys.Bucket(oldBucket), marker); err != nil {
				return err
			}
		}
	}

	if interval < 0 {
		if err := x.backend.Persist(ctx, recordKey); err != nil {
			return err
		}
		_, err := x.backend.Del(ctx, shadowKey)
		return err
	}

	if interval == 0 {
		_, err := x.backend.Del(ctx, recordKey, shadowKey)
		return err
	}

	bucketKey := x.keys.Bucket(newBucket)
	if err := x.backend.SAdd(ctx, bucketKey, marker); err != nil {
		return err
	}
	if err := x.backend.Expire(ctx, bucketKey, interval+BucketGrace); err != nil {
		return err
	}
	if err := x.backend.SetWithTTL(ctx, shadowKey, "", interval); err != nil {
		return err
	}
	return x.backend.Expire(ctx, recordKey, interval+BucketGrace)
}

// OnDelete removes the session's marker from the bucket of its current
// expiry and drops its shadow key. The record itself is left to the caller.
func (x *ExpirationIndex) OnDelete(ctx context.Context, s Expirable) error {
	id := s.ID()
	if exp, ok := expiryOf(s.LastAccessedTime(), s.MaxInactiveInterval()); ok {
		bucket := x.keys.Bucket(roundUpToNextMinute(exp))
		if err := x.backend.SRem(ctx, bucket, x.keys.Marker(id)); err != nil {
			return err
		}
	}
	_, err := x.backend.Del(ctx, x.keys.Shadow(id))
	return err
}

// OnIDChanged drops the marker and shadow key filed under a session's old
// id. The next OnExpiryChanged files it under the new one.
func (x *ExpirationIndex) OnIDChanged(ctx context.Context, oldID string, prev *time.Time) error {
	if prev != nil {
		bucket := x.keys.Bucket(roundUpToNextMinute(*prev))
		if err := x.backend.SRem(ctx, bucket, x.keys.Marker(oldID)); err != nil {
			return err
		}
	}
	_, err := x.backend.Del(ctx, x.keys.Shadow(oldID))
	return err
}

// Sweep drains the bucket of the current minute and reclaims its members.
// Concurrent calls in one process share a single sweep. A bucket that cannot
// be drained is left for the next sweep; failures on individual members are
// joined into the returned error while the rest are still processed.
func (x *ExpirationIndex) Sweep(ctx context.Context) (SweepResult, error) {
	v, err, _ := x.flight.Do("sweep", func() (any, error) {
		res, err := x.sweep(ctx)
		x.cfg.Metrics.ObserveSweep(res, err)
		return res, err
	})
	res, _ := v.(SweepResult)
	return res, err
}

func (x *ExpirationIndex) sweep(ctx context.Context) (SweepResult, error) {
	minute := roundDownMinute(x.cfg.Clock())
	bucket := x.keys.Bucket(minute)
	res := SweepResult{Bucket: minute}

	members, err := x.backend.DrainSet(ctx, bucket)
	if err != nil {
		return res, fmt.Errorf("session: drain %s: %w", bucket, err)
	}
	res.Markers = len(members)
	if len(members) == 0 {
		return res, nil
	}

	var (
		reclaimed atomic.Int64
		mu        sync.Mutex
		errs      []error
		g         errgroup.Group
	)
	g.SetLimit(x.cfg.Concurrency)

	for _, marker := range members {
		g.Go(func() error {
			ok, err := x.reclaim(ctx, marker)
			if err != nil {
				x.cfg.Logger.Warn("sweep member failed",
					zap.String("marker", marker),
					zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if ok {
				reclaimed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Reclaimed = int(reclaimed.Load())
	x.cfg.Logger.Debug("expiration bucket swept",
		zap.Time("bucket", minute),
		zap.Int("markers", res.Markers),
		zap.Int("reclaimed", res.Reclaimed))

	return res, errors.Join(errs...)
}

// reclaim touches the member's shadow key so the store evicts it if its TTL
// has passed, then deletes the record if the session is logically expired.
func (x *ExpirationIndex) reclaim(ctx context.Context, marker string) (bool, error) {
	id, ok := IDFromMarker(marker)
	if !ok {
		x.cfg.Logger.Debug("skipping unrecognized bucket member", zap.String("marker", marker))
		return false, nil
	}

	if _, err := x.backend.Exists(ctx, x.keys.Shadow(id)); err != nil {
		return false, fmt.Errorf("session: touch %q: %w", id, err)
	}

	recordKey := x.keys.Session(id)
	fields, err := x.backend.HGetAll(ctx, recordKey)
	if err != nil {
		return false, fmt.Errorf("session: load %q: %w", id, err)
	}
	if len(fields) == 0 {
		return false, nil
	}

	timing, err := decodeTiming(id, fields)
	if err != nil {
		return false, err
	}
	now := x.cfg.Clock()
	if !timing.expired(now) {
		return false, nil
	}

	n, err := x.backend.Del(ctx, recordKey, x.keys.Shadow(id))
	if err != nil {
		return false, fmt.Errorf("session: delete %q: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}
	publish(ctx, x.cfg.Listener, x.cfg.Logger, EventExpired, id, now)
	return true, nil
}
