// session/repository.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SaveMode controls which attribute accesses are recorded in the delta.
type SaveMode int

const (
	// SaveOnSetAttribute records only SetAttribute and RemoveAttribute.
	SaveOnSetAttribute SaveMode = iota

	// SaveOnGetAttribute also records every attribute that is read.
	SaveOnGetAttribute

	// SaveAlways writes every attribute on every save.
	SaveAlways
)

// FlushMode controls when changes reach the store.
type FlushMode int

const (
	// FlushOnSave writes changes only when Save is called.
	FlushOnSave FlushMode = iota

	// FlushImmediate writes each change as it is made.
	FlushImmediate
)

// Config configures a Repository.
type Config struct {
	// DefaultMaxInactiveInterval is given to sessions made by Create.
	// Default: 30 minutes.
	DefaultMaxInactiveInterval time.Duration

	// Namespace prefixes every key. Default: DefaultNamespace.
	Namespace string

	// FlushMode. Default: FlushOnSave.
	FlushMode FlushMode

	// SaveMode. Default: SaveOnSetAttribute.
	SaveMode SaveMode

	// Codec encodes attribute values. Default: JSONCodec.
	Codec Codec

	// IDGenerator produces new session ids. Default: random UUIDs.
	IDGenerator func() (string, error)

	// Clock supplies the current time. Default: time.Now.
	Clock func() time.Time

	// Logger. Default: no-op.
	Logger *zap.Logger

	// Index, when set, maintains expiration buckets and owns record TTLs.
	Index *ExpirationIndex

	// Listener receives created, deleted and expired events.
	Listener Listener

	// Metrics receives save and delete counts.
	Metrics Metrics
}

// Repository persists Tracked sessions in a Backend.
type Repository struct {
	backend Backend
	keys    Keys
	cfg     Config
}

// NewRepository creates a repository over backend.
func NewRepository(backend Backend, cfg Config) *Repository {
	if cfg.DefaultMaxInactiveInterval == 0 {
		cfg.DefaultMaxInactiveInterval = DefaultMaxInactiveInterval
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = generateID
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}

	return &Repository{
		backend: backend,
		keys:    NewKeys(cfg.Namespace),
		cfg:     cfg,
	}
}

func generateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Keys returns the key layout used by the repository.
func (r *Repository) Keys() Keys {
	return r.keys
}

// Create makes a new, unsaved session with a generated id and the default
// idle timeout. Under FlushImmediate it is written at once.
func (r *Repository) Create(ctx context.Context) (*Tracked, error) {
	id, err := r.cfg.IDGenerator()
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}

	s := NewSession(id, r.cfg.Clock(), r.cfg.DefaultMaxInactiveInterval)
	t := newFreshTracked(ctx, r, s)
	t.flushIfImmediate()
	return t, nil
}

// Find loads the session stored under id. It returns (nil, nil) when there
// is no such session or when the stored session has expired; an expired
// record is deleted on the way out. A record that cannot be decoded yields a
// *CorruptRecordError and is left in place.
func (r *Repository) Find(ctx context.Context, id string) (*Tracked, error) {
	fields, err := r.backend.HGetAll(ctx, r.keys.Session(id))
	if err != nil {
		return nil, fmt.Errorf("session: load %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	s, err := decodeSession(id, fields, r.cfg.Codec)
	if err != nil {
		return nil, err
	}

	if s.IsExpired(r.cfg.Clock()) {
		if err := r.delete(ctx, id, EventExpired); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return newLoadedTracked(ctx, r, s), nil
}

// Save writes the pending changes of t. A session that was persisted before
// but no longer exists in the store fails with ErrInvalidatedSession.
func (r *Repository) Save(ctx context.Context, t *Tracked) error {
	if err := r.checkNotInvalidated(ctx, t); err != nil {
		return err
	}
	return r.persist(ctx, t)
}

// checkNotInvalidated fails with ErrInvalidatedSession when a session that
// was persisted before has since been removed from the store.
func (r *Repository) checkNotInvalidated(ctx context.Context, t *Tracked) error {
	if t.isNew {
		return nil
	}
	exists, err := r.backend.Exists(ctx, r.keys.Session(t.originalID))
	if err != nil {
		return fmt.Errorf("session: check %q: %w", t.originalID, err)
	}
	if !exists {
		return ErrInvalidatedSession
	}
	return nil
}

// persist renames the record if the id changed, writes the delta, and
// refreshes the expiry. The delta is kept when any step fails.
func (r *Repository) persist(ctx context.Context, t *Tracked) error {
	renamed := t.ID() != t.originalID && !t.isNew
	if err := r.saveChangedID(ctx, t); err != nil {
		return err
	}
	// A renamed record has to be filed under its new id even when nothing
	// else changed.
	if len(t.delta) == 0 && !(renamed && r.cfg.Index != nil) {
		return nil
	}

	id := t.ID()
	key := r.keys.Session(id)
	interval := t.MaxInactiveInterval()

	if interval != 0 {
		if err := r.writeDelta(ctx, key, t.delta); err != nil {
			return fmt.Errorf("session: write %q: %w", id, err)
		}
	}

	if err := r.refreshExpiry(ctx, t); err != nil {
		return fmt.Errorf("session: expire %q: %w", id, err)
	}

	wasNew := t.isNew
	clear(t.delta)
	t.isNew = false
	t.prevExpiry = nil
	if exp, ok := t.ExpiresAt(); ok && interval > 0 {
		t.prevExpiry = &exp
	}

	r.cfg.Metrics.ObserveSave()
	if wasNew {
		publish(ctx, r.cfg.Listener, r.cfg.Logger, EventCreated, id, r.cfg.Clock())
	}
	return nil
}

// saveChangedID moves the stored record to the current id. A session that
// was never persisted only updates its bookkeeping.
func (r *Repository) saveChangedID(ctx context.Context, t *Tracked) error {
	id := t.ID()
	if id == t.originalID {
		return nil
	}

	if !t.isNew {
		if err := r.backend.Rename(ctx, r.keys.Session(t.originalID), r.keys.Session(id)); err != nil {
			return fmt.Errorf("session: rename %q to %q: %w", t.originalID, id, err)
		}
		if r.cfg.Index != nil {
			if err := r.cfg.Index.OnIDChanged(ctx, t.originalID, t.prevExpiry); err != nil {
				return fmt.Errorf("session: reindex %q: %w", id, err)
			}
			t.prevExpiry = nil
		}
	}

	t.originalID = id
	return nil
}

func (r *Repository) writeDelta(ctx context.Context, key string, delta map[string]any) error {
	set := make(map[string]string, len(delta))
	var removed []string

	for field, v := range delta {
		switch val := v.(type) {
		case nil:
			removed = append(removed, field)
		default:
			if enc, ok := encodeTimingField(field, val); ok {
				set[field] = enc
				continue
			}
			data, err := r.cfg.Codec.Marshal(val)
			if err != nil {
				return fmt.Errorf("encode %s: %w", field, err)
			}
			set[field] = string(data)
		}
	}

	if err := r.backend.HSet(ctx, key, set); err != nil {
		return err
	}
	if len(removed) > 0 {
		if err := r.backend.HDel(ctx, key, removed...); err != nil {
			return err
		}
	}
	return nil
}

// encodeTimingField formats the record's own timing fields. Attribute
// fields always go through the codec, whatever their Go type.
func encodeTimingField(field string, v any) (string, bool) {
	switch field {
	case fieldCreationTime, fieldLastAccessedTime:
		if t, ok := v.(time.Time); ok {
			return formatMillis(t), true
		}
	case fieldMaxInactive:
		if d, ok := v.(time.Duration); ok {
			return formatSeconds(d), true
		}
	}
	return "", false
}

// refreshExpiry applies the session's timeout to the stored record. With an
// index the index owns the TTL; otherwise the record expires at its logical
// expiry, has no TTL when the interval is negative, and is removed when the
// interval is zero.
func (r *Repository) refreshExpiry(ctx context.Context, t *Tracked) error {
	if r.cfg.Index != nil {
		return r.cfg.Index.OnExpiryChanged(ctx, t.prevExpiry, t)
	}

	key := r.keys.Session(t.ID())
	interval := t.MaxInactiveInterval()
	switch {
	case interval < 0:
		return r.backend.Persist(ctx, key)
	case interval == 0:
		_, err := r.backend.Del(ctx, key)
		return err
	default:
		return r.backend.ExpireAt(ctx, key, t.LastAccessedTime().Add(interval))
	}
}

// Delete removes the session stored under id. Deleting a missing session is
// not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.delete(ctx, id, EventDeleted)
}

func (r *Repository) delete(ctx context.Context, id string, event EventType) error {
	key := r.keys.Session(id)

	if r.cfg.Index != nil {
		fields, err := r.backend.HGetAll(ctx, key)
		if err != nil {
			return fmt.Errorf("session: load %q: %w", id, err)
		}
		if len(fields) > 0 {
			timing, err := decodeTiming(id, fields)
			switch {
			case err == nil:
				if err := r.cfg.Index.OnDelete(ctx, timing); err != nil {
					return fmt.Errorf("session: unindex %q: %w", id, err)
				}
			case errors.Is(err, ErrCorruptRecord):
				// The marker is left to the sweep, which skips missing records.
				r.cfg.Logger.Warn("deleting session with unreadable timing",
					zap.String("session_id", id),
					zap.Error(err))
			}
		}
	}

	n, err := r.backend.Del(ctx, key, r.keys.Shadow(id))
	if err != nil {
		return fmt.Errorf("session: delete %q: %w", id, err)
	}
	if n > 0 {
		r.cfg.Metrics.ObserveDelete()
		publish(ctx, r.cfg.Listener, r.cfg.Logger, event, id, r.cfg.Clock())
	}
	return nil
}
