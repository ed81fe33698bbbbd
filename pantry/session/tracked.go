package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Tracked is a Session bound to a Repository. Every mutation is recorded in
// a delta keyed by stored field name, and Save writes only that delta.
// A nil attribute value in the delta means the field is deleted.
//
// Tracked values come from Repository.Create or Repository.Find. Like
// Session, a Tracked is owned by one request and is not safe for concurrent
// use.
type Tracked struct {
	repo   *Repository
	cached *Session
	delta  map[string]any

	isNew      bool
	originalID string

	// prevExpiry is the expiry last handed to the expiration index, nil when
	// the session has no bucket membership.
	prevExpiry *time.Time

	// ctx is the context of the Create or Find call, used for immediate
	// flushes triggered by mutations.
	ctx context.Context

	// invalidated is set once an immediate flush finds the stored record
	// gone. Later mutations stay in the delta for Save to reject.
	invalidated bool
}

// newFreshTracked wraps a session that has never been persisted. Every
// field is pending so the first save writes the full record.
func newFreshTracked(ctx context.Context, repo *Repository, s *Session) *Tracked {
	t := &Tracked{
		repo:       repo,
		cached:     s,
		delta:      make(map[string]any),
		isNew:      true,
		originalID: s.ID(),
		ctx:        ctx,
	}
	t.delta[fieldCreationTime] = s.CreationTime()
	t.delta[fieldMaxInactive] = s.MaxInactiveInterval()
	t.delta[fieldLastAccessedTime] = s.LastAccessedTime()
	for name, v := range s.attrs {
		t.delta[attrField(name)] = v
	}
	return t
}

// newLoadedTracked wraps a session read from the store. Its delta starts
// empty, or holds every attribute under SaveAlways.
func newLoadedTracked(ctx context.Context, repo *Repository, s *Session) *Tracked {
	t := &Tracked{
		repo:       repo,
		cached:     s,
		delta:      make(map[string]any),
		originalID: s.ID(),
		ctx:        ctx,
	}
	if exp, ok := s.ExpiresAt(); ok {
		t.prevExpiry = &exp
	}
	if repo.cfg.SaveMode == SaveAlways {
		for name, v := range s.attrs {
			t.delta[attrField(name)] = v
		}
	}
	return t
}

// ID returns the current session id.
func (t *Tracked) ID() string {
	return t.cached.ID()
}

// PersistedID returns the id the stored record lives under. It differs from
// ID after ChangeID until the next successful save.
func (t *Tracked) PersistedID() string {
	return t.originalID
}

// IsNew reports whether the session has not been persisted yet.
func (t *Tracked) IsNew() bool {
	return t.isNew
}

// Session returns the underlying entity. Mutating it directly bypasses the
// delta.
func (t *Tracked) Session() *Session {
	return t.cached
}

// CreationTime returns when the session was created.
func (t *Tracked) CreationTime() time.Time {
	return t.cached.CreationTime()
}

// LastAccessedTime returns the last access time.
func (t *Tracked) LastAccessedTime() time.Time {
	return t.cached.LastAccessedTime()
}

// SetLastAccessedTime records an access.
func (t *Tracked) SetLastAccessedTime(at time.Time) {
	t.cached.SetLastAccessedTime(at)
	t.delta[fieldLastAccessedTime] = t.cached.LastAccessedTime()
	t.flushIfImmediate()
}

// MaxInactiveInterval returns the idle timeout.
func (t *Tracked) MaxInactiveInterval() time.Duration {
	return t.cached.MaxInactiveInterval()
}

// SetMaxInactiveInterval changes the idle timeout.
func (t *Tracked) SetMaxInactiveInterval(d time.Duration) {
	t.cached.SetMaxInactiveInterval(d)
	t.delta[fieldMaxInactive] = t.cached.MaxInactiveInterval()
	t.flushIfImmediate()
}

// ExpiresAt returns the logical expiry and false when the session never
// expires.
func (t *Tracked) ExpiresAt() (time.Time, bool) {
	return t.cached.ExpiresAt()
}

// IsExpired reports whether the session is past its idle timeout at now.
func (t *Tracked) IsExpired(now time.Time) bool {
	return t.cached.IsExpired(now)
}

// Attribute returns the named attribute. Under SaveOnGetAttribute a present
// value is also recorded in the delta.
func (t *Tracked) Attribute(name string) (any, bool) {
	v, ok := t.cached.Attribute(name)
	if ok && t.repo.cfg.SaveMode == SaveOnGetAttribute {
		t.delta[attrField(name)] = v
	}
	return v, ok
}

// SetAttribute stores value under name. A nil value removes the attribute.
func (t *Tracked) SetAttribute(name string, value any) {
	t.cached.SetAttribute(name, value)
	t.delta[attrField(name)] = value
	t.flushIfImmediate()
}

// RemoveAttribute deletes the named attribute.
func (t *Tracked) RemoveAttribute(name string) {
	t.SetAttribute(name, nil)
}

// AttributeNames returns the names of all attributes.
func (t *Tracked) AttributeNames() []string {
	return t.cached.AttributeNames()
}

// ChangeID gives the session a freshly generated id. The stored record is
// renamed on the next save.
func (t *Tracked) ChangeID() (string, error) {
	id, err := t.cached.ChangeID(t.repo.cfg.IDGenerator)
	if err != nil {
		return "", err
	}
	t.flushIfImmediate()
	return id, nil
}

// Dirty reports whether there are changes that Save would write.
func (t *Tracked) Dirty() bool {
	return len(t.delta) > 0 || t.cached.ID() != t.originalID
}

func (t *Tracked) flushIfImmediate() {
	if t.repo.cfg.FlushMode != FlushImmediate || t.invalidated {
		return
	}
	err := t.repo.checkNotInvalidated(t.ctx, t)
	if err == nil {
		err = t.repo.persist(t.ctx, t)
	}
	if errors.Is(err, ErrInvalidatedSession) {
		t.invalidated = true
	}
	if err != nil {
		t.repo.cfg.Logger.Warn("immediate session flush failed",
			zap.String("session_id", t.ID()),
			zap.Error(err))
	}
}
