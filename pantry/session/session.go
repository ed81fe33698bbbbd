// session/session.go
package session

import (
	"fmt"
	"time"
)

// DefaultMaxInactiveInterval is the idle timeout given to new sessions when
// the repository is not configured otherwise.
const DefaultMaxInactiveInterval = 30 * time.Minute

// Session is the in-memory representation of one session: its identity,
// attributes, and timing metadata. It has no side effects on any store.
//
// A negative max-inactive-interval means the session never expires; zero
// means it expires immediately.
//
// Session is not safe for concurrent use. It is owned by a single request.
type Session struct {
	id               string
	creationTime     time.Time
	lastAccessedTime time.Time
	maxInactive      time.Duration
	attrs            map[string]any
}

// NewSession returns a session created and last accessed at now.
func NewSession(id string, now time.Time, maxInactive time.Duration) *Session {
	now = now.Truncate(time.Millisecond)
	s := &Session{
		id:               id,
		creationTime:     now,
		lastAccessedTime: now,
		attrs:            make(map[string]any),
	}
	s.SetMaxInactiveInterval(maxInactive)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ChangeID replaces the identifier in place with one produced by gen and
// returns it. The caller must tell the repository so the stored record can
// be renamed.
func (s *Session) ChangeID(gen func() (string, error)) (string, error) {
	id, err := gen()
	if err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	s.id = id
	return id, nil
}

// CreationTime returns when the session was created.
func (s *Session) CreationTime() time.Time {
	return s.creationTime
}

// LastAccessedTime returns the last time the session was accessed.
func (s *Session) LastAccessedTime() time.Time {
	return s.lastAccessedTime
}

// SetLastAccessedTime records an access. Stored timestamps have millisecond
// precision, so t is truncated to keep loaded and in-memory sessions equal.
func (s *Session) SetLastAccessedTime(t time.Time) {
	s.lastAccessedTime = t.Truncate(time.Millisecond)
}

// MaxInactiveInterval returns the idle timeout.
func (s *Session) MaxInactiveInterval() time.Duration {
	return s.maxInactive
}

// SetMaxInactiveInterval sets the idle timeout. Stored intervals have
// second precision; any negative d becomes -1s so it still means never.
func (s *Session) SetMaxInactiveInterval(d time.Duration) {
	if d < 0 {
		s.maxInactive = -time.Second
		return
	}
	s.maxInactive = d.Truncate(time.Second)
}

// ExpiresAt returns the logical expiry and false when the session never
// expires.
func (s *Session) ExpiresAt() (time.Time, bool) {
	return expiryOf(s.lastAccessedTime, s.maxInactive)
}

// IsExpired reports whether the session is past its idle timeout at now.
func (s *Session) IsExpired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && now.After(exp)
}

// Attribute returns the named attribute.
func (s *Session) Attribute(name string) (any, bool) {
	v, ok := s.attrs[name]
	return v, ok
}

// SetAttribute stores value under name. A nil value removes the attribute.
func (s *Session) SetAttribute(name string, value any) {
	if value == nil {
		delete(s.attrs, name)
		return
	}
	s.attrs[name] = value
}

// RemoveAttribute deletes the named attribute.
func (s *Session) RemoveAttribute(name string) {
	delete(s.attrs, name)
}

// AttributeNames returns the names of all attributes in no particular order.
func (s *Session) AttributeNames() []string {
	names := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		names = append(names, k)
	}
	return names
}

func expiryOf(lastAccessed time.Time, maxInactive time.Duration) (time.Time, bool) {
	if maxInactive < 0 {
		return time.Time{}, false
	}
	return lastAccessed.Add(maxInactive), true
}
