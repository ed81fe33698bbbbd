// binding/handle.go
package binding

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/sessionkeep/pantry/session"
	"go.uber.org/zap"
)

// BindingEvent describes an attribute value being bound to or unbound from
// a session.
type BindingEvent struct {
	Handle *Handle
	Name   string
	Value  any
}

// Bindable values are told when they are stored in a session.
type Bindable interface {
	ValueBound(e BindingEvent) error
}

// Unbindable values are told when they are replaced or removed.
type Unbindable interface {
	ValueUnbound(e BindingEvent) error
}

// Handle is the request's view of its session. All components handling the
// request share the same Handle. After Invalidate, attribute access fails
// with ErrAlreadyInvalidated.
type Handle struct {
	b           *Binding
	t           *session.Tracked
	old         bool
	invalidated bool
}

func (h *Handle) checkState() error {
	if h.invalidated {
		return ErrAlreadyInvalidated
	}
	return nil
}

// ID returns the session id.
func (h *Handle) ID() string {
	return h.t.ID()
}

// IsNew reports whether the session was created during this request.
func (h *Handle) IsNew() bool {
	return !h.old
}

// Valid reports whether the handle has not been invalidated.
func (h *Handle) Valid() bool {
	return !h.invalidated
}

// Tracked returns the underlying tracked session.
func (h *Handle) Tracked() *session.Tracked {
	return h.t
}

// CreationTime returns when the session was created.
func (h *Handle) CreationTime() time.Time {
	return h.t.CreationTime()
}

// LastAccessedTime returns the last access time.
func (h *Handle) LastAccessedTime() time.Time {
	return h.t.LastAccessedTime()
}

// MaxInactiveInterval returns the idle timeout.
func (h *Handle) MaxInactiveInterval() time.Duration {
	return h.t.MaxInactiveInterval()
}

// SetMaxInactiveInterval changes the idle timeout.
func (h *Handle) SetMaxInactiveInterval(d time.Duration) {
	h.t.SetMaxInactiveInterval(d)
}

// Attribute returns the named attribute.
func (h *Handle) Attribute(name string) (any, bool, error) {
	if err := h.checkState(); err != nil {
		return nil, false, err
	}
	v, ok := h.t.Attribute(name)
	return v, ok, nil
}

// Attributes returns the session as session.Attributes for the typed
// getters, or an error after invalidation.
func (h *Handle) Attributes() (session.Attributes, error) {
	if err := h.checkState(); err != nil {
		return nil, err
	}
	return h.t, nil
}

// AttributeNames returns every attribute name.
func (h *Handle) AttributeNames() ([]string, error) {
	if err := h.checkState(); err != nil {
		return nil, err
	}
	return h.t.AttributeNames(), nil
}

// SetAttribute stores value under name; nil removes it. A replaced value
// implementing Unbindable is notified, as is a new value implementing
// Bindable. Notification failures are logged and never undo the change.
func (h *Handle) SetAttribute(name string, value any) error {
	if err := h.checkState(); err != nil {
		return err
	}

	old, _ := h.t.Session().Attribute(name)
	h.t.SetAttribute(name, value)

	if sameValue(old, value) {
		return nil
	}
	if u, ok := old.(Unbindable); ok {
		h.notify(name, "unbound", func() error {
			return u.ValueUnbound(BindingEvent{Handle: h, Name: name, Value: old})
		})
	}
	if bv, ok := value.(Bindable); ok {
		h.notify(name, "bound", func() error {
			return bv.ValueBound(BindingEvent{Handle: h, Name: name, Value: value})
		})
	}
	return nil
}

// RemoveAttribute deletes the named attribute, notifying an Unbindable
// value.
func (h *Handle) RemoveAttribute(name string) error {
	if err := h.checkState(); err != nil {
		return err
	}

	old, _ := h.t.Session().Attribute(name)
	h.t.RemoveAttribute(name)

	if u, ok := old.(Unbindable); ok {
		h.notify(name, "unbound", func() error {
			return u.ValueUnbound(BindingEvent{Handle: h, Name: name, Value: old})
		})
	}
	return nil
}

// Invalidate deletes the session and detaches it from the request. The
// client is told to drop its id at commit unless a new session is created.
func (h *Handle) Invalidate(ctx context.Context) error {
	if err := h.checkState(); err != nil {
		return err
	}
	h.invalidated = true
	return h.b.invalidate(ctx, h)
}

func (h *Handle) notify(name, kind string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			h.b.m.logger.Error("session binding listener panicked",
				zap.String("attribute", name),
				zap.String("event", kind),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	if err := fn(); err != nil {
		h.b.m.logger.Error("session binding listener failed",
			zap.String("attribute", name),
			zap.String("event", kind),
			zap.Error(err))
	}
}

// sameValue compares attribute values, treating values that cannot be
// compared as different.
func sameValue(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
