package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// EventType names a session lifecycle event.
type EventType string

const (
	// EventCreated fires after a new session is first persisted.
	EventCreated EventType = "created"

	// EventDeleted fires when a session record is removed by Delete.
	EventDeleted EventType = "deleted"

	// EventExpired fires when an expired record is reclaimed, either by
	// Find or by a sweep.
	EventExpired EventType = "expired"
)

// Event describes a session lifecycle change.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

// Listener receives session events. Errors are logged; they never fail the
// operation that produced the event.
type Listener interface {
	OnSessionEvent(ctx context.Context, e Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event) error

// OnSessionEvent implements Listener.
func (f ListenerFunc) OnSessionEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Listeners fans events out to every non-nil listener in order. All
// listeners see every event; their errors are joined.
func Listeners(ls ...Listener) Listener {
	var out multiListener
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type multiListener []Listener

func (m multiListener) OnSessionEvent(ctx context.Context, e Event) error {
	var errs []error
	for _, l := range m {
		if err := l.OnSessionEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Metrics receives store counters. The metrics package provides a
// Prometheus implementation.
type Metrics interface {
	ObserveSave()
	ObserveDelete()
	ObserveSweep(res SweepResult, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSave()                     {}
func (nopMetrics) ObserveDelete()                   {}
func (nopMetrics) ObserveSweep(SweepResult, error) {}

func publish(ctx context.Context, l Listener, logger *zap.Logger, typ EventType, id string, at time.Time) {
	if l == nil {
		return
	}
	e := Event{Type: typ, SessionID: id, At: at}
	if err := l.OnSessionEvent(ctx, e); err != nil {
		logger.Warn("session event listener failed",
			zap.String("event", string(typ)),
			zap.String("session_id", id),
			zap.Error(err))
	}
}
