package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidatedSession is returned by Save when a previously persisted
	// session no longer exists in the store, typically because another
	// request invalidated it. It is not retried.
	ErrInvalidatedSession = errors.New("session: session was invalidated")

	// ErrCorruptRecord matches any *CorruptRecordError.
	ErrCorruptRecord = errors.New("session: corrupt record")
)

// CorruptRecordError reports a stored record that cannot be decoded. The
// record is left in place for an operator to inspect.
type CorruptRecordError struct {
	ID    string
	Field string
	Err   error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("session: corrupt record %q field %q: %v", e.ID, e.Field, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCorruptRecord) true for every CorruptRecordError.
func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}
