package session

import (
	"strconv"
	"strings"
	"time"
)

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

func parseSeconds(s string) (time.Duration, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(sec) * time.Second, nil
}

// storedTiming is the timing metadata of a record, decoded without touching
// attributes. It satisfies Expirable.
type storedTiming struct {
	id           string
	creationTime time.Time
	lastAccessed time.Time
	maxInactive  time.Duration
}

func (t storedTiming) ID() string                         { return t.id }
func (t storedTiming) LastAccessedTime() time.Time        { return t.lastAccessed }
func (t storedTiming) MaxInactiveInterval() time.Duration { return t.maxInactive }

func (t storedTiming) expired(now time.Time) bool {
	exp, ok := expiryOf(t.lastAccessed, t.maxInactive)
	return ok && now.After(exp)
}

// decodeTiming reads the three timing fields. A missing field parses as ""
// and is reported like a malformed one.
func decodeTiming(id string, fields map[string]string) (storedTiming, error) {
	t := storedTiming{id: id}
	var err error

	if t.creationTime, err = parseMillis(fields[fieldCreationTime]); err != nil {
		return t, &CorruptRecordError{ID: id, Field: fieldCreationTime, Err: err}
	}
	if t.lastAccessed, err = parseMillis(fields[fieldLastAccessedTime]); err != nil {
		return t, &CorruptRecordError{ID: id, Field: fieldLastAccessedTime, Err: err}
	}
	if t.maxInactive, err = parseSeconds(fields[fieldMaxInactive]); err != nil {
		return t, &CorruptRecordError{ID: id, Field: fieldMaxInactive, Err: err}
	}
	return t, nil
}

// decodeSession rebuilds a Session from a stored hash. Any field that cannot
// be decoded fails the whole record.
func decodeSession(id string, fields map[string]string, codec Codec) (*Session, error) {
	timing, err := decodeTiming(id, fields)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:               id,
		creationTime:     timing.creationTime,
		lastAccessedTime: timing.lastAccessed,
		maxInactive:      timing.maxInactive,
		attrs:            make(map[string]any),
	}

	for field, raw := range fields {
		name, ok := strings.CutPrefix(field, attrPrefix)
		if !ok {
			continue
		}
		v, err := codec.Unmarshal([]byte(raw))
		if err != nil {
			return nil, &CorruptRecordError{ID: id, Field: field, Err: err}
		}
		s.attrs[name] = v
	}
	return s, nil
}
