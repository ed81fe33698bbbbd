package session

import (
	"strconv"
	"strings"
	"time"
)

// DefaultNamespace prefixes every key the store writes.
const DefaultNamespace = "sessionkeep:session"

const (
	expiresPrefix = "expires:"

	fieldCreationTime     = "creationTime"
	fieldMaxInactive      = "maxInactiveInterval"
	fieldLastAccessedTime = "lastAccessedTime"
	attrPrefix            = "sessionAttr:"
)

// Keys derives backing-store keys from a namespace:
//
//	<ns>:sessions:<id>          session record (hash)
//	<ns>:sessions:expires:<id>  shadow key carrying the logical TTL
//	<ns>:expirations:<millis>   expiration bucket (set of markers)
type Keys struct {
	namespace string
}

// NewKeys returns a key layout rooted at namespace. Surrounding whitespace
// and a trailing colon are ignored; an empty namespace uses DefaultNamespace.
func NewKeys(namespace string) Keys {
	ns := strings.TrimSuffix(strings.TrimSpace(namespace), ":")
	if ns == "" {
		ns = DefaultNamespace
	}
	return Keys{namespace: ns}
}

// Namespace returns the key namespace without a trailing colon.
func (k Keys) Namespace() string {
	return k.namespace
}

// Session returns the record key for id.
func (k Keys) Session(id string) string {
	return k.namespace + ":sessions:" + id
}

// Marker returns the bucket member identifying id.
func (k Keys) Marker(id string) string {
	return expiresPrefix + id
}

// Shadow returns the key whose native TTL equals the session's idle timeout.
func (k Keys) Shadow(id string) string {
	return k.Session(k.Marker(id))
}

// Bucket returns the expiration bucket key for a minute boundary.
func (k Keys) Bucket(minute time.Time) string {
	return k.namespace + ":expirations:" + strconv.FormatInt(minute.UnixMilli(), 10)
}

// IDFromMarker recovers the session id from a bucket member.
func IDFromMarker(marker string) (string, bool) {
	id, ok := strings.CutPrefix(marker, expiresPrefix)
	return id, ok && id != ""
}

func attrField(name string) string {
	return attrPrefix + name
}

// roundUpToNextMinute moves t to the start of the following minute. A time
// already on a minute boundary still advances by one minute.
func roundUpToNextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

func roundDownMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
