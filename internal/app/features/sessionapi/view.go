package sessionapi

import (
	"sort"
	"time"

	"github.com/dalemusser/sessionkeep/pantry/session"
)

// View is the JSON form of a session.
type View struct {
	ID                 string         `json:"id"`
	New                bool           `json:"new"`
	CreationTime       time.Time      `json:"creation_time"`
	LastAccessedTime   time.Time      `json:"last_accessed_time"`
	MaxInactiveSeconds int64          `json:"max_inactive_seconds"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
	Attributes         map[string]any `json:"attributes"`
}

// ViewOf renders t. A negative MaxInactiveSeconds means the session never
// expires.
func ViewOf(t *session.Tracked) View {
	v := View{
		ID:                 t.ID(),
		New:                t.IsNew(),
		CreationTime:       t.CreationTime(),
		LastAccessedTime:   t.LastAccessedTime(),
		MaxInactiveSeconds: maxInactiveSeconds(t.MaxInactiveInterval()),
		Attributes:         make(map[string]any),
	}
	if exp, ok := t.ExpiresAt(); ok {
		v.ExpiresAt = &exp
	}

	names := t.AttributeNames()
	sort.Strings(names)
	for _, name := range names {
		if val, ok := t.Attribute(name); ok {
			v.Attributes[name] = val
		}
	}
	return v
}

func maxInactiveSeconds(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return int64(d / time.Second)
}
