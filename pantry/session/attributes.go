package session

import (
	"fmt"
	"time"
)

// Attributes is the read side shared by Session and Tracked. The typed
// helpers below work on either.
type Attributes interface {
	Attribute(name string) (any, bool)
}

// GetString retrieves a string attribute.
func GetString(a Attributes, key string) string {
	val, ok := a.Attribute(key)
	if !ok {
		return ""
	}
	str, _ := val.(string)
	return str
}

// GetInt retrieves an int attribute. Values that went through the JSON
// codec come back as float64 and are converted.
func GetInt(a Attributes, key string) int {
	val, ok := a.Attribute(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// GetBool retrieves a bool attribute.
func GetBool(a Attributes, key string) bool {
	val, ok := a.Attribute(key)
	if !ok {
		return false
	}
	b, _ := val.(bool)
	return b
}

// GetTime retrieves a time attribute, accepting RFC 3339 strings.
func GetTime(a Attributes, key string) time.Time {
	val, ok := a.Attribute(key)
	if !ok {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	default:
		return time.Time{}
	}
}

// GetDuration retrieves a duration attribute. The JSON codec stores a
// time.Duration as its nanosecond count, which decodes as float64.
func GetDuration(a Attributes, key string) time.Duration {
	val, ok := a.Attribute(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case time.Duration:
		return v
	case float64:
		return time.Duration(v)
	case int64:
		return time.Duration(v)
	default:
		return 0
	}
}

// RequiredAttribute returns the named attribute or an error if it is absent.
func RequiredAttribute(a Attributes, key string) (any, error) {
	val, ok := a.Attribute(key)
	if !ok {
		return nil, fmt.Errorf("session: required attribute %q is missing", key)
	}
	return val, nil
}

// AttributeOrDefault returns the named attribute, or def when it is absent.
func AttributeOrDefault(a Attributes, key string, def any) any {
	if val, ok := a.Attribute(key); ok {
		return val
	}
	return def
}
