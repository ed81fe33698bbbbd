package session

import (
	"context"
	"time"
)

// Backend is the key-value store contract the repository and the
// expiration index need: hash records with field-level writes, per-key TTL,
// rename and delete, and unordered sets with their own TTL.
//
// Every operation on a single key or set is expected to be atomic in the
// store; the session code adds no locking of its own. Deleting or expiring
// a missing key is not an error.
type Backend interface {
	// HGetAll returns every field of a hash, or an empty map if the key
	// does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSet writes the given fields, leaving other fields untouched.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HDel removes fields from a hash.
	HDel(ctx context.Context, key string, fields ...string) error

	// Exists reports whether key exists. Reading a key whose TTL has
	// passed evicts it, which is how the sweep forces reclamation.
	Exists(ctx context.Context, key string) (bool, error)

	// Rename moves oldKey to newKey, keeping its TTL.
	Rename(ctx context.Context, oldKey, newKey string) error

	// Del removes keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a relative TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ExpireAt sets an absolute expiry.
	ExpireAt(ctx context.Context, key string, at time.Time) error

	// Persist clears any TTL on key.
	Persist(ctx context.Context, key string) error

	// SetWithTTL stores a string value that expires after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// SAdd adds member to the set at key.
	SAdd(ctx context.Context, key, member string) error

	// SRem removes member from the set at key.
	SRem(ctx context.Context, key, member string) error

	// DrainSet atomically reads every member of the set at key and deletes
	// the set.
	DrainSet(ctx context.Context, key string) ([]string, error)
}
