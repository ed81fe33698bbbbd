package session

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBackendWithConfig(RedisBackendConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestRedisBackend_Hashes(t *testing.T) {
	ctx := context.Background()
	b, mr := newMiniredisBackend(t)

	fields, err := b.HGetAll(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, fields)

	require.NoError(t, b.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, b.HDel(ctx, "h", "a"))
	assert.Equal(t, "2", mr.HGet("h", "b"))
	assert.Equal(t, "", mr.HGet("h", "a"))

	require.NoError(t, b.Expire(ctx, "h", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("h"))

	require.NoError(t, b.Rename(ctx, "h", "h2"))
	assert.Equal(t, time.Minute, mr.TTL("h2"))

	require.NoError(t, b.Persist(ctx, "h2"))
	assert.Equal(t, time.Duration(0), mr.TTL("h2"))

	n, err := b.Del(ctx, "h2", "nothing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisBackend_ExpiryEviction(t *testing.T) {
	ctx := context.Background()
	b, mr := newMiniredisBackend(t)

	require.NoError(t, b.SetWithTTL(ctx, "shadow", "", 30*time.Second))
	ok, err := b.Exists(ctx, "shadow")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(31 * time.Second)
	ok, err = b.Exists(ctx, "shadow")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackend_DrainSet(t *testing.T) {
	ctx := context.Background()
	b, mr := newMiniredisBackend(t)

	require.NoError(t, b.SAdd(ctx, "bucket", "expires:a"))
	require.NoError(t, b.SAdd(ctx, "bucket", "expires:b"))
	require.NoError(t, b.SRem(ctx, "bucket", "expires:b"))
	require.NoError(t, b.SAdd(ctx, "bucket", "expires:c"))

	members, err := b.DrainSet(ctx, "bucket")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"expires:a", "expires:c"}, members)
	assert.False(t, mr.Exists("bucket"))

	members, err = b.DrainSet(ctx, "bucket")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisBackend_RepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	b, mr := newMiniredisBackend(t)

	keys := NewKeys("test:session")
	index := NewExpirationIndex(b, keys, IndexConfig{})
	repo := NewRepository(b, Config{Namespace: "test:session", Index: index})

	tr, err := repo.Create(ctx)
	require.NoError(t, err)
	tr.SetAttribute("user", "dave")
	tr.SetAttribute("visits", 2.0)
	require.NoError(t, repo.Save(ctx, tr))

	recordKey := keys.Session(tr.ID())
	assert.True(t, mr.Exists(recordKey))
	assert.Equal(t, DefaultMaxInactiveInterval+BucketGrace, mr.TTL(recordKey))
	assert.Equal(t, DefaultMaxInactiveInterval, mr.TTL(keys.Shadow(tr.ID())))

	exp, _ := tr.ExpiresAt()
	bucketMembers, err := mr.SMembers(keys.Bucket(roundUpToNextMinute(exp)))
	require.NoError(t, err)
	assert.Equal(t, []string{keys.Marker(tr.ID())}, bucketMembers)

	loaded, err := repo.Find(ctx, tr.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "dave", GetString(loaded, "user"))
	assert.Equal(t, 2, GetInt(loaded, "visits"))

	oldID := loaded.ID()
	newID, err := loaded.ChangeID()
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, loaded))
	assert.False(t, mr.Exists(keys.Session(oldID)))
	assert.True(t, mr.Exists(keys.Session(newID)))

	require.NoError(t, repo.Delete(ctx, newID))
	assert.False(t, mr.Exists(keys.Session(newID)))
	assert.False(t, mr.Exists(keys.Shadow(newID)))

	stale, err := repo.Find(ctx, newID)
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestNewRedisBackendWithConfig_Errors(t *testing.T) {
	_, err := NewRedisBackendWithConfig(RedisBackendConfig{})
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	_, err = NewRedisBackendWithConfig(RedisBackendConfig{Client: client})
	assert.Error(t, err)
}
