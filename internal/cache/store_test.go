package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/otpauth/internal/database/testutil"
)

func newDatabaseStore(t *testing.T, now *time.Time) *DatabaseStore {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	return NewDatabaseStore(db, WithDatabaseClock(func() time.Time { return *now }))
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newDatabaseStore(t, &now)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	now = now.Add(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 40*time.Second, ttl)

	now = now.Add(time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rl:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "window should reset after expiry")
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newDatabaseStore(t, &now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session:abc", []byte("payload"), time.Minute))
	value, ok, err := store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), value)

	require.NoError(t, store.Set(ctx, "session:abc", []byte("updated"), time.Minute))
	value, _, err = store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.Equal(t, []byte("updated"), value)

	require.NoError(t, store.Delete(ctx, "session:abc"))
	_, ok, err = store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newDatabaseStore(t, &now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))
	require.NoError(t, store.Set(ctx, "stale", []byte("z"), time.Second))

	now = now.Add(2 * time.Second)
	_, ok, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)

	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, ok, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNilStoresReportNotInitialised(t *testing.T) {
	var db *DatabaseStore
	_, _, err := db.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrStoreNotInitialised)

	var rs *RedisStore
	require.ErrorIs(t, rs.Delete(context.Background(), "k"), ErrStoreNotInitialised)
	require.Nil(t, NewDatabaseStore(nil))
}

func TestRedisKeyPrefixing(t *testing.T) {
	require.Equal(t, "otpauth:ratelimit:ip", prefixed("ratelimit::ip"))
	require.Equal(t, "otpauth:session:1", prefixed("otpauth:session:1"))
	require.Equal(t, "", normalizeKey(""))
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	require.ErrorContains(t, err, "address is required")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("OTPAUTH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OTPAUTH_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisConfig{Address: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { _ = store.Delete(ctx, key, key+":n") })

	require.NoError(t, store.Set(ctx, key, []byte("v"), time.Minute))
	value, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	count, ttl, err := store.IncrementWithTTL(ctx, key+":n", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))
}
