package cache

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/models"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test-cache:"), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	entry := &models.CacheEntry{Fingerprint: "abc123", Bundle: testBundle("abc123", "v1"), DataVersion: "v1"}
	require.NoError(t, store.Set(ctx, entry, time.Minute))
	assert.True(t, mr.Exists("test-cache:abc123"))
	assert.Equal(t, time.Minute, mr.TTL("test-cache:abc123"))

	got, ok, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Bundle.Slices[0].Rows, got.Bundle.Slices[0].Rows)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_PurgeOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	for _, fp := range []string{"aaaaaa", "bbbbbb", "cccccc"} {
		require.NoError(t, store.Set(ctx, &models.CacheEntry{Fingerprint: fp, Bundle: testBundle(fp, "v1"), DataVersion: "v1"}, time.Minute))
	}
	require.NoError(t, mr.Set("unrelated", "keep"))

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, mr.Exists("unrelated"))
	assert.False(t, mr.Exists("test-cache:aaaaaa"))
}

func TestRedisStore_CorruptValueDropped(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)
	require.NoError(t, mr.Set("test-cache:bad", "{not json"))

	_, ok, err := store.Get(ctx, "bad")
	require.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test-cache:bad"))
}

func TestRedisStore_WithCache(t *testing.T) {
	ctx := context.Background()
	store, _ := setupRedisStore(t)
	c := New(store, time.Minute, logger.NewTestLogger(t))
	c.Invalidate(ctx, "v1")

	fp := Fingerprint("why did margin drop", models.IntentDiagnostic, "v1")
	require.NoError(t, c.Put(ctx, &models.CacheEntry{Fingerprint: fp, Bundle: testBundle(fp, "v1"), DataVersion: "v1"}))

	_, ok := c.Get(ctx, fp)
	assert.True(t, ok)

	c.Invalidate(ctx, "v2")
	_, ok = c.Get(ctx, fp)
	assert.False(t, ok)
}

func TestRedisStore_GetErrorIsAMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet("answer-cache:fp").SetErr(stderrors.New("connection refused"))

	c := New(NewRedisStore(client, ""), time.Minute, logger.NewTestLogger(t))
	_, ok := c.Get(context.Background(), "fp")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_PurgeScanError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectScan(0, "answer-cache:*", scanBatch).SetErr(stderrors.New("loading"))

	_, err := NewRedisStore(client, "").Purge(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis scan")
	assert.NoError(t, mock.ExpectationsWereMet())
}
