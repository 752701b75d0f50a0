package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/models"
)

func testBundle(fp, version string) *models.EvidenceBundle {
	return &models.EvidenceBundle{
		ID:          "bundle-" + fp[:6],
		Intent:      models.IntentDescriptive,
		DataVersion: version,
		Fingerprint: fp,
		Hits: []models.SemanticHit{
			{EntityID: "revenue", Score: 0.9, Collection: models.CollectionAccounts},
		},
		Slices: []models.StructuredSlice{{
			Table:       models.TableActuals,
			Filter:      models.Filter{Years: []int{2024}},
			Rows:        []models.Row{{Year: 2024, Period: "Jan", Account: "revenue", Amount: 10}},
			RowCount:    1,
			DataVersion: version,
		}},
	}
}

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	return New(NewMemoryStore(16, time.Hour), time.Minute, logger.NewTestLogger(t), opts...)
}

func TestFingerprint_NormalizesCaseAndWhitespace(t *testing.T) {
	a := Fingerprint("Show me  financial trends\tfor FY24", models.IntentDescriptive, "v1")
	b := Fingerprint("  show me financial TRENDS for fy24 ", models.IntentDescriptive, "v1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, Fingerprint("show me financial trends for fy24", models.IntentDiagnostic, "v1"))
	assert.NotEqual(t, a, Fingerprint("show me financial trends for fy24", models.IntentDescriptive, "v2"))
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	c.Invalidate(ctx, "v1")

	fp := Fingerprint("q", models.IntentDescriptive, "v1")
	require.NoError(t, c.Put(ctx, &models.CacheEntry{Fingerprint: fp, Bundle: testBundle(fp, "v1"), DataVersion: "v1"}))

	entry, ok := c.Get(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, "revenue", entry.Bundle.Hits[0].EntityID)
	assert.False(t, entry.ExpiresAt.IsZero())

	// Mutating the returned copy must not leak into the store.
	entry.Bundle.Hits[0].EntityID = "mutated"
	again, ok := c.Get(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, "revenue", again.Bundle.Hits[0].EntityID)
}

func TestCache_VersionChangePurges(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	c.Invalidate(ctx, "v1")

	fp := Fingerprint("q", models.IntentDescriptive, "v1")
	require.NoError(t, c.Put(ctx, &models.CacheEntry{Fingerprint: fp, Bundle: testBundle(fp, "v1"), DataVersion: "v1"}))

	purged, changed := c.Invalidate(ctx, "v2")
	assert.True(t, changed)
	assert.Equal(t, 1, purged)

	_, ok := c.Get(ctx, fp)
	assert.False(t, ok, "an entry from an older data version must never be served")

	_, changed = c.Invalidate(ctx, "v2")
	assert.False(t, changed)
}

func TestCache_SupersededVersionDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	c.Invalidate(ctx, "v1")
	_, changed := c.Invalidate(ctx, "v2")
	require.True(t, changed)

	fp := Fingerprint("q", models.IntentDescriptive, "v2")
	require.NoError(t, c.Put(ctx, &models.CacheEntry{Fingerprint: fp, Bundle: testBundle(fp, "v2"), DataVersion: "v2"}))

	// a request that read the version before the change reports it late
	purged, changed := c.Invalidate(ctx, "v1")
	assert.False(t, changed)
	assert.Zero(t, purged)
	assert.Equal(t, "v2", c.Version())

	_, ok := c.Get(ctx, fp)
	assert.True(t, ok, "entries for the current version survive a late report")

	purged, changed = c.Invalidate(ctx, "v3")
	assert.True(t, changed)
	assert.Equal(t, 1, purged)
	assert.Equal(t, "v3", c.Version())
}

func TestCache_StaleEntryEvictedOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, time.Hour)
	c := New(store, time.Minute, logger.NewTestLogger(t))
	c.Invalidate(ctx, "v2")

	// Simulates an entry left behind by another replica on an older version.
	fp := "stale-fingerprint"
	require.NoError(t, store.Set(ctx, &models.CacheEntry{Fingerprint: fp, Bundle: testBundle("abcdef", "v1"), DataVersion: "v1"}, time.Minute))

	_, ok := c.Get(ctx, fp)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCache(t, WithClock(func() time.Time { return now }))
	c.Invalidate(ctx, "v1")

	fp := Fingerprint("q", models.IntentPredictive, "v1")
	require.NoError(t, c.Put(ctx, &models.CacheEntry{Fingerprint: fp, Bundle: testBundle(fp, "v1"), DataVersion: "v1"}))

	now = now.Add(59 * time.Second)
	_, ok := c.Get(ctx, fp)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get(ctx, fp)
	assert.False(t, ok)
}

func TestCache_PutRefusesOtherVersion(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	c.Invalidate(ctx, "v2")

	err := c.Put(ctx, &models.CacheEntry{Fingerprint: "fp", Bundle: testBundle("abcdef", "v1"), DataVersion: "v1"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCacheInconsistency, errors.CodeOf(err))

	_, ok := c.Get(ctx, "fp")
	assert.False(t, ok)
}

func TestCache_DoCollapsesConcurrentBuilds(t *testing.T) {
	c := newTestCache(t)
	var builds int32
	release := make(chan struct{})

	build := func(ctx context.Context) (*models.EvidenceBundle, error) {
		atomic.AddInt32(&builds, 1)
		<-release
		return testBundle("abcdef", "v1"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.EvidenceBundle, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _, err := c.Do(context.Background(), "same-fp", build)
			require.NoError(t, err)
			results[i] = b
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
	results[0].Hits[0].EntityID = "mutated"
	for _, b := range results[1:] {
		assert.Equal(t, "revenue", b.Hits[0].EntityID, "callers must not share a bundle")
	}
}

func TestCache_DoCallerCancellation(t *testing.T) {
	c := newTestCache(t)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Do(ctx, "fp", func(context.Context) (*models.EvidenceBundle, error) {
		<-release
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
