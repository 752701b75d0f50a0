// Package cache memoizes evidence bundles and answers by query fingerprint.
// Entries are only served while the data version they were built from is
// still current.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/common/metrics"
	"fin-analytics/internal/models"
)

const (
	DefaultTTL = 10 * time.Minute

	// maxRetiredVersions bounds the versions remembered as superseded.
	maxRetiredVersions = 16
)

type Cache struct {
	store  Store
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	version string
	retired []string

	group singleflight.Group
}

type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(store Store, ttl time.Duration, log logger.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		store:  store,
		ttl:    ttl,
		logger: log.With(map[string]interface{}{"component": "answer-cache"}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Normalize lower-cases text and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint is the hex SHA-256 of the normalized text, intent and data
// version, separated by NUL bytes.
func Fingerprint(text string, intent models.Intent, version string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(intent))
	h.Write([]byte{0})
	h.Write([]byte(version))
	return hex.EncodeToString(h.Sum(nil))
}

// Version is the last data version reported through Invalidate.
func (c *Cache) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Invalidate records version as current. When it differs from a previously
// known version every entry is purged. A version that was already superseded
// is ignored, so a slow caller reporting what it read earlier cannot roll the
// cache back. Returns the purge count and whether the version changed.
func (c *Cache) Invalidate(ctx context.Context, version string) (int, bool) {
	c.mu.Lock()
	previous := c.version
	if previous == version {
		c.mu.Unlock()
		return 0, false
	}
	for _, v := range c.retired {
		if v == version {
			c.mu.Unlock()
			c.logger.Debug("superseded data version ignored", map[string]interface{}{
				"currentVersion": previous,
				"staleVersion":   version,
			})
			return 0, false
		}
	}
	if previous != "" {
		c.retired = append(c.retired, previous)
		if len(c.retired) > maxRetiredVersions {
			c.retired = c.retired[1:]
		}
	}
	c.version = version
	c.mu.Unlock()

	if previous == "" {
		// First observation. Older entries are rejected lazily by version.
		return 0, true
	}

	purged, err := c.store.Purge(ctx)
	metrics.CacheInvalidations.Inc()
	fields := map[string]interface{}{
		"previousVersion": previous,
		"currentVersion":  version,
		"purged":          purged,
	}
	if err != nil {
		c.logger.WithError(err).Warn("cache purge incomplete", fields)
	} else {
		c.logger.Info("data version changed, cache purged", fields)
	}
	return purged, true
}

// Get returns a private copy of the entry stored under fingerprint. Entries
// built from another data version, or past their expiry, are deleted and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*models.CacheEntry, bool) {
	entry, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		c.logger.WithError(err).Warn("cache read failed", map[string]interface{}{"fingerprint": fingerprint})
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	if current := c.Version(); entry.DataVersion != current {
		inconsistency := errors.NewCacheInconsistencyError(fingerprint, entry.DataVersion, current)
		c.logger.Info("stale cache entry evicted", map[string]interface{}{
			"fingerprint": fingerprint,
			"errorCode":   string(inconsistency.Code),
			"details":     inconsistency.Details,
		})
		c.evict(ctx, fingerprint)
		metrics.CacheLookups.WithLabelValues("stale").Inc()
		return nil, false
	}

	if entry.Expired(c.now()) {
		c.evict(ctx, fingerprint)
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry, true
}

func (c *Cache) evict(ctx context.Context, fingerprint string) {
	if err := c.store.Delete(ctx, fingerprint); err != nil {
		c.logger.WithError(err).Warn("cache eviction failed", map[string]interface{}{"fingerprint": fingerprint})
	}
}

// Put stores a copy of entry. Entries whose data version is not the current
// one are refused, so a bundle assembled across a version change is never
// cached.
func (c *Cache) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Fingerprint == "" {
		return errors.NewInternalError(errInvalidEntry)
	}
	if current := c.Version(); entry.DataVersion != current {
		return errors.NewCacheInconsistencyError(entry.Fingerprint, entry.DataVersion, current)
	}

	stored := entry.Clone()
	now := c.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ExpiresAt = now.Add(c.ttl)

	if err := c.store.Set(ctx, stored, c.ttl); err != nil {
		c.logger.WithError(err).Warn("cache write failed", map[string]interface{}{"fingerprint": entry.Fingerprint})
		return errors.NewInternalError(err)
	}
	return nil
}

// Do collapses concurrent builds for the same fingerprint. Every caller gets
// its own copy of the bundle. A caller whose context ends stops waiting
// without cancelling the shared build.
func (c *Cache) Do(ctx context.Context, fingerprint string, build func(context.Context) (*models.EvidenceBundle, error)) (*models.EvidenceBundle, bool, error) {
	ch := c.group.DoChan(fingerprint, func() (interface{}, error) {
		return build(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*models.EvidenceBundle).Clone(), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Cache) Close() error {
	return c.store.Close()
}
