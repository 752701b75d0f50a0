package cache

import (
	"context"
	"time"

	"fin-analytics/internal/common/aws"
	"fin-analytics/internal/common/logger"
)

// VersionSource reports the current structured data version.
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

// VersionNotifier announces version changes to other consumers.
type VersionNotifier interface {
	PublishVersionChange(ctx context.Context, event aws.DataVersionChanged) (string, error)
}

// VersionWatcher polls the data version and invalidates the cache as soon
// as it moves, instead of waiting for the next query to notice.
type VersionWatcher struct {
	cache    *Cache
	source   VersionSource
	notifier VersionNotifier
	interval time.Duration
	logger   logger.Logger
}

// NewVersionWatcher builds a watcher. notifier may be nil.
func NewVersionWatcher(c *Cache, source VersionSource, notifier VersionNotifier, interval time.Duration, log logger.Logger) *VersionWatcher {
	return &VersionWatcher{
		cache:    c,
		source:   source,
		notifier: notifier,
		interval: interval,
		logger:   log.With(map[string]interface{}{"component": "version-watcher"}),
	}
}

// Check reads the version once and reports whether it changed.
func (w *VersionWatcher) Check(ctx context.Context) (bool, error) {
	version, err := w.source.Version(ctx)
	if err != nil {
		return false, err
	}

	previous := w.cache.Version()
	purged, changed := w.cache.Invalidate(ctx, version)
	if !changed || previous == "" || w.notifier == nil {
		return changed, nil
	}

	msgID, err := w.notifier.PublishVersionChange(ctx, aws.DataVersionChanged{
		Previous:  previous,
		Current:   version,
		Purged:    purged,
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		w.logger.WithError(err).Warn("version change notification failed", map[string]interface{}{
			"version": version,
		})
		return true, nil
	}
	w.logger.Info("version change published", map[string]interface{}{
		"version":   version,
		"messageId": msgID,
	})
	return true, nil
}

// Run polls until ctx is done.
func (w *VersionWatcher) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Warn("data version poll failed", nil)
			}
		}
	}
}
