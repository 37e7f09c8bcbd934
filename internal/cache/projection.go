// Package cache holds the derived, disposable views of flag data: the
// per-subject projection cache and the Redis channel that tells other
// instances a flag changed.
package cache

import (
	"context"
	"slices"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/featuregate/internal/observability"
)

// ProjectionKey identifies one subject's available-flags list for one snapshot.
// Entries keyed by an older snapshot version are never read again and age out.
type ProjectionKey struct {
	Version   uint64
	SubjectID string
	Role      string
}

// ProjectionCache keeps the sorted list of flag names visible to a subject,
// using the contention-free S3-FIFO algorithm provided by 'otter'.
type ProjectionCache struct {
	store otter.Cache[ProjectionKey, []string]
}

// NewProjectionCache initializes the cache with strict limits.
// capacity: max number of subject lists (hard cap to prevent OOM).
// ttl: safety net so an entry never outlives a missed clear.
func NewProjectionCache(capacity int, ttl time.Duration) (*ProjectionCache, error) {
	store, err := otter.MustBuilder[ProjectionKey, []string](capacity).
		CollectStats().
		WithTTL(ttl).
		DeletionListener(func(_ ProjectionKey, _ []string, cause otter.DeletionCause) {
			if cause == otter.Size {
				observability.ProjectionCacheEvictions.Inc()
			}
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &ProjectionCache{store: store}, nil
}

// Get returns a copy of the cached list for key.
func (c *ProjectionCache) Get(key ProjectionKey) ([]string, bool) {
	names, ok := c.store.Get(key)
	if !ok {
		observability.ProjectionCacheMisses.Inc()
		return nil, false
	}
	observability.ProjectionCacheHits.Inc()
	return slices.Clone(names), true
}

// Set stores a private copy of names under key.
func (c *ProjectionCache) Set(key ProjectionKey, names []string) {
	c.store.Set(key, slices.Clone(names))
}

// Clear drops every entry. Called whenever the snapshot changes.
func (c *ProjectionCache) Clear() {
	c.store.Clear()
	observability.ProjectionCacheItems.Set(0)
}

// Len reports the number of cached lists.
func (c *ProjectionCache) Len() int {
	return c.store.Size()
}

// RunMetricsCollector publishes the item count every interval until ctx is done.
func (c *ProjectionCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.ProjectionCacheItems.Set(float64(c.store.Size()))
		}
	}
}

// Close shuts down the cache and its background cleanup goroutines.
func (c *ProjectionCache) Close() {
	c.store.Close()
}
