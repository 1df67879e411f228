package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/veloserve/tracksync/internal/model"
)

// ErrRouteFetch marks a provider failure. The accompanying snapshot, if
// non-zero, is the last-known route for the key.
var ErrRouteFetch = errors.New("route: provider fetch failed")

// CacheConfig holds route cache configuration.
type CacheConfig struct {
	TTL     time.Duration // Entry freshness window (default: 30s)
	Timeout time.Duration // Hard per-fetch timeout (default: 5s)
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:     30 * time.Second,
		Timeout: 5 * time.Second,
	}
}

// Cache serves routes from memory, deferring to the provider on miss or
// expiry. Safe for concurrent use.
type Cache struct {
	cfg      CacheConfig
	provider Provider
	logger   *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]model.RouteSnapshot

	// now is replaceable for expiry tests.
	now func() time.Time
}

// NewCache creates a cache in front of the given provider.
func NewCache(cfg CacheConfig, provider Provider, logger *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCacheConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		entries:  make(map[string]model.RouteSnapshot),
		now:      time.Now,
	}
}

// GetRoute returns a route between the rounded endpoints. A fresh cache
// entry is served directly. On miss or expiry the provider is called,
// with concurrent callers for the same key sharing one call. On
// provider failure the last-known entry is returned together with
// ErrRouteFetch; callers should keep displaying it.
func (c *Cache) GetRoute(ctx context.Context, origin, destination model.GeoPoint, profile string) (model.RouteSnapshot, error) {
	key := cacheKey(origin, destination, profile)

	if snap, ok := c.fresh(key); ok {
		return snap, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another caller may have filled the entry while this
		// one waited on the flight group.
		if snap, ok := c.fresh(key); ok {
			return snap, nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		snap, err := c.provider.GetDirections(fetchCtx, origin, destination, profile)
		if err != nil {
			return nil, err
		}

		snap.OriginKey = origin.Key()
		snap.DestinationKey = destination.Key()
		snap.FetchedAt = c.now()

		c.mu.Lock()
		c.entries[key] = snap
		c.mu.Unlock()

		return snap, nil
	})

	if err != nil {
		c.logger.Warn("route fetch failed",
			"origin", origin.Key(),
			"destination", destination.Key(),
			"err", err,
		)
		stale, _ := c.lastKnown(key)
		return stale, fmt.Errorf("%w: %w", ErrRouteFetch, err)
	}

	return v.(model.RouteSnapshot), nil
}

// Invalidate drops the entry for the endpoint pair.
func (c *Cache) Invalidate(origin, destination model.GeoPoint, profile string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(origin, destination, profile))
	c.mu.Unlock()
}

// Len returns the number of held entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// fresh returns the entry for key when it exists and is younger than
// the TTL.
func (c *Cache) fresh(key string) (model.RouteSnapshot, bool) {
	c.mu.RLock()
	snap, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || snap.Expired(c.cfg.TTL, c.now()) {
		return model.RouteSnapshot{}, false
	}
	return snap, true
}

// lastKnown returns the entry for key regardless of age.
func (c *Cache) lastKnown(key string) (model.RouteSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[key]
	return snap, ok
}

func cacheKey(origin, destination model.GeoPoint, profile string) string {
	return profile + "|" + model.RouteKey(origin, destination)
}
