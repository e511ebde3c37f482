// Package cache provides a bounded, TTL-aware in-memory cache.
//
// Entries may be evicted at any time, so callers must treat a miss as normal
// and never rely on a hit for correctness.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// Options configures a Cache.
type Options struct {
	// MaxItems bounds the number of entries. Default 10000.
	MaxItems int64

	// DefaultTTL applies when Put is given a zero TTL. Zero means no expiry.
	DefaultTTL time.Duration
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

// Cache is a generic cache backed by ristretto. Concurrent loads of the same
// key through GetOrLoad are collapsed into one call.
//
// Every Invalidate bumps the key's generation and ClearAll bumps the epoch. A
// load only stores its result if neither moved while it ran, and loads started
// after an invalidation never join one started before it.
type Cache[K ristretto.Key, V any] struct {
	store  *ristretto.Cache[K, V]
	flight singleflight.Group
	ttl    time.Duration

	mu    sync.Mutex
	epoch uint64
	gens  map[K]uint64

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
}

// New creates a cache.
func New[K ristretto.Key, V any](opts Options) (*Cache[K, V], error) {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 10000
	}

	store, err := ristretto.NewCache(&ristretto.Config[K, V]{
		NumCounters:        opts.MaxItems * 10,
		MaxCost:            opts.MaxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Cache[K, V]{store: store, ttl: opts.DefaultTTL, gens: make(map[K]uint64)}, nil
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores value under key. A zero ttl uses the default TTL.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if ttl > 0 {
		c.store.SetWithTTL(key, value, 1, ttl)
	} else {
		c.store.Set(key, value, 1)
	}
	c.store.Wait()
}

// Invalidate removes key. Loads of key already in flight do not store their
// result.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	c.store.Del(key)
}

// ClearAll removes every entry. Loads already in flight do not store their
// results.
func (c *Cache[K, V]) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.gens = make(map[K]uint64)
	c.store.Clear()
}

// version identifies the current generation of key.
func (c *Cache[K, V]) version(key K) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versionLocked(key)
}

func (c *Cache[K, V]) versionLocked(key K) string {
	return fmt.Sprintf("%v#%d.%d", key, c.epoch, c.gens[key])
}

// putIfCurrent stores value only when key is still at version.
func (c *Cache[K, V]) putIfCurrent(key K, value V, ttl time.Duration, version string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionLocked(key) != version {
		return false
	}
	c.Put(key, value, ttl)
	return true
}

// GetOrLoad returns the cached value or calls load once across all concurrent
// callers for the same key and caches its result for ttl. Load errors are not
// cached, and neither are results of loads overtaken by an invalidation.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, ttl time.Duration, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	version := c.version(key)
	result, err, _ := c.flight.Do(version, func() (interface{}, error) {
		c.loads.Add(1)
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.putIfCurrent(key, v, ttl, version)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Loads: c.loads.Load()}
}

// Close releases the cache's background goroutines.
func (c *Cache[K, V]) Close() {
	c.store.Close()
}
