package core

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// cacheEntry stamps a cached trust score with its creation time so the
// cache can refuse to serve anything older than its TTL.
type cacheEntry struct {
	value     Score
	createdAt time.Time
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// TotalRequests is Hits+Misses.
func (s CacheStats) TotalRequests() uint64 { return s.Hits + s.Misses }

// HitRate is Hits/TotalRequests, or 0 if there have been no requests.
func (s CacheStats) HitRate() float64 {
	total := s.TotalRequests()
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a concurrent, TTL-bounded, size-bounded cache of trust scores
// keyed by DID, with coalesced loads for concurrent misses on the same
// key. Built on golang-lru for bounded, LRU-class eviction and
// x/sync/singleflight for request coalescing, matching the teacher's
// go.mod closure (both libraries ship as indirect deps of the teacher's
// dependency graph).
type Cache struct {
	ttl     time.Duration
	enabled bool

	mu    sync.RWMutex
	store *lru.Cache[DID, cacheEntry]
	group singleflight.Group

	hits          atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64

	now func() time.Time
}

// NewCache builds a trust cache bounded to maxEntries with the given TTL.
// enabled=false makes Get/Insert no-ops and GetOrLoad always invoke the
// loader without caching, per spec.md's "disabled" mode.
func NewCache(maxEntries int, ttl time.Duration, enabled bool) *Cache {
	c := &Cache{ttl: ttl, enabled: enabled, now: time.Now}
	store, _ := lru.NewWithEvict[DID, cacheEntry](maxEntries, func(DID, cacheEntry) {
		c.evictions.Add(1)
	})
	c.store = store
	return c
}

// lookup checks the backing store without touching the hit/miss counters,
// so callers that need to recheck freshness (e.g. inside a coalesced load)
// don't double-count a single logical request.
func (c *Cache) lookup(did DID) (Score, bool) {
	if !c.enabled {
		return Score{}, false
	}
	c.mu.RLock()
	entry, ok := c.store.Get(did)
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.createdAt) > c.ttl {
		return Score{}, false
	}
	return entry.value, true
}

// Get returns the cached score for did if present and not older than the
// TTL, incrementing hits or misses accordingly.
func (c *Cache) Get(did DID) (Score, bool) {
	v, ok := c.lookup(did)
	if !ok {
		c.misses.Add(1)
		return Score{}, false
	}
	c.hits.Add(1)
	return v, true
}

// Insert stores value for did, stamped with the current time. A no-op when
// the cache is disabled.
func (c *Cache) Insert(did DID, value Score) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.store.Add(did, cacheEntry{value: value, createdAt: c.now()})
	c.mu.Unlock()
}

// Loader computes a fresh Score for did, e.g. by calling into the trust
// engine or an on-chain client.
type Loader func(did DID) (Score, error)

// GetOrLoad returns the cached value for did if fresh, otherwise invokes
// loader exactly once across concurrent callers for the same key, inserts
// the result, and returns it. When the cache is disabled, loader always
// runs and nothing is cached.
func (c *Cache) GetOrLoad(did DID, loader Loader) (Score, error) {
	if v, ok := c.lookup(did); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	v, err, _ := c.group.Do(string(did), func() (any, error) {
		if cached, ok := c.lookup(did); ok {
			return cached, nil
		}
		fresh, err := loader(did)
		if err != nil {
			return Score{}, err
		}
		c.Insert(did, fresh)
		return fresh, nil
	})
	if err != nil {
		return Score{}, err
	}
	return v.(Score), nil
}

// Invalidate drops a single key, incrementing the invalidations counter.
func (c *Cache) Invalidate(did DID) {
	c.invalidations.Add(1)
	c.mu.Lock()
	c.store.Remove(did)
	c.mu.Unlock()
}

// Flush drops every cached entry, incrementing the invalidations counter
// once for the bulk operation.
func (c *Cache) Flush() {
	c.invalidations.Add(1)
	c.mu.Lock()
	c.store.Purge()
	c.mu.Unlock()
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Size returns the number of entries currently cached.
func (c *Cache) Size() int {
	if !c.enabled {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Len()
}
