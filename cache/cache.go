// Package cache keeps recent read-only results in memory, bounded by an
// estimated byte budget with least-recently-used eviction.
package cache

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/telemetry"
)

const keySeparator = "\x00"

// Key builds the composite cache key of a connection and its exact SQL text.
func Key(connectionID, sql string) string {
	return connectionID + keySeparator + sql
}

type entry struct {
	key    string
	result *driver.ResultSet
	size   int64
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	Entries      int
	CurrentBytes int64
	MaxBytes     int64
}

// UsagePercent is CurrentBytes as a percentage of MaxBytes.
func (s Stats) UsagePercent() float64 {
	if s.MaxBytes <= 0 {
		return 0
	}
	return float64(s.CurrentBytes) / float64(s.MaxBytes) * 100
}

// Cache is safe for concurrent use. Entries are addressed by the xxhash of the
// composite key; the full key is kept on the entry and a mismatch is a miss.
type Cache struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[uint64, *entry]
	size      int64
	maxBytes  int64
	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache with a byte budget and an entry-count ceiling.
func New(maxBytes int64, maxEntries int) (*Cache, error) {
	c := &Cache{maxBytes: maxBytes}
	l, err := simplelru.NewLRU[uint64, *entry](maxEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// onEvict runs inside lru calls, which only happen with c.mu held.
func (c *Cache) onEvict(_ uint64, e *entry) {
	c.size -= e.size
}

// Get returns the cached result and marks it most recently used.
func (c *Cache) Get(key string) (*driver.ResultSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(xxhash.Sum64String(key))
	if !ok || e.key != key {
		c.misses++
		telemetry.CacheRequestsTotal.With(telemetry.ResultMiss).Inc()
		return nil, false
	}

	c.hits++
	telemetry.CacheRequestsTotal.With(telemetry.ResultHit).Inc()
	return e.result, true
}

// Put stores rs under key, replacing any prior entry, then evicts least
// recently used entries until the cache is back under budget. A result larger
// than the whole budget is not stored.
func (c *Cache) Put(key string, rs *driver.ResultSet) {
	if rs == nil {
		return
	}
	size := rs.EstimatedSize() + int64(len(key))
	h := xxhash.Sum64String(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxBytes {
		if old, ok := c.lru.Peek(h); ok && old.key == key {
			c.lru.Remove(h)
		}
		c.publish()
		return
	}

	// Replacing an existing hash slot does not fire the evict callback.
	if old, ok := c.lru.Peek(h); ok {
		c.size -= old.size
	}
	if evicted := c.lru.Add(h, &entry{key: key, result: rs, size: size}); evicted {
		c.evictions++
		telemetry.CacheEvictionsTotal.Inc()
	}
	c.size += size

	for c.size > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		c.evictions++
		telemetry.CacheEvictionsTotal.Inc()
	}
	c.publish()
}

// Remove drops a single key. Unknown keys are ignored.
func (c *Cache) Remove(key string) {
	h := xxhash.Sum64String(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Peek(h); ok && e.key == key {
		c.lru.Remove(h)
		c.publish()
	}
}

// RemoveConnection drops every entry cached for connectionID and returns how many were dropped.
func (c *Cache) RemoveConnection(connectionID string) int {
	prefix := connectionID + keySeparator

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, h := range c.lru.Keys() {
		if e, ok := c.lru.Peek(h); ok && strings.HasPrefix(e.key, prefix) {
			c.lru.Remove(h)
			removed++
		}
	}
	if removed > 0 {
		c.publish()
	}
	return removed
}

// Clear drops every entry. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.size = 0
	c.publish()
}

// CurrentSize returns the estimated resident bytes.
func (c *Cache) CurrentSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize returns the byte budget.
func (c *Cache) MaxSize() int64 {
	return c.maxBytes
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns counters and occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Entries:      c.lru.Len(),
		CurrentBytes: c.size,
		MaxBytes:     c.maxBytes,
	}
}

func (c *Cache) publish() {
	telemetry.CacheBytes.Set(float64(c.size))
	telemetry.CacheEntries.Set(float64(c.lru.Len()))
}
