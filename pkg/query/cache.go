// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package query

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultCacheTTL is how long a generated query list stays valid.
	DefaultCacheTTL = 24 * time.Hour

	// DefaultCacheSize bounds the number of cached query lists.
	DefaultCacheSize = 512

	cacheCleanupInterval = 10 * time.Minute
)

// CacheStats is a point-in-time snapshot of cache behavior.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Cache maps request fingerprints to generated query lists with a
// write TTL and a size bound. When the bound is reached, the entry
// closest to expiry is evicted first. Safe for concurrent use.
type Cache struct {
	store   *gocache.Cache
	maxSize int

	// mu serializes the size check in Put against concurrent writers;
	// reads go straight to the underlying store.
	mu sync.Mutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewCache builds a cache with the given write TTL and entry bound.
// Zero values select DefaultCacheTTL and DefaultCacheSize.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		store:   gocache.New(ttl, cacheCleanupInterval),
		maxSize: maxSize,
	}
}

// Get returns the cached list for key. A miss is not an error.
func (c *Cache) Get(key string) (GeneratedQueries, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		return GeneratedQueries{}, false
	}
	gq, ok := v.(GeneratedQueries)
	if !ok {
		c.misses.Add(1)
		return GeneratedQueries{}, false
	}
	c.hits.Add(1)
	return gq, true
}

// Put stores the list under key with the cache's write TTL, evicting
// the soonest-to-expire entry if the cache is full.
func (c *Cache) Put(key string, gq GeneratedQueries) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store.Get(key); !exists && c.store.ItemCount() >= c.maxSize {
		// Expired entries linger until the janitor runs; purge them
		// before sacrificing a live entry.
		c.store.DeleteExpired()
		if c.store.ItemCount() >= c.maxSize {
			c.evictSoonest()
		}
	}
	c.store.Set(key, gq, gocache.DefaultExpiration)
}

// evictSoonest drops the live entry with the earliest expiration.
// Callers hold c.mu.
func (c *Cache) evictSoonest() {
	var victim string
	var soonest int64
	for k, item := range c.store.Items() {
		if victim == "" || item.Expiration < soonest {
			victim, soonest = k, item.Expiration
		}
	}
	if victim != "" {
		c.store.Delete(victim)
		c.evictions.Add(1)
	}
}

// Stats reports cumulative hit, miss, and eviction counts plus the
// current entry count.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.store.ItemCount(),
	}
}

// Clear drops every entry. Counters are cumulative and survive a clear.
func (c *Cache) Clear() {
	c.store.Flush()
}
