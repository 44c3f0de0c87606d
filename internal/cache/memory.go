// Package cache provides a bounded in-memory cache used by the lite server.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is a size-bounded LRU cache with per-entry expiry.
// Values are stored as JSON-encoded bytes so callers can cache any
// serializable type without sharing mutable state.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]

	statsMu   sync.RWMutex
	hits      int64
	misses    int64
	evictions int64
}

// MemoryCacheStats tracks cache performance counters.
type MemoryCacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Items     int   `json:"items"`
}

// NewMemoryCache creates a memory cache holding at most maxItems entries,
// each expiring ttl after it was written. A ttl of zero disables expiry.
func NewMemoryCache(maxItems int, ttl time.Duration) (*MemoryCache, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxItems)
	}

	c := &MemoryCache{}
	c.lru = expirable.NewLRU[string, []byte](maxItems, func(string, []byte) {
		c.statsMu.Lock()
		c.evictions++
		c.statsMu.Unlock()
	}, ttl)

	return c, nil
}

// Get returns the raw bytes stored under key.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	data, ok := c.lru.Get(key)
	c.statsMu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.statsMu.Unlock()
	return data, ok
}

// GetJSON unmarshals the entry stored under key into target.
// Returns false when the key is absent or expired.
func (c *MemoryCache) GetJSON(key string, target interface{}) (bool, error) {
	data, ok := c.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		// A corrupt entry is useless, drop it
		c.lru.Remove(key)
		return false, fmt.Errorf("failed to decode cached entry %q: %w", key, err)
	}
	return true, nil
}

// Set stores raw bytes under key, evicting the oldest entry when full.
func (c *MemoryCache) Set(key string, value []byte) {
	c.lru.Add(key, value)
}

// SetJSON marshals value and stores it under key.
func (c *MemoryCache) SetJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
	}
	c.lru.Add(key, data)
	return nil
}

// Delete removes the entry stored under key, if any.
func (c *MemoryCache) Delete(key string) {
	c.lru.Remove(key)
}

// Purge removes all entries.
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return MemoryCacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Items:     c.lru.Len(),
	}
}
