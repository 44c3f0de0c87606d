// Package caching provides a two-tier cache for expensive operation results.
// Scored rankings and morphology summaries are deterministic for a given
// catalog version and input, which makes them safe to cache aggressively.
package caching

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "oncorec:cache:result:"

// CacheConfig defines configuration for result caching
type CacheConfig struct {
	// Redis client for distributed caching
	RedisClient *redis.Client
	// Default TTL for cached results
	DefaultTTL time.Duration
	// Maximum total size of the in-memory tier (bytes)
	MaxMemorySize int
	// Enable/disable caching
	Enabled bool
}

// CachedResult represents a cached operation result
type CachedResult struct {
	Operation  string                 `json:"operation"`
	Parameters map[string]interface{} `json:"parameters"`
	Result     interface{}            `json:"result"`
	Metadata   CacheMetadata          `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
}

// CacheMetadata contains additional information about the cached result
type CacheMetadata struct {
	ExecutionTime  time.Duration `json:"execution_time"`
	Success        bool          `json:"success"`
	ErrorCode      string        `json:"error_code,omitempty"`
	CacheHits      int64         `json:"cache_hits"`
	LastAccessed   time.Time     `json:"last_accessed"`
	Size           int           `json:"size"`
	CatalogVersion string        `json:"catalog_version,omitempty"`
}

// ResultCache manages caching of operation results across a memory tier
// and an optional Redis tier.
type ResultCache struct {
	config      CacheConfig
	memoryCache map[string]*CachedResult
	memoryMutex sync.RWMutex
	stats       CacheStats
	statsMutex  sync.RWMutex
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	MemoryUsage int64 `json:"memory_usage"`
}

// NewResultCache creates a new result cache instance
func NewResultCache(config CacheConfig) *ResultCache {
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 15 * time.Minute
	}
	if config.MaxMemorySize == 0 {
		config.MaxMemorySize = 50 * 1024 * 1024 // 50MB
	}

	return &ResultCache{
		config:      config,
		memoryCache: make(map[string]*CachedResult),
		stats:       CacheStats{},
	}
}

// GenerateKey creates a unique cache key for an operation and its parameters.
// Parameters must include everything the result depends on, catalog version
// included, so a reload naturally misses stale entries.
func (rc *ResultCache) GenerateKey(operation string, parameters map[string]interface{}) string {
	paramBytes, _ := json.Marshal(parameters)
	hash := sha256.Sum256(append([]byte(operation+"::"), paramBytes...))
	return hex.EncodeToString(hash[:])
}

// Get retrieves a cached result if available
func (rc *ResultCache) Get(ctx context.Context, operation string, parameters map[string]interface{}) (*CachedResult, bool) {
	if !rc.config.Enabled {
		return nil, false
	}

	key := rc.GenerateKey(operation, parameters)

	// Check memory cache first
	rc.memoryMutex.Lock()
	if cached, exists := rc.memoryCache[key]; exists {
		if time.Now().Before(cached.ExpiresAt) {
			cached.Metadata.CacheHits++
			cached.Metadata.LastAccessed = time.Now()
			rc.memoryMutex.Unlock()
			rc.updateStats(true, false)
			return cached, true
		}
		// Expired entry, remove it
		delete(rc.memoryCache, key)
	}
	rc.memoryMutex.Unlock()

	// Check Redis cache if available
	if rc.config.RedisClient != nil {
		data, err := rc.config.RedisClient.Get(ctx, redisKeyPrefix+key).Bytes()
		if err == nil {
			var cached CachedResult
			if err := json.Unmarshal(data, &cached); err == nil {
				if time.Now().Before(cached.ExpiresAt) {
					cached.Metadata.CacheHits++
					cached.Metadata.LastAccessed = time.Now()

					// Promote to memory cache for faster access
					rc.memoryMutex.Lock()
					rc.memoryCache[key] = &cached
					rc.memoryMutex.Unlock()

					rc.updateStats(true, false)
					return &cached, true
				}
				// Remove expired entry from Redis
				rc.config.RedisClient.Del(ctx, redisKeyPrefix+key)
			}
		}
	}

	rc.updateStats(false, false)
	return nil, false
}

// Set stores a result in the cache
func (rc *ResultCache) Set(ctx context.Context, operation string, parameters map[string]interface{}, result interface{}, executionTime time.Duration, ttl time.Duration) error {
	if !rc.config.Enabled {
		return nil
	}

	if ttl == 0 {
		ttl = rc.config.DefaultTTL
	}

	key := rc.GenerateKey(operation, parameters)

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	catalogVersion, _ := parameters["catalog_version"].(string)

	cached := &CachedResult{
		Operation:  operation,
		Parameters: parameters,
		Result:     result,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
		Metadata: CacheMetadata{
			ExecutionTime:  executionTime,
			Success:        true,
			CacheHits:      0,
			LastAccessed:   time.Now(),
			Size:           len(resultBytes),
			CatalogVersion: catalogVersion,
		},
	}

	// Store in memory cache
	rc.memoryMutex.Lock()
	rc.evictIfNeeded()
	rc.memoryCache[key] = cached
	rc.memoryMutex.Unlock()

	// Store in Redis cache if available
	if rc.config.RedisClient != nil {
		cachedBytes, err := json.Marshal(cached)
		if err == nil {
			if err := rc.config.RedisClient.Set(ctx, redisKeyPrefix+key, cachedBytes, ttl).Err(); err != nil {
				// Redis being down must not fail the operation
				return nil
			}
		}
	}

	return nil
}

// SetError stores an error result in the cache with shorter TTL
func (rc *ResultCache) SetError(ctx context.Context, operation string, parameters map[string]interface{}, errorCode string, executionTime time.Duration) error {
	if !rc.config.Enabled {
		return nil
	}

	key := rc.GenerateKey(operation, parameters)

	// Use shorter TTL for errors
	errorTTL := rc.config.DefaultTTL / 4

	cached := &CachedResult{
		Operation:  operation,
		Parameters: parameters,
		Result:     nil,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(errorTTL),
		Metadata: CacheMetadata{
			ExecutionTime: executionTime,
			Success:       false,
			ErrorCode:     errorCode,
			CacheHits:     0,
			LastAccessed:  time.Now(),
			Size:          0,
		},
	}

	rc.memoryMutex.Lock()
	rc.evictIfNeeded()
	rc.memoryCache[key] = cached
	rc.memoryMutex.Unlock()

	if rc.config.RedisClient != nil {
		cachedBytes, err := json.Marshal(cached)
		if err == nil {
			rc.config.RedisClient.Set(ctx, redisKeyPrefix+key, cachedBytes, errorTTL)
		}
	}

	return nil
}

// InvalidateByOperation removes all cached results for a specific operation.
// Called after a catalog reload so stale rankings never survive a version bump.
func (rc *ResultCache) InvalidateByOperation(ctx context.Context, operation string) error {
	rc.memoryMutex.Lock()
	for key, cached := range rc.memoryCache {
		if cached.Operation == operation {
			delete(rc.memoryCache, key)
		}
	}
	rc.memoryMutex.Unlock()

	if rc.config.RedisClient != nil {
		keys, err := rc.config.RedisClient.Keys(ctx, redisKeyPrefix+"*").Result()
		if err == nil {
			for _, key := range keys {
				data, err := rc.config.RedisClient.Get(ctx, key).Bytes()
				if err == nil {
					var cached CachedResult
					if json.Unmarshal(data, &cached) == nil && cached.Operation == operation {
						rc.config.RedisClient.Del(ctx, key)
					}
				}
			}
		}
	}

	return nil
}

// Clear removes all cached results
func (rc *ResultCache) Clear(ctx context.Context) error {
	rc.memoryMutex.Lock()
	rc.memoryCache = make(map[string]*CachedResult)
	rc.memoryMutex.Unlock()

	if rc.config.RedisClient != nil {
		keys, err := rc.config.RedisClient.Keys(ctx, redisKeyPrefix+"*").Result()
		if err == nil && len(keys) > 0 {
			rc.config.RedisClient.Del(ctx, keys...)
		}
	}

	rc.statsMutex.Lock()
	rc.stats = CacheStats{}
	rc.statsMutex.Unlock()

	return nil
}

// GetStats returns cache performance statistics
func (rc *ResultCache) GetStats() CacheStats {
	rc.statsMutex.Lock()
	defer rc.statsMutex.Unlock()

	rc.memoryMutex.RLock()
	rc.stats.MemoryUsage = rc.memoryUsageLocked()
	rc.memoryMutex.RUnlock()

	return rc.stats
}

// GetHitRatio calculates the cache hit ratio
func (rc *ResultCache) GetHitRatio() float64 {
	rc.statsMutex.RLock()
	defer rc.statsMutex.RUnlock()

	total := rc.stats.Hits + rc.stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(rc.stats.Hits) / float64(total)
}

// IsHealthy checks if the cache is functioning properly
func (rc *ResultCache) IsHealthy(ctx context.Context) bool {
	if !rc.config.Enabled {
		return true
	}

	testKey := "health_check_" + time.Now().Format("20060102150405")
	testCached := &CachedResult{
		Operation: "health_check",
		Result:    "ok",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
		Metadata: CacheMetadata{
			Success: true,
			Size:    2,
		},
	}

	rc.memoryMutex.Lock()
	rc.memoryCache[testKey] = testCached
	_, exists := rc.memoryCache[testKey]
	delete(rc.memoryCache, testKey)
	rc.memoryMutex.Unlock()

	if !exists {
		return false
	}

	if rc.config.RedisClient != nil {
		if err := rc.config.RedisClient.Ping(ctx).Err(); err != nil {
			return false
		}
	}

	return true
}

// evictIfNeeded removes least recently used entries while the memory tier
// is over budget. Caller must hold memoryMutex.
func (rc *ResultCache) evictIfNeeded() {
	for rc.memoryUsageLocked() > int64(rc.config.MaxMemorySize) {
		var oldestKey string
		oldestTime := time.Now()

		for key, cached := range rc.memoryCache {
			if cached.Metadata.LastAccessed.Before(oldestTime) {
				oldestTime = cached.Metadata.LastAccessed
				oldestKey = key
			}
		}

		if oldestKey == "" {
			return
		}
		delete(rc.memoryCache, oldestKey)
		rc.recordEviction()
	}
}

// memoryUsageLocked estimates current memory usage. Caller must hold memoryMutex.
func (rc *ResultCache) memoryUsageLocked() int64 {
	var usage int64
	for _, cached := range rc.memoryCache {
		usage += int64(cached.Metadata.Size)
	}
	return usage
}

// updateStats updates cache performance statistics
func (rc *ResultCache) updateStats(hit bool, eviction bool) {
	rc.statsMutex.Lock()
	defer rc.statsMutex.Unlock()

	if hit {
		rc.stats.Hits++
	} else {
		rc.stats.Misses++
	}

	if eviction {
		rc.stats.Evictions++
	}
}

func (rc *ResultCache) recordEviction() {
	rc.statsMutex.Lock()
	rc.stats.Evictions++
	rc.statsMutex.Unlock()
}
