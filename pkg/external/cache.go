package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oncorec-server/internal/domain"
)

// CacheClient wraps a Redis client with caching for segmentation responses.
// Segmentation is the slowest call in the system and its output is fully
// determined by the image bytes and model options, so results are cached
// by content digest.
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// CachedSegmentation represents a cached segmentation result with metadata
type CachedSegmentation struct {
	Data      *SegmentationResult `json:"data"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ImageDigest returns the sha256 hex digest identifying an image payload.
func ImageDigest(image []byte) string {
	hash := sha256.Sum256(image)
	return hex.EncodeToString(hash[:])
}

// GetSegmentation retrieves a cached segmentation result
func (c *CacheClient) GetSegmentation(ctx context.Context, imageDigest string, opts SegmentationOptions) (*SegmentationResult, bool, error) {
	key := c.segmentationKey(imageDigest, opts)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get segmentation cache: %w", err)
	}

	var cached CachedSegmentation
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	// Check if expired
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// SetSegmentation caches a segmentation result
func (c *CacheClient) SetSegmentation(ctx context.Context, imageDigest string, opts SegmentationOptions, data *SegmentationResult, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	key := c.segmentationKey(imageDigest, opts)

	cached := CachedSegmentation{
		Data:      data,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal segmentation cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// InvalidateImage removes every cached run for an image digest.
func (c *CacheClient) InvalidateImage(ctx context.Context, imageDigest string) error {
	return c.InvalidatePattern(ctx, fmt.Sprintf("segmentation:%s:*", imageDigest))
}

// InvalidatePattern removes all cached data matching a pattern
func (c *CacheClient) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to get keys for pattern %s: %w", pattern, err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...).Err()
}

// GetStats returns cache statistics
func (c *CacheClient) GetStats(ctx context.Context) (map[string]interface{}, error) {
	info, err := c.redis.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	keyspace, err := c.redis.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis keyspace: %w", err)
	}

	stats := map[string]interface{}{
		"memory_info": info,
		"keyspace":    keyspace,
		"client_info": map[string]interface{}{
			"pool_stats": c.redis.PoolStats(),
		},
	}

	return stats, nil
}

// Ping checks if Redis connection is alive
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// segmentationKey builds a cache key from the image digest plus a hash of
// the model options. Keys keep the digest in clear so InvalidateImage can
// match every variant of the same image.
func (c *CacheClient) segmentationKey(imageDigest string, opts SegmentationOptions) string {
	variant := fmt.Sprintf("d=%.3f", opts.Diameter)
	hash := sha256.Sum256([]byte(variant))
	return fmt.Sprintf("segmentation:%s:%x", imageDigest, hash[:8])
}
