package imaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/pkg/external"
)

// MorphologyResolver defines the interface for resolving images to morphology summaries
type MorphologyResolver interface {
	// ResolveMorphology returns the morphology summary for an image
	ResolveMorphology(ctx context.Context, image []byte) (*domain.MorphologySummary, error)

	// BatchResolve resolves multiple images concurrently, keyed by digest
	BatchResolve(ctx context.Context, images [][]byte) (map[string]*domain.MorphologySummary, error)

	// InvalidateImage drops cached results for an image digest
	InvalidateImage(ctx context.Context, imageDigest string) error

	// GetCacheStats returns cache performance statistics
	GetCacheStats() CacheStats
}

// CachedMorphologyResolver resolves morphology with a hot in-memory summary
// tier in front of the segmentation client. The warm tier (Redis, keyed by
// image digest) lives inside the resilient segmentation client, so a memory
// miss here still avoids re-segmentation for recently seen images.
type CachedMorphologyResolver struct {
	segmenter external.SegmentationAPI

	// Tier 1: in-memory LRU of computed summaries (hot data)
	memoryCache    *lru.Cache
	memoryCacheTTL time.Duration
	maxMemorySize  int

	// Concurrency control for batch resolution
	batchSemaphore chan struct{}
	maxConcurrency int

	logger  *logrus.Logger
	stats   *CacheStats
	statsMu sync.RWMutex
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	MemoryHits        int64     `json:"memory_hits"`
	MemoryMisses      int64     `json:"memory_misses"`
	SegmentationCalls int64     `json:"segmentation_calls"`
	TotalRequests     int64     `json:"total_requests"`
	ErrorCount        int64     `json:"error_count"`
	LastReset         time.Time `json:"last_reset"`
}

// MorphologyResolverConfig represents configuration for the resolver
type MorphologyResolverConfig struct {
	MemoryCacheTTL time.Duration `json:"memory_cache_ttl"`
	MaxMemorySize  int           `json:"max_memory_size"`
	MaxConcurrency int           `json:"max_concurrency"`
}

// NewCachedMorphologyResolver creates a new cached morphology resolver
func NewCachedMorphologyResolver(
	config MorphologyResolverConfig,
	segmenter external.SegmentationAPI,
	logger *logrus.Logger,
) (*CachedMorphologyResolver, error) {
	if logger == nil {
		logger = logrus.New()
	}

	// Set default configuration values
	if config.MemoryCacheTTL == 0 {
		config.MemoryCacheTTL = 15 * time.Minute
	}
	if config.MaxMemorySize == 0 {
		config.MaxMemorySize = 1000 // entries
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4 // concurrent segmentation calls
	}

	memoryCache, err := lru.New(config.MaxMemorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &CachedMorphologyResolver{
		segmenter:      segmenter,
		memoryCache:    memoryCache,
		memoryCacheTTL: config.MemoryCacheTTL,
		maxMemorySize:  config.MaxMemorySize,
		batchSemaphore: make(chan struct{}, config.MaxConcurrency),
		maxConcurrency: config.MaxConcurrency,
		logger:         logger,
		stats: &CacheStats{
			LastReset: time.Now(),
		},
	}, nil
}

// ResolveMorphology returns the morphology summary for an image, serving
// from the hot tier when possible.
func (r *CachedMorphologyResolver) ResolveMorphology(ctx context.Context, image []byte) (*domain.MorphologySummary, error) {
	r.incrementStat("total_requests")

	if len(image) == 0 {
		r.incrementStat("error_count")
		return nil, fmt.Errorf("%w: empty image", domain.ErrInvalidRequest)
	}

	digest := external.ImageDigest(image)

	if summary := r.getFromMemoryCache(digest); summary != nil {
		r.incrementStat("memory_hits")
		r.logger.WithFields(logrus.Fields{
			"image_digest": digest,
			"total_cells":  summary.TotalCells,
			"cache_tier":   "memory",
		}).Debug("Morphology cache hit")
		return summary, nil
	}
	r.incrementStat("memory_misses")

	r.incrementStat("segmentation_calls")
	result, err := r.segmenter.SegmentImage(ctx, image, external.SegmentationOptions{})
	if err != nil {
		r.incrementStat("error_count")
		return nil, fmt.Errorf("%w: %w", domain.ErrAnalysisFailed, err)
	}

	summary := Summarize(result.Cells, result.ImageWidth, result.ImageHeight)
	r.setInMemoryCache(digest, summary)

	r.logger.WithFields(logrus.Fields{
		"image_digest":  digest,
		"total_cells":   summary.TotalCells,
		"heterogeneity": summary.Heterogeneity,
	}).Info("Resolved morphology from segmentation service")

	return &summary, nil
}

// BatchResolve resolves multiple images concurrently with controlled
// concurrency. Failed images are omitted from the result map; callers
// check for presence per digest.
func (r *CachedMorphologyResolver) BatchResolve(ctx context.Context, images [][]byte) (map[string]*domain.MorphologySummary, error) {
	if len(images) == 0 {
		return make(map[string]*domain.MorphologySummary), nil
	}

	results := make(map[string]*domain.MorphologySummary)
	failures := 0
	var wg sync.WaitGroup
	var mu sync.Mutex

	r.logger.WithField("batch_size", len(images)).Info("Starting batch morphology resolution")

	for _, img := range images {
		wg.Add(1)
		go func(image []byte) {
			defer wg.Done()

			select {
			case r.batchSemaphore <- struct{}{}:
				defer func() { <-r.batchSemaphore }()
			case <-ctx.Done():
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}

			summary, err := r.ResolveMorphology(ctx, image)

			mu.Lock()
			if err != nil {
				failures++
			} else {
				results[external.ImageDigest(image)] = summary
			}
			mu.Unlock()
		}(img)
	}

	wg.Wait()

	r.logger.WithFields(logrus.Fields{
		"batch_size": len(images),
		"successful": len(results),
		"failed":     failures,
	}).Info("Completed batch morphology resolution")

	return results, nil
}

// InvalidateImage drops cached results for an image digest from the hot
// tier and, when the segmenter supports it, from the distributed tier.
func (r *CachedMorphologyResolver) InvalidateImage(ctx context.Context, imageDigest string) error {
	if imageDigest == "" {
		return fmt.Errorf("%w: image digest cannot be empty", domain.ErrInvalidRequest)
	}

	r.memoryCache.Remove(imageDigest)

	if invalidator, ok := r.segmenter.(interface {
		InvalidateImage(ctx context.Context, imageDigest string) error
	}); ok {
		if err := invalidator.InvalidateImage(ctx, imageDigest); err != nil {
			return fmt.Errorf("failed to invalidate distributed cache: %w", err)
		}
	}

	r.logger.WithField("image_digest", imageDigest).Info("Invalidated morphology cache")
	return nil
}

// GetCacheStats returns cache performance statistics
func (r *CachedMorphologyResolver) GetCacheStats() CacheStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return *r.stats
}

func (r *CachedMorphologyResolver) getFromMemoryCache(digest string) *domain.MorphologySummary {
	if value, ok := r.memoryCache.Get(digest); ok {
		if entry, ok := value.(*summaryEntry); ok && !entry.isExpired() {
			summary := entry.summary
			return &summary
		}
		// Remove expired entry
		r.memoryCache.Remove(digest)
	}
	return nil
}

func (r *CachedMorphologyResolver) setInMemoryCache(digest string, summary domain.MorphologySummary) {
	r.memoryCache.Add(digest, &summaryEntry{
		summary: summary,
		expiry:  time.Now().Add(r.memoryCacheTTL),
	})
}

func (r *CachedMorphologyResolver) incrementStat(statName string) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	switch statName {
	case "memory_hits":
		r.stats.MemoryHits++
	case "memory_misses":
		r.stats.MemoryMisses++
	case "segmentation_calls":
		r.stats.SegmentationCalls++
	case "total_requests":
		r.stats.TotalRequests++
	case "error_count":
		r.stats.ErrorCount++
	}
}

type summaryEntry struct {
	summary domain.MorphologySummary
	expiry  time.Time
}

func (e *summaryEntry) isExpired() bool {
	return time.Now().After(e.expiry)
}
