package external

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ResilientSegmentationClient wraps the segmentation client with a circuit
// breaker and a Redis-backed result cache. Cached results are served even
// while the breaker is open, so previously analyzed images keep working
// through an outage.
type ResilientSegmentationClient struct {
	client      SegmentationAPI
	cacheClient *CacheClient
	breaker     *gobreaker.CircuitBreaker
	logger      *logrus.Logger
}

// NewResilientSegmentationClient creates a resilient segmentation client.
// The cache client may be nil, which disables caching and the open-breaker
// fallback.
func NewResilientSegmentationClient(client SegmentationAPI, cacheClient *CacheClient, config CircuitBreakerConfig, logger *logrus.Logger) *ResilientSegmentationClient {
	if logger == nil {
		logger = logrus.New()
	}

	// Set default circuit breaker configuration
	if config.MaxRequests == 0 {
		config.MaxRequests = 3
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Segmentation",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from,
				"to_state":        to,
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientSegmentationClient{
		client:      client,
		cacheClient: cacheClient,
		breaker:     breaker,
		logger:      logger,
	}
}

// SegmentImage runs segmentation with caching and circuit breaking.
func (r *ResilientSegmentationClient) SegmentImage(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error) {
	digest := ImageDigest(image)

	// Check cache first
	if r.cacheClient != nil {
		if cached, found, err := r.cacheClient.GetSegmentation(ctx, digest, opts); err == nil && found {
			r.logger.WithFields(logrus.Fields{
				"image_digest": digest,
				"cells":        len(cached.Cells),
			}).Debug("Segmentation cache hit")
			return cached, nil
		}
	}

	// Use circuit breaker
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.SegmentImage(ctx, image, opts)
	})

	if err != nil {
		// Serve stale cached data while the breaker is open
		if err == gobreaker.ErrOpenState {
			if r.cacheClient != nil {
				if cached, found, cacheErr := r.cacheClient.GetSegmentation(ctx, digest, opts); cacheErr == nil && found {
					return cached, nil
				}
			}
			return nil, fmt.Errorf("segmentation service unavailable (circuit breaker open)")
		}
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}

	data := result.(*SegmentationResult)

	// Cache the result
	if r.cacheClient != nil {
		if cacheErr := r.cacheClient.SetSegmentation(ctx, digest, opts, data, 0); cacheErr != nil {
			r.logger.WithFields(logrus.Fields{
				"image_digest": digest,
				"error":        cacheErr.Error(),
			}).Warn("Failed to cache segmentation result")
		}
	}

	return data, nil
}

// HealthCheck probes the underlying service directly, bypassing the
// breaker so readiness reports reflect the real service state.
func (r *ResilientSegmentationClient) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// GetServiceHealth returns health status of the external services
func (r *ResilientSegmentationClient) GetServiceHealth(ctx context.Context) []ServiceHealth {
	health := ServiceHealth{
		Service:   ServiceTypeSegmentation,
		LastCheck: time.Now(),
	}

	if err := r.client.HealthCheck(ctx); err != nil {
		health.Healthy = false
		health.Error = err.Error()
		r.logger.WithFields(logrus.Fields{
			"service": ServiceTypeSegmentation,
			"error":   err.Error(),
		}).Warn("Service health check failed")
	} else {
		health.Healthy = true
	}

	return []ServiceHealth{health}
}

// CircuitBreakerCounts returns the breaker request counters.
func (r *ResilientSegmentationClient) CircuitBreakerCounts() gobreaker.Counts {
	return r.breaker.Counts()
}

// CircuitBreakerState returns the current breaker state.
func (r *ResilientSegmentationClient) CircuitBreakerState() gobreaker.State {
	return r.breaker.State()
}

// InvalidateImage removes cached results for an image digest.
func (r *ResilientSegmentationClient) InvalidateImage(ctx context.Context, imageDigest string) error {
	if r.cacheClient == nil {
		return nil
	}
	return r.cacheClient.InvalidateImage(ctx, imageDigest)
}

// Close closes all connections and resources
func (r *ResilientSegmentationClient) Close() error {
	if r.cacheClient == nil {
		return nil
	}
	return r.cacheClient.Close()
}
