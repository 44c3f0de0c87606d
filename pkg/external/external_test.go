package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncorec-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sampleResult() *SegmentationResult {
	return &SegmentationResult{
		Cells: []domain.CellRecord{
			{Label: 1, Area: 412.0, CentroidX: 104.2, CentroidY: 88.7, Eccentricity: 0.43},
			{Label: 2, Area: 389.5, CentroidX: 250.1, CentroidY: 133.0, Eccentricity: 0.61},
		},
		ImageWidth:   1024,
		ImageHeight:  768,
		ModelVersion: "cyto3-2.1",
		ElapsedMS:    812,
	}
}

func TestNewSegmentationClient_Defaults(t *testing.T) {
	client := NewSegmentationClient(domain.SegmentationConfig{}, testLogger())

	assert.Equal(t, "http://localhost:9500", client.baseURL)
	assert.Equal(t, 60*time.Second, client.httpClient.Timeout)
	assert.Equal(t, 2, client.maxRetries)
}

func TestNewSegmentationClient_TrimsTrailingSlash(t *testing.T) {
	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL: "http://segmenter.internal:9500/",
	}, testLogger())

	assert.Equal(t, "http://segmenter.internal:9500", client.baseURL)
}

func TestSegmentationClient_SegmentImage(t *testing.T) {
	image := []byte("fake-png-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/segment", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req segmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, image, req.Image)
		assert.Equal(t, 30.0, req.Diameter)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sampleResult())
	}))
	defer server.Close()

	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		RateLimit: 100,
	}, testLogger())

	result, err := client.SegmentImage(context.Background(), image, SegmentationOptions{Diameter: 30.0})
	require.NoError(t, err)

	assert.Len(t, result.Cells, 2)
	assert.Equal(t, 1, result.Cells[0].Label)
	assert.Equal(t, 412.0, result.Cells[0].Area)
	assert.Equal(t, 1024, result.ImageWidth)
	assert.Equal(t, "cyto3-2.1", result.ModelVersion)
}

func TestSegmentationClient_SegmentImage_EmptyImage(t *testing.T) {
	client := NewSegmentationClient(domain.SegmentationConfig{}, testLogger())

	result, err := client.SegmentImage(context.Background(), nil, SegmentationOptions{})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "non-empty image")
}

func TestSegmentationClient_SegmentImage_ConfigDiameterIsFallback(t *testing.T) {
	var receivedDiameter float64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req segmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		receivedDiameter = req.Diameter
		json.NewEncoder(w).Encode(sampleResult())
	}))
	defer server.Close()

	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:   server.URL,
		RateLimit: 100,
		Diameter:  25.0,
	}, testLogger())

	_, err := client.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	require.NoError(t, err)
	assert.Equal(t, 25.0, receivedDiameter)

	// An explicit per-request diameter wins over the configured default.
	_, err = client.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{Diameter: 40.0})
	require.NoError(t, err)
	assert.Equal(t, 40.0, receivedDiameter)
}

func TestSegmentationClient_SegmentImage_RetriesServerErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(sampleResult())
	}))
	defer server.Close()

	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:    server.URL,
		RateLimit:  100,
		MaxRetries: 2,
	}, testLogger())

	result, err := client.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Cells, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSegmentationClient_SegmentImage_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "unsupported image format")
	}))
	defer server.Close()

	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:    server.URL,
		RateLimit:  100,
		MaxRetries: 3,
	}, testLogger())

	result, err := client.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "unsupported image format")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestSegmentationClient_SegmentImage_ExhaustsRetries(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:    server.URL,
		RateLimit:  100,
		MaxRetries: 1,
	}, testLogger())

	result, err := client.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestSegmentationClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:   server.URL,
		RateLimit: 100,
	}, testLogger())

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestSegmentationClient_HealthCheck_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:   server.URL,
		RateLimit: 100,
	}, testLogger())

	err := client.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestImageDigest(t *testing.T) {
	digest := ImageDigest([]byte("image-a"))

	assert.Len(t, digest, 64)
	assert.Equal(t, digest, ImageDigest([]byte("image-a")))
	assert.NotEqual(t, digest, ImageDigest([]byte("image-b")))
}

// mockSegmentationAPI lets the resilient client tests control failures
// without a live HTTP server.
type mockSegmentationAPI struct {
	segmentFunc func(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error)
	healthFunc  func(ctx context.Context) error
	calls       int32
}

func (m *mockSegmentationAPI) SegmentImage(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error) {
	atomic.AddInt32(&m.calls, 1)
	return m.segmentFunc(ctx, image, opts)
}

func (m *mockSegmentationAPI) HealthCheck(ctx context.Context) error {
	if m.healthFunc != nil {
		return m.healthFunc(ctx)
	}
	return nil
}

func TestResilientSegmentationClient_SegmentImage(t *testing.T) {
	mock := &mockSegmentationAPI{
		segmentFunc: func(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error) {
			return sampleResult(), nil
		},
	}

	resilient := NewResilientSegmentationClient(mock, nil, CircuitBreakerConfig{}, testLogger())

	result, err := resilient.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Cells, 2)
	assert.Equal(t, gobreaker.StateClosed, resilient.CircuitBreakerState())
}

func TestResilientSegmentationClient_OpensAfterConsecutiveFailures(t *testing.T) {
	mock := &mockSegmentationAPI{
		segmentFunc: func(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}

	resilient := NewResilientSegmentationClient(mock, nil, CircuitBreakerConfig{
		FailureThreshold: 2,
	}, testLogger())

	_, err := resilient.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	assert.Error(t, err)
	_, err = resilient.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	assert.Error(t, err)

	// Breaker tripped, the third call never reaches the service.
	_, err = resilient.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, gobreaker.StateOpen, resilient.CircuitBreakerState())
	assert.Equal(t, int32(2), atomic.LoadInt32(&mock.calls))
}

func TestResilientSegmentationClient_HealthCheckBypassesBreaker(t *testing.T) {
	mock := &mockSegmentationAPI{
		segmentFunc: func(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error) {
			return nil, fmt.Errorf("connection refused")
		},
		healthFunc: func(ctx context.Context) error {
			return nil
		},
	}

	resilient := NewResilientSegmentationClient(mock, nil, CircuitBreakerConfig{
		FailureThreshold: 1,
	}, testLogger())

	_, err := resilient.SegmentImage(context.Background(), []byte("img"), SegmentationOptions{})
	assert.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, resilient.CircuitBreakerState())

	assert.NoError(t, resilient.HealthCheck(context.Background()))
}

func TestResilientSegmentationClient_GetServiceHealth(t *testing.T) {
	healthy := &mockSegmentationAPI{healthFunc: func(ctx context.Context) error { return nil }}
	resilient := NewResilientSegmentationClient(healthy, nil, CircuitBreakerConfig{}, testLogger())

	health := resilient.GetServiceHealth(context.Background())
	require.Len(t, health, 1)
	assert.Equal(t, ServiceTypeSegmentation, health[0].Service)
	assert.True(t, health[0].Healthy)
	assert.Empty(t, health[0].Error)

	unhealthy := &mockSegmentationAPI{healthFunc: func(ctx context.Context) error {
		return fmt.Errorf("dial tcp: connection refused")
	}}
	resilient = NewResilientSegmentationClient(unhealthy, nil, CircuitBreakerConfig{}, testLogger())

	health = resilient.GetServiceHealth(context.Background())
	require.Len(t, health, 1)
	assert.False(t, health[0].Healthy)
	assert.Contains(t, health[0].Error, "connection refused")
}

func TestSegmentationKey_VariesWithOptions(t *testing.T) {
	c := &CacheClient{}
	digest := ImageDigest([]byte("img"))

	keyA := c.segmentationKey(digest, SegmentationOptions{})
	keyB := c.segmentationKey(digest, SegmentationOptions{Diameter: 30.0})

	assert.NotEqual(t, keyA, keyB)
	assert.Contains(t, keyA, digest)
	assert.Contains(t, keyB, digest)
	assert.Equal(t, keyA, c.segmentationKey(digest, SegmentationOptions{}))
}
