package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/oncorec-server/internal/domain"
)

// SegmentationClient talks to the remote cell segmentation service over HTTP.
type SegmentationClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	maxRetries int
	diameter   float64
	logger     *logrus.Logger
}

// segmentRequest is the JSON body of a segmentation run. encoding/json
// base64-encodes the image bytes.
type segmentRequest struct {
	Image    []byte  `json:"image"`
	Diameter float64 `json:"diameter,omitempty"`
}

// NewSegmentationClient creates a new segmentation service client.
func NewSegmentationClient(config domain.SegmentationConfig, logger *logrus.Logger) *SegmentationClient {
	if logger == nil {
		logger = logrus.New()
	}

	// Set default configuration
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:9500"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 4 // requests per second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}

	return &SegmentationClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		maxRetries: config.MaxRetries,
		diameter:   config.Diameter,
		logger:     logger,
	}
}

// SegmentImage submits an image and returns the per-cell records the model
// found. Transient failures (network errors, 5xx responses) are retried
// with a linear backoff up to the configured retry budget.
func (c *SegmentationClient) SegmentImage(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("segmentation requires a non-empty image")
	}

	diameter := opts.Diameter
	if diameter == 0 {
		diameter = c.diameter
	}

	payload, err := json.Marshal(segmentRequest{Image: image, Diameter: diameter})
	if err != nil {
		return nil, fmt.Errorf("failed to encode segmentation request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/segment", c.baseURL)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
				"error":   lastErr.Error(),
			}).Warn("Retrying segmentation request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, retryable, err := c.doSegment(ctx, url, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("segmentation failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// doSegment performs a single request. The second return value reports
// whether the failure is worth retrying.
func (c *SegmentationClient) doSegment(ctx context.Context, url string, payload []byte) (*SegmentationResult, bool, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("rate limit wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("segmentation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read segmentation response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("segmentation service returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("segmentation request rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result SegmentationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, false, fmt.Errorf("failed to parse segmentation response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"cells":         len(result.Cells),
		"model_version": result.ModelVersion,
		"duration":      time.Since(start),
	}).Debug("Segmentation completed")

	return &result, false, nil
}

// HealthCheck probes the service health endpoint.
func (c *SegmentationClient) HealthCheck(ctx context.Context) error {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("segmentation health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("segmentation service health check returned status %d", resp.StatusCode)
	}

	return nil
}
