// Package external contains clients for the remote services the
// recommendation server depends on, currently the cell segmentation
// service that turns culture images into per-cell measurements.
package external

import (
	"context"
	"time"

	"github.com/oncorec-server/internal/domain"
)

// SegmentationAPI defines the interface to the remote segmentation service.
type SegmentationAPI interface {
	// SegmentImage submits an image and returns per-cell records.
	SegmentImage(ctx context.Context, image []byte, opts SegmentationOptions) (*SegmentationResult, error)

	// HealthCheck probes service reachability.
	HealthCheck(ctx context.Context) error
}

// SegmentationOptions carries per-request model hints.
type SegmentationOptions struct {
	// Diameter is the expected cell diameter in pixels. Zero lets the
	// service estimate it from the image itself.
	Diameter float64 `json:"diameter,omitempty"`
}

// SegmentationResult is the parsed response of one segmentation run.
type SegmentationResult struct {
	Cells        []domain.CellRecord `json:"cells"`
	ImageWidth   int                 `json:"image_width"`
	ImageHeight  int                 `json:"image_height"`
	ModelVersion string              `json:"model_version"`
	ElapsedMS    int64               `json:"elapsed_ms"`
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `json:"max_requests"`
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	FailureThreshold uint32        `json:"failure_threshold"`
}

// ExternalServiceType identifies a remote dependency in health reports.
type ExternalServiceType string

const (
	ServiceTypeSegmentation ExternalServiceType = "segmentation"
)

// ServiceHealth represents the health status of an external service.
type ServiceHealth struct {
	Service   ExternalServiceType `json:"service"`
	Healthy   bool                `json:"healthy"`
	LastCheck time.Time           `json:"last_check"`
	Error     string              `json:"error,omitempty"`
}
