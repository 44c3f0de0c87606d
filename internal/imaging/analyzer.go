package imaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/pkg/external"
)

// AnalysisServiceConfig tunes job tracking.
type AnalysisServiceConfig struct {
	// JobTimeout bounds one background segmentation run.
	JobTimeout time.Duration `json:"job_timeout"`

	// MaxJobs caps retained job records; the oldest finished jobs are
	// pruned first.
	MaxJobs int `json:"max_jobs"`
}

// AnalysisService runs segmentation and tracks analysis jobs. It serves two
// paths: a synchronous AnalyzeImage for callers that need cell records
// inline, and Submit/GetJob for long-running analyses with progress events.
type AnalysisService struct {
	segmenter external.SegmentationAPI
	hub       *ProgressHub
	logger    *logrus.Logger

	jobTimeout time.Duration
	maxJobs    int

	mu       sync.RWMutex
	jobs     map[string]*domain.AnalysisJob
	jobOrder []string
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(segmenter external.SegmentationAPI, config AnalysisServiceConfig, logger *logrus.Logger) *AnalysisService {
	if logger == nil {
		logger = logrus.New()
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if config.MaxJobs == 0 {
		config.MaxJobs = 500
	}

	return &AnalysisService{
		segmenter:  segmenter,
		hub:        NewProgressHub(),
		logger:     logger,
		jobTimeout: config.JobTimeout,
		maxJobs:    config.MaxJobs,
		jobs:       make(map[string]*domain.AnalysisJob),
	}
}

// AnalyzeImage runs segmentation synchronously and returns the cell
// records. A failure is reported as an analysis failure; callers degrade
// to scoring without the morphology covariate.
func (s *AnalysisService) AnalyzeImage(ctx context.Context, image []byte) ([]domain.CellRecord, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrAnalysisFailed)
	}

	result, err := s.segmenter.SegmentImage(ctx, image, external.SegmentationOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAnalysisFailed, err)
	}

	return result.Cells, nil
}

// Summarize exposes morphology aggregation on the service for callers that
// hold cell records without image dimensions.
func (s *AnalysisService) Summarize(cells []domain.CellRecord) domain.MorphologySummary {
	return Summarize(cells, 0, 0)
}

// Submit registers an analysis job and runs segmentation in the
// background. The returned job is a snapshot in PENDING state; progress is
// observable via GetJob or Subscribe.
func (s *AnalysisService) Submit(ctx context.Context, image []byte) (*domain.AnalysisJob, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrInvalidRequest)
	}

	now := time.Now().UTC()
	job := &domain.AnalysisJob{
		ID:          uuid.New().String(),
		ImageDigest: external.ImageDigest(image),
		Status:      domain.ANALYSIS_PENDING,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.jobOrder = append(s.jobOrder, job.ID)
	s.pruneLocked()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"job_id":       job.ID,
		"image_digest": job.ImageDigest,
		"image_bytes":  len(image),
	}).Info("Analysis job submitted")

	s.publish(job)

	// Snapshot before the worker starts: run mutates the tracked job under
	// the lock, and this copy happens outside it.
	snapshot := *job
	go s.run(job.ID, image)

	return &snapshot, nil
}

// GetJob returns a snapshot of a tracked job.
func (s *AnalysisService) GetJob(id string) (*domain.AnalysisJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: analysis job %s", domain.ErrNotFound, id)
	}

	snapshot := *job
	return &snapshot, nil
}

// Subscribe streams progress events for a job. The returned cancel func
// must be called when the consumer is done.
func (s *AnalysisService) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	return s.hub.Subscribe(jobID)
}

// run drives one job to completion. The request context is gone by the
// time this executes, so the run gets its own timeout.
func (s *AnalysisService) run(jobID string, image []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	s.transition(jobID, func(job *domain.AnalysisJob) {
		job.Status = domain.ANALYSIS_RUNNING
	})

	result, err := s.segmenter.SegmentImage(ctx, image, external.SegmentationOptions{})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"error":  err.Error(),
		}).Warn("Analysis job failed")

		s.transition(jobID, func(job *domain.AnalysisJob) {
			job.Status = domain.ANALYSIS_FAILED
			job.Error = err.Error()
		})
		return
	}

	summary := Summarize(result.Cells, result.ImageWidth, result.ImageHeight)

	s.transition(jobID, func(job *domain.AnalysisJob) {
		job.Status = domain.ANALYSIS_COMPLETED
		job.Cells = result.Cells
		job.Summary = &summary
	})

	s.logger.WithFields(logrus.Fields{
		"job_id":        jobID,
		"total_cells":   summary.TotalCells,
		"heterogeneity": summary.Heterogeneity,
		"model_version": result.ModelVersion,
	}).Info("Analysis job completed")
}

// transition applies a mutation to a job under lock and publishes the
// resulting state.
func (s *AnalysisService) transition(jobID string, mutate func(*domain.AnalysisJob)) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	snapshot := *job
	s.mu.Unlock()

	s.publish(&snapshot)
}

func (s *AnalysisService) publish(job *domain.AnalysisJob) {
	event := ProgressEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Error:     job.Error,
		Timestamp: job.UpdatedAt,
	}
	if job.Summary != nil {
		event.TotalCells = job.Summary.TotalCells
	}

	s.hub.Publish(event)

	if job.Status == domain.ANALYSIS_COMPLETED || job.Status == domain.ANALYSIS_FAILED {
		s.hub.CloseJob(job.ID)
	}
}

// pruneLocked drops the oldest finished jobs over the retention cap.
// Caller holds s.mu.
func (s *AnalysisService) pruneLocked() {
	if len(s.jobOrder) <= s.maxJobs {
		return
	}

	kept := s.jobOrder[:0]
	excess := len(s.jobOrder) - s.maxJobs
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		if excess > 0 && job != nil &&
			(job.Status == domain.ANALYSIS_COMPLETED || job.Status == domain.ANALYSIS_FAILED) {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.jobOrder = kept
}
