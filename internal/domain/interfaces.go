package domain

import (
	"context"
)

// Recommender is the single source of ranking truth. Serving layers expose
// these two operations and never compute scores themselves.
type Recommender interface {
	// Recommend enumerates, scores and ranks candidate regimens for the
	// patient, returning the top N in deterministic order.
	Recommend(ctx context.Context, req *RecommendationRequest) ([]ScoredRegimen, error)

	// ScoreRegimen scores one explicit regimen for the patient.
	ScoreRegimen(ctx context.Context, regimen Regimen, patient PatientProfile) (*ScoredRegimen, error)
}

// ImageAnalyzer is the narrow interface to the external segmentation
// collaborator: image in, cell records or failure out. The scoring core has
// no dependency on model loading, batching or hardware acceleration.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte) ([]CellRecord, error)
}

// PatientRepository persists immutable patient profile snapshots.
type PatientRepository interface {
	// Create stores a new snapshot. Registration and update both go through
	// Create; an update is a new snapshot for an existing patient id.
	Create(ctx context.Context, profile *PatientProfile) error

	// GetLatest returns the most recent snapshot for a patient id.
	GetLatest(ctx context.Context, patientID string) (*PatientProfile, error)

	// GetSnapshot returns one specific snapshot by snapshot id.
	GetSnapshot(ctx context.Context, snapshotID string) (*PatientProfile, error)

	// History lists snapshots for a patient, newest first.
	History(ctx context.Context, patientID string, limit, offset int) ([]*PatientProfile, error)

	// Delete removes a patient and all snapshots.
	Delete(ctx context.Context, patientID string) error
}

// RecommendationRepository persists selector runs for audit.
type RecommendationRepository interface {
	SaveRun(ctx context.Context, run *RecommendationRun) error
	GetRun(ctx context.Context, id string) (*RecommendationRun, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*RecommendationRun, error)
}

// ConfigManager defines the interface for configuration management.
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetScoringConfig() *ScoringConfig
	Validate() error
}
