// Package feedback provides clinician feedback storage for regimen
// recommendations. It stores agreements, rejections and adjustments to
// support coefficient review and catalog curation.
package feedback

import (
	"context"
	"io"
	"time"
)

// Verdict represents the clinician's decision on a recommended regimen.
type Verdict string

const (
	VerdictAgreed   Verdict = "AGREED"
	VerdictRejected Verdict = "REJECTED"
	VerdictAdjusted Verdict = "ADJUSTED"
)

// IsValid reports whether the verdict is one of the known decisions.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictAgreed, VerdictRejected, VerdictAdjusted:
		return true
	}
	return false
}

// Feedback represents a clinician's verdict on one recommended regimen.
type Feedback struct {
	ID             int64     `json:"id,omitempty"`
	RunID          string    `json:"run_id,omitempty"`          // Recommendation run the regimen came from
	PatientID      string    `json:"patient_id"`                // Patient the regimen was recommended for
	RegimenKey     string    `json:"regimen_key"`               // Canonical drug-id key, e.g. FLUOROURACIL+OXALIPLATIN
	CancerType     string    `json:"cancer_type,omitempty"`     // Clinical context
	SuggestedRank  int       `json:"suggested_rank,omitempty"`  // Rank the selector assigned
	Composite      float64   `json:"composite,omitempty"`       // Composite score at recommendation time
	Verdict        Verdict   `json:"verdict"`                   // Clinician's decision
	AppliedRegimen string    `json:"applied_regimen,omitempty"` // Regimen actually used, for ADJUSTED verdicts
	Notes          string    `json:"notes,omitempty"`           // Clinician notes
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates feedback for a regimen.
	// If feedback for the same patient+regimen exists, it will be updated.
	Save(ctx context.Context, feedback *Feedback) error

	// Get retrieves the feedback for a patient and regimen key.
	Get(ctx context.Context, patientID string, regimenKey string) (*Feedback, error)

	// List returns all feedback entries with pagination.
	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}
