package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/domain"
)

// PatientRepository handles patient snapshot persistence. Snapshots are
// immutable: registration and update both insert a new row, and reads always
// resolve against a specific snapshot, preserving the audit trail.
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

const patientColumns = `snapshot_id, patient_id, age, sex, cancer_type, stage, ecog, kras, kras_variant, morphology, created_at`

// Create inserts a new snapshot for the patient. A missing snapshot id or
// creation time is assigned here.
func (r *PatientRepository) Create(ctx context.Context, profile *domain.PatientProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if profile.SnapshotID == "" {
		profile.SnapshotID = uuid.New().String()
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}

	var morphology []byte
	if profile.Morphology != nil {
		data, err := json.Marshal(profile.Morphology)
		if err != nil {
			return fmt.Errorf("marshaling morphology summary: %w", err)
		}
		morphology = data
	}

	var ecog *int
	if profile.ECOG != nil {
		v := int(*profile.ECOG)
		ecog = &v
	}

	query := `
		INSERT INTO patient_snapshots (
			snapshot_id, patient_id, age, sex, cancer_type, stage,
			ecog, kras, kras_variant, morphology, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := r.db.Exec(ctx, query,
		profile.SnapshotID,
		profile.PatientID,
		profile.Age,
		string(profile.Sex),
		string(profile.CancerType),
		string(profile.Stage),
		ecog,
		string(profile.KRASOrUnknown()),
		profile.KRASVariant,
		morphology,
		profile.CreatedAt,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id":  profile.PatientID,
			"snapshot_id": profile.SnapshotID,
			"error":       err,
		}).Error("Failed to create patient snapshot")
		return fmt.Errorf("creating patient snapshot: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id":  profile.PatientID,
		"snapshot_id": profile.SnapshotID,
		"cancer_type": profile.CancerType,
	}).Info("Patient snapshot created")

	return nil
}

// GetLatest retrieves the most recent snapshot for a patient
func (r *PatientRepository) GetLatest(ctx context.Context, patientID string) (*domain.PatientProfile, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM patient_snapshots
		WHERE patient_id = $1
		ORDER BY seq DESC
		LIMIT 1`, patientColumns)

	profile, err := r.scanProfile(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("patient", patientID)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get latest patient snapshot")
		return nil, fmt.Errorf("getting latest patient snapshot: %w", err)
	}
	return profile, nil
}

// GetSnapshot retrieves one specific snapshot by its id
func (r *PatientRepository) GetSnapshot(ctx context.Context, snapshotID string) (*domain.PatientProfile, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM patient_snapshots
		WHERE snapshot_id = $1`, patientColumns)

	profile, err := r.scanProfile(r.db.QueryRow(ctx, query, snapshotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("patient snapshot", snapshotID)
		}
		r.log.WithFields(logrus.Fields{
			"snapshot_id": snapshotID,
			"error":       err,
		}).Error("Failed to get patient snapshot")
		return nil, fmt.Errorf("getting patient snapshot: %w", err)
	}
	return profile, nil
}

// History lists a patient's snapshots, newest first
func (r *PatientRepository) History(ctx context.Context, patientID string, limit, offset int) ([]*domain.PatientProfile, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM patient_snapshots
		WHERE patient_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`, patientColumns)

	rows, err := r.db.Query(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing patient snapshots: %w", err)
	}
	defer rows.Close()

	var profiles []*domain.PatientProfile
	for rows.Next() {
		profile, err := r.scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patient snapshot: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patient snapshots: %w", err)
	}
	return profiles, nil
}

// Delete removes a patient and every snapshot on file
func (r *PatientRepository) Delete(ctx context.Context, patientID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patient_snapshots WHERE patient_id = $1`, patientID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to delete patient")
		return fmt.Errorf("deleting patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("patient", patientID)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"snapshots":  tag.RowsAffected(),
	}).Info("Patient deleted")
	return nil
}

// scanProfile maps one snapshot row onto the domain profile.
func (r *PatientRepository) scanProfile(row pgx.Row) (*domain.PatientProfile, error) {
	var (
		profile    domain.PatientProfile
		sex        string
		cancerType string
		stage      string
		ecog       *int
		kras       string
		morphology []byte
	)

	err := row.Scan(
		&profile.SnapshotID,
		&profile.PatientID,
		&profile.Age,
		&sex,
		&cancerType,
		&stage,
		&ecog,
		&kras,
		&profile.KRASVariant,
		&morphology,
		&profile.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	profile.Sex = domain.Sex(sex)
	profile.CancerType = domain.CancerType(cancerType)
	profile.Stage = domain.CancerStage(stage)
	profile.KRAS = domain.KRASStatus(kras)
	if ecog != nil {
		v := domain.ECOGStatus(*ecog)
		profile.ECOG = &v
	}
	if len(morphology) > 0 {
		var summary domain.MorphologySummary
		if err := json.Unmarshal(morphology, &summary); err != nil {
			return nil, fmt.Errorf("unmarshaling morphology summary: %w", err)
		}
		profile.Morphology = &summary
	}
	return &profile, nil
}
