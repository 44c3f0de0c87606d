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

// RecommendationRepository persists completed selector runs. Every run
// records the catalog version and the full scored ranking, so any past
// recommendation can be reproduced and audited.
type RecommendationRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRecommendationRepository creates a new recommendation repository
func NewRecommendationRepository(db *pgxpool.Pool, logger *logrus.Logger) *RecommendationRepository {
	return &RecommendationRepository{
		db:  db,
		log: logger,
	}
}

// SaveRun stores one completed recommendation run
func (r *RecommendationRepository) SaveRun(ctx context.Context, run *domain.RecommendationRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshaling run results: %w", err)
	}

	query := `
		INSERT INTO recommendation_runs (
			id, patient_id, snapshot_id, catalog_version, regimen_size, top_n, results, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	var snapshotID *string
	if run.SnapshotID != "" {
		snapshotID = &run.SnapshotID
	}

	_, err = r.db.Exec(ctx, query,
		run.ID,
		run.PatientID,
		snapshotID,
		run.CatalogVersion,
		run.RegimenSize,
		run.TopN,
		results,
		run.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"run_id":     run.ID,
			"patient_id": run.PatientID,
			"error":      err,
		}).Error("Failed to save recommendation run")
		return fmt.Errorf("saving recommendation run: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"run_id":          run.ID,
		"patient_id":      run.PatientID,
		"catalog_version": run.CatalogVersion,
		"results":         len(run.Results),
	}).Info("Recommendation run saved")
	return nil
}

// GetRun retrieves one run by its id
func (r *RecommendationRepository) GetRun(ctx context.Context, id string) (*domain.RecommendationRun, error) {
	query := `
		SELECT id, patient_id, snapshot_id, catalog_version, regimen_size, top_n, results, created_at
		FROM recommendation_runs
		WHERE id = $1`

	run, err := r.scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("recommendation run", id)
		}
		r.log.WithFields(logrus.Fields{
			"run_id": id,
			"error":  err,
		}).Error("Failed to get recommendation run")
		return nil, fmt.Errorf("getting recommendation run: %w", err)
	}
	return run, nil
}

// ListByPatient lists a patient's runs, newest first
func (r *RecommendationRepository) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*domain.RecommendationRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, patient_id, snapshot_id, catalog_version, regimen_size, top_n, results, created_at
		FROM recommendation_runs
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing recommendation runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.RecommendationRun
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recommendation run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recommendation runs: %w", err)
	}
	return runs, nil
}

func (r *RecommendationRepository) scanRun(row pgx.Row) (*domain.RecommendationRun, error) {
	var (
		run        domain.RecommendationRun
		snapshotID *string
		results    []byte
	)

	err := row.Scan(
		&run.ID,
		&run.PatientID,
		&snapshotID,
		&run.CatalogVersion,
		&run.RegimenSize,
		&run.TopN,
		&results,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if snapshotID != nil {
		run.SnapshotID = *snapshotID
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling run results: %w", err)
		}
	}
	return &run, nil
}
