package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oncorec-server/internal/database"
	"github.com/oncorec-server/internal/domain"
)

// generateTestPassword creates a secure random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a default test password if random generation fails
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	ctx := context.Background()

	// Generate secure random password for test database
	testPassword := generateTestPassword()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	// Get connection details
	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := domain.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		Database:        "testdb",
		Username:        "testuser",
		Password:        testPassword,
		MaxConns:        10,
		MinConns:        2,
		ConnMaxLifetime: time.Hour,
		SSLMode:         "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	// Bring up the registry schema from the embedded migrations
	migrationRunner, err := database.NewEmbeddedMigrationRunner(database.URL(config), logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := migrationRunner.Up(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	return db, cleanup
}

func testProfile(patientID string) *domain.PatientProfile {
	age := 64
	ecog := domain.ECOGStatus(1)
	return &domain.PatientProfile{
		PatientID:  patientID,
		Age:        &age,
		Sex:        domain.FEMALE,
		CancerType: domain.COLORECTAL,
		Stage:      domain.STAGE_III,
		ECOG:       &ecog,
		KRAS:       domain.KRAS_WILD_TYPE,
		Morphology: &domain.MorphologySummary{
			TotalCells:    412,
			MeanArea:      287.4,
			MedianArea:    265.0,
			StdDevArea:    96.1,
			MinArea:       54.0,
			MaxArea:       711.0,
			AreaCV:        0.334,
			Heterogeneity: domain.HETEROGENEITY_MODERATE,
		},
	}
}

func TestPatientRepository_CreateAndGetLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewPatientRepository(db.Pool, logrus.New())

	profile := testProfile("PT-0001")
	if err := repo.Create(ctx, profile); err != nil {
		t.Fatalf("Failed to create patient snapshot: %v", err)
	}
	if profile.SnapshotID == "" {
		t.Fatal("Expected Create to assign a snapshot id")
	}

	got, err := repo.GetLatest(ctx, "PT-0001")
	if err != nil {
		t.Fatalf("Failed to get latest snapshot: %v", err)
	}
	if got.SnapshotID != profile.SnapshotID {
		t.Errorf("Expected snapshot %s, got %s", profile.SnapshotID, got.SnapshotID)
	}
	if got.CancerType != domain.COLORECTAL || got.Stage != domain.STAGE_III {
		t.Errorf("Round-tripped enums mismatch: %s %s", got.CancerType, got.Stage)
	}
	if got.Age == nil || *got.Age != 64 {
		t.Errorf("Expected age 64, got %v", got.Age)
	}
	if got.ECOG == nil || *got.ECOG != 1 {
		t.Errorf("Expected ECOG 1, got %v", got.ECOG)
	}
	if got.Morphology == nil || got.Morphology.TotalCells != 412 {
		t.Errorf("Expected morphology to round-trip, got %+v", got.Morphology)
	}
}

func TestPatientRepository_UpdateCreatesNewSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewPatientRepository(db.Pool, logrus.New())

	first := testProfile("PT-0002")
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Failed to create first snapshot: %v", err)
	}

	second := testProfile("PT-0002")
	second.Stage = domain.STAGE_IV
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("Failed to create second snapshot: %v", err)
	}

	if first.SnapshotID == second.SnapshotID {
		t.Fatal("Each update must produce a distinct snapshot id")
	}

	latest, err := repo.GetLatest(ctx, "PT-0002")
	if err != nil {
		t.Fatalf("Failed to get latest snapshot: %v", err)
	}
	if latest.SnapshotID != second.SnapshotID {
		t.Errorf("Expected latest snapshot %s, got %s", second.SnapshotID, latest.SnapshotID)
	}
	if latest.Stage != domain.STAGE_IV {
		t.Errorf("Expected updated stage, got %s", latest.Stage)
	}

	// The original snapshot must remain readable for audit
	original, err := repo.GetSnapshot(ctx, first.SnapshotID)
	if err != nil {
		t.Fatalf("Failed to get original snapshot: %v", err)
	}
	if original.Stage != domain.STAGE_III {
		t.Errorf("Original snapshot mutated: stage %s", original.Stage)
	}

	history, err := repo.History(ctx, "PT-0002", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 snapshots in history, got %d", len(history))
	}
	if history[0].SnapshotID != second.SnapshotID {
		t.Error("History must be newest first")
	}
}

func TestPatientRepository_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewPatientRepository(db.Pool, logrus.New())

	_, err := repo.GetLatest(ctx, "PT-MISSING")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected NotFoundError, got %T", err)
	}
	if notFound.ID != "PT-MISSING" {
		t.Errorf("Expected id PT-MISSING in error, got %s", notFound.ID)
	}

	if err := repo.Delete(ctx, "PT-MISSING"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on delete, got %v", err)
	}
}

func TestPatientRepository_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewPatientRepository(db.Pool, logrus.New())

	profile := testProfile("PT-0003")
	if err := repo.Create(ctx, profile); err != nil {
		t.Fatalf("Failed to create snapshot: %v", err)
	}
	update := testProfile("PT-0003")
	if err := repo.Create(ctx, update); err != nil {
		t.Fatalf("Failed to create update snapshot: %v", err)
	}

	if err := repo.Delete(ctx, "PT-0003"); err != nil {
		t.Fatalf("Failed to delete patient: %v", err)
	}

	if _, err := repo.GetLatest(ctx, "PT-0003"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
