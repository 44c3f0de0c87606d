package feedback

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	// Create temp directory
	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	// Act
	store, err := NewSQLiteStore(dbPath)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	// Verify database file was created
	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_Save(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	feedback := &Feedback{
		RunID:         "8ad2e1c0-9c25-4be2-9c46-000000000001",
		PatientID:     "PT-1001",
		RegimenKey:    "FLUOROURACIL+OXALIPLATIN",
		CancerType:    "COLORECTAL",
		SuggestedRank: 1,
		Composite:     3.42,
		Verdict:       VerdictAgreed,
		Notes:         "Standard FOLFOX backbone, tolerated in prior line",
	}

	// Act
	err := store.Save(ctx, feedback)

	// Assert
	require.NoError(t, err)
	assert.NotZero(t, feedback.ID, "ID should be assigned")
	assert.False(t, feedback.CreatedAt.IsZero(), "CreatedAt should be set")
	assert.False(t, feedback.UpdatedAt.IsZero(), "UpdatedAt should be set")
}

func TestSQLiteStore_Save_Update(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Save initial feedback
	feedback := &Feedback{
		PatientID:     "PT-1001",
		RegimenKey:    "FLUOROURACIL+OXALIPLATIN",
		CancerType:    "COLORECTAL",
		SuggestedRank: 1,
		Verdict:       VerdictAgreed,
	}
	err := store.Save(ctx, feedback)
	require.NoError(t, err)
	originalID := feedback.ID

	// Update with same patient + regimen
	feedback.Verdict = VerdictAdjusted
	feedback.AppliedRegimen = "FLUOROURACIL+IRINOTECAN"
	feedback.Notes = "Switched after neuropathy"

	err = store.Save(ctx, feedback)
	require.NoError(t, err)

	// Assert - should update, not create new
	assert.Equal(t, originalID, feedback.ID, "Should update existing record")

	// Verify update
	retrieved, err := store.Get(ctx, "PT-1001", "FLUOROURACIL+OXALIPLATIN")
	require.NoError(t, err)
	assert.Equal(t, VerdictAdjusted, retrieved.Verdict)
	assert.Equal(t, "FLUOROURACIL+IRINOTECAN", retrieved.AppliedRegimen)
	assert.Equal(t, "Switched after neuropathy", retrieved.Notes)
}

func TestSQLiteStore_Get(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Save feedback
	feedback := &Feedback{
		PatientID:  "PT-2002",
		RegimenKey: "CISPLATIN+PEMBROLIZUMAB",
		CancerType: "LUNG",
		Verdict:    VerdictAgreed,
	}
	err := store.Save(ctx, feedback)
	require.NoError(t, err)

	// Act
	retrieved, err := store.Get(ctx, "PT-2002", "CISPLATIN+PEMBROLIZUMAB")

	// Assert
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, feedback.RegimenKey, retrieved.RegimenKey)
	assert.Equal(t, feedback.Verdict, retrieved.Verdict)
}

func TestSQLiteStore_Get_PerPatient(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Save the same regimen for two different patients
	first := &Feedback{
		PatientID:  "PT-3001",
		RegimenKey: "DOXORUBICIN+PACLITAXEL",
		CancerType: "BREAST",
		Verdict:    VerdictAgreed,
	}
	require.NoError(t, store.Save(ctx, first))

	second := &Feedback{
		PatientID:  "PT-3002",
		RegimenKey: "DOXORUBICIN+PACLITAXEL",
		CancerType: "BREAST",
		Verdict:    VerdictRejected,
		Notes:      "Cardiac history",
	}
	require.NoError(t, store.Save(ctx, second))

	// Each patient keeps an independent verdict
	got1, err := store.Get(ctx, "PT-3001", "DOXORUBICIN+PACLITAXEL")
	require.NoError(t, err)
	require.NotNil(t, got1)
	assert.Equal(t, VerdictAgreed, got1.Verdict)

	got2, err := store.Get(ctx, "PT-3002", "DOXORUBICIN+PACLITAXEL")
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, VerdictRejected, got2.Verdict)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	retrieved, err := store.Get(context.Background(), "PT-NONE", "GEMCITABINE")

	require.NoError(t, err)
	assert.Nil(t, retrieved, "Missing feedback should return nil, not an error")
}

func TestSQLiteStore_List(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	regimens := []string{"FLUOROURACIL+OXALIPLATIN", "FLUOROURACIL+IRINOTECAN", "BEVACIZUMAB+FLUOROURACIL"}
	for i, key := range regimens {
		fb := &Feedback{
			PatientID:     "PT-4001",
			RegimenKey:    key,
			CancerType:    "COLORECTAL",
			SuggestedRank: i + 1,
			Verdict:       VerdictAgreed,
		}
		require.NoError(t, store.Save(ctx, fb))
	}

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestSQLiteStore_Count(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.Save(ctx, &Feedback{
		PatientID:  "PT-5001",
		RegimenKey: "GEMCITABINE+PACLITAXEL",
		Verdict:    VerdictAgreed,
	}))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	fb := &Feedback{
		PatientID:  "PT-6001",
		RegimenKey: "CISPLATIN+GEMCITABINE",
		Verdict:    VerdictRejected,
	}
	require.NoError(t, store.Save(ctx, fb))

	require.NoError(t, store.Delete(ctx, fb.ID))

	retrieved, err := store.Get(ctx, "PT-6001", "CISPLATIN+GEMCITABINE")
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteStore_ExportImportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	entries := []*Feedback{
		{
			PatientID:     "PT-7001",
			RegimenKey:    "FLUOROURACIL+OXALIPLATIN",
			CancerType:    "COLORECTAL",
			SuggestedRank: 1,
			Verdict:       VerdictAgreed,
		},
		{
			PatientID:      "PT-7001",
			RegimenKey:     "CETUXIMAB+FLUOROURACIL",
			CancerType:     "COLORECTAL",
			SuggestedRank:  2,
			Verdict:        VerdictAdjusted,
			AppliedRegimen: "CETUXIMAB+IRINOTECAN",
		},
	}
	for _, fb := range entries {
		require.NoError(t, store.Save(ctx, fb))
	}

	// Export
	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))
	assert.Contains(t, buf.String(), "CETUXIMAB+FLUOROURACIL")
	assert.Contains(t, buf.String(), `"version": "1.0"`)

	// Import into a fresh store: everything lands
	fresh := createTestStore(t)
	defer fresh.Close()

	imported, skipped, err := fresh.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Zero(t, skipped)

	// Import again: existing entries are skipped
	imported, skipped, err = fresh.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Zero(t, imported)
	assert.Equal(t, 2, skipped)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &Feedback{
		PatientID:  "PT-8001",
		RegimenKey: "PEMBROLIZUMAB",
		Verdict:    VerdictAgreed,
	}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	retrieved, err := reopened.Get(ctx, "PT-8001", "PEMBROLIZUMAB")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, VerdictAgreed, retrieved.Verdict)
}
