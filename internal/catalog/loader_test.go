package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoaderFallsBackToSeed(t *testing.T) {
	loader := NewLoader("", testLogger())
	snap, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Version() != SeedVersion {
		t.Errorf("version = %q, want seed version", snap.Version())
	}
}

func TestLoaderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	payload := `{
		"version": "2025-03",
		"drugs": [
			{"id": "A", "name": "Drug A", "class": "CYTOTOXIC", "efficacy": 5.0, "toxicity": 3.0},
			{"id": "B", "name": "Drug B", "class": "TARGETED", "efficacy": 6.0, "toxicity": 2.0}
		],
		"interactions": [
			{"drug_a": "A", "drug_b": "B", "synergy": 0.8, "evidence": "local registry"}
		]
	}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	snap, err := NewLoader(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Version() != "2025-03" {
		t.Errorf("version = %q, want 2025-03", snap.Version())
	}
	if snap.Len() != 2 {
		t.Errorf("drugs = %d, want 2", snap.Len())
	}
}

func TestLoaderStampsUnversionedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	payload := `{"drugs": [{"id": "A", "name": "Drug A", "class": "CYTOTOXIC", "efficacy": 5.0, "toxicity": 3.0}]}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	snap, err := NewLoader(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.HasPrefix(snap.Version(), "sha-") {
		t.Errorf("unversioned file should get a digest stamp, got %q", snap.Version())
	}

	// Same bytes, same stamp: reproducible audit records.
	again, err := NewLoader(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if again.Version() != snap.Version() {
		t.Errorf("digest stamp not stable: %q vs %q", again.Version(), snap.Version())
	}
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing file", func(t *testing.T) {
		if _, err := NewLoader(filepath.Join(dir, "absent.json"), testLogger()).Load(); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		if _, err := NewLoader(path, testLogger()).Load(); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})

	t.Run("Invalid reference data", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.json")
		payload := `{"version": "x", "drugs": [{"id": "A", "class": "CYTOTOXIC", "efficacy": 25.0, "toxicity": 3.0}]}`
		if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		if _, err := NewLoader(path, testLogger()).Load(); err == nil {
			t.Error("expected error for out-of-bound efficacy")
		}
	})
}
