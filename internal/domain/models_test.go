package domain

import (
	"errors"
	"testing"
)

func TestNewRegimen(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
		wantKey string
	}{
		{"Single drug", []string{"CISPLATIN"}, false, "CISPLATIN"},
		{"Doublet sorted on build", []string{"PACLITAXEL", "CISPLATIN"}, false, "CISPLATIN+PACLITAXEL"},
		{"Triplet", []string{"GEMCITABINE", "CISPLATIN", "PACLITAXEL"}, false, "CISPLATIN+GEMCITABINE+PACLITAXEL"},
		{"Empty", nil, true, ""},
		{"Four drugs", []string{"A", "B", "C", "D"}, true, ""},
		{"Duplicate drug", []string{"CISPLATIN", "CISPLATIN"}, true, ""},
		{"Empty id", []string{"CISPLATIN", ""}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegimen(tt.ids...)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewRegimen(%v) expected error", tt.ids)
				}
				if !errors.Is(err, ErrInvalidRegimen) {
					t.Errorf("error %v should wrap ErrInvalidRegimen", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRegimen(%v) unexpected error: %v", tt.ids, err)
			}
			if r.Key() != tt.wantKey {
				t.Errorf("Key() = %q, want %q", r.Key(), tt.wantKey)
			}
		})
	}
}

func TestRegimenPairs(t *testing.T) {
	single, _ := NewRegimen("CISPLATIN")
	if pairs := single.Pairs(); pairs != nil {
		t.Errorf("single-drug regimen has %d pairs, want none", len(pairs))
	}

	triplet, _ := NewRegimen("C", "A", "B")
	pairs := triplet.Pairs()
	want := [][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d = %v, want %v", i, pairs[i], want[i])
		}
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("OXALIPLATIN", "FLUOROURACIL") != PairKey("FLUOROURACIL", "OXALIPLATIN") {
		t.Error("PairKey must not depend on argument order")
	}
	if got := PairKey("B", "A"); got != "A+B" {
		t.Errorf("PairKey = %q, want %q", got, "A+B")
	}
}

func TestDrugValidate(t *testing.T) {
	valid := Drug{ID: "CISPLATIN", Name: "Cisplatin", Class: CYTOTOXIC, Efficacy: 6.2, Toxicity: 5.0}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid drug rejected: %v", err)
	}

	tests := []struct {
		name string
		drug Drug
	}{
		{"Missing id", Drug{Class: CYTOTOXIC, Efficacy: 5, Toxicity: 5}},
		{"Bad class", Drug{ID: "X", Class: DrugClass("HERBAL"), Efficacy: 5, Toxicity: 5}},
		{"Efficacy too high", Drug{ID: "X", Class: CYTOTOXIC, Efficacy: 10.5, Toxicity: 5}},
		{"Negative toxicity", Drug{ID: "X", Class: CYTOTOXIC, Efficacy: 5, Toxicity: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.drug.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPatientProfileValidate(t *testing.T) {
	age := 64
	ecog := ECOGStatus(1)

	valid := PatientProfile{
		PatientID:  "PT-0001",
		Age:        &age,
		Sex:        FEMALE,
		CancerType: COLORECTAL,
		Stage:      STAGE_III,
		ECOG:       &ecog,
		KRAS:       KRAS_WILD_TYPE,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}

	// Missing optional covariates must validate; they only degrade
	// confidence downstream.
	sparse := PatientProfile{PatientID: "PT-0002", CancerType: LUNG}
	if err := sparse.Validate(); err != nil {
		t.Fatalf("sparse profile rejected: %v", err)
	}

	badAge := 140
	badECOG := ECOGStatus(7)
	tests := []struct {
		name    string
		profile PatientProfile
		sentinel error
	}{
		{"Missing patient id", PatientProfile{CancerType: LUNG}, ErrInvalidRequest},
		{"Missing cancer type", PatientProfile{PatientID: "PT-1"}, ErrInvalidCancerType},
		{"Unsupported cancer type", PatientProfile{PatientID: "PT-1", CancerType: "GLIOMA"}, ErrInvalidCancerType},
		{"Stage out of range", PatientProfile{PatientID: "PT-1", CancerType: LUNG, Stage: "V"}, ErrInvalidCancerStage},
		{"Age out of range", PatientProfile{PatientID: "PT-1", CancerType: LUNG, Age: &badAge}, ErrInvalidRequest},
		{"ECOG out of range", PatientProfile{PatientID: "PT-1", CancerType: LUNG, ECOG: &badECOG}, ErrInvalidECOGStatus},
		{"Bad KRAS", PatientProfile{PatientID: "PT-1", CancerType: LUNG, KRAS: "POSITIVE"}, ErrInvalidKRASStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v should wrap %v", err, tt.sentinel)
			}
		})
	}
}

func TestRecommendationRequestValidate(t *testing.T) {
	base := PatientProfile{PatientID: "PT-1", CancerType: BREAST}

	tests := []struct {
		name    string
		req     RecommendationRequest
		wantErr bool
	}{
		{"Valid doublet request", RecommendationRequest{Patient: base, RegimenSize: 2, TopN: 5}, false},
		{"Size zero", RecommendationRequest{Patient: base, RegimenSize: 0, TopN: 5}, true},
		{"Size four", RecommendationRequest{Patient: base, RegimenSize: 4, TopN: 5}, true},
		{"TopN zero", RecommendationRequest{Patient: base, RegimenSize: 2, TopN: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error %v should wrap ErrInvalidRequest", err)
			}
		})
	}

	// ECOG 5 is storable but not recommendable.
	deceased := ECOGStatus(5)
	req := RecommendationRequest{
		Patient:     PatientProfile{PatientID: "PT-1", CancerType: BREAST, ECOG: &deceased},
		RegimenSize: 1,
		TopN:        3,
	}
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ECOG 5 request: got %v, want ErrInvalidRequest", err)
	}
}

func TestInteractionEntryAppliesTo(t *testing.T) {
	unrestricted := InteractionEntry{DrugA: "A", DrugB: "B", Synergy: 1.0}
	if !unrestricted.AppliesTo(LUNG) || !unrestricted.AppliesTo(BREAST) {
		t.Error("entry without type restriction must apply to all types")
	}

	restricted := InteractionEntry{DrugA: "A", DrugB: "B", CancerTypes: []CancerType{COLORECTAL}}
	if !restricted.AppliesTo(COLORECTAL) {
		t.Error("entry must apply to its listed type")
	}
	if restricted.AppliesTo(LUNG) {
		t.Error("entry must not apply outside its listed types")
	}
}

func TestNotFoundErrorWrapsSentinel(t *testing.T) {
	err := NewNotFoundError("drug", "MYSTERY")
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError must wrap ErrNotFound")
	}
	if err.Error() != `drug "MYSTERY" not found` {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
