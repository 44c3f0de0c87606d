package domain

import (
	"testing"
)

func TestCancerTypeIsValid(t *testing.T) {
	tests := []struct {
		name  string
		value CancerType
		valid bool
	}{
		{"Colorectal", COLORECTAL, true},
		{"Lung", LUNG, true},
		{"Breast", BREAST, true},
		{"Empty", CancerType(""), false},
		{"Unknown type", CancerType("PANCREATIC"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.IsValid(); got != tt.valid {
				t.Errorf("IsValid(%q) = %v, want %v", tt.value, got, tt.valid)
			}
		})
	}
}

func TestCancerStage(t *testing.T) {
	for _, s := range []CancerStage{STAGE_I, STAGE_II, STAGE_III, STAGE_IV} {
		if !s.IsValid() {
			t.Errorf("stage %q should be valid", s)
		}
		if !s.Known() {
			t.Errorf("stage %q should be known", s)
		}
	}
	if STAGE_UNKNOWN.IsValid() {
		t.Error("unknown stage must not be valid registration input")
	}
	if STAGE_UNKNOWN.Known() {
		t.Error("unknown stage must report Known() == false")
	}
	if STAGE_UNKNOWN.String() != "UNKNOWN" {
		t.Errorf("unknown stage String() = %q", STAGE_UNKNOWN.String())
	}
}

func TestECOGStatusIsValid(t *testing.T) {
	for e := ECOGStatus(0); e <= 5; e++ {
		if !e.IsValid() {
			t.Errorf("ECOG %d should be valid", int(e))
		}
	}
	if ECOGStatus(-1).IsValid() {
		t.Error("ECOG -1 should be invalid")
	}
	if ECOGStatus(6).IsValid() {
		t.Error("ECOG 6 should be invalid")
	}
	if got := ECOGStatus(2).String(); got != "ECOG 2" {
		t.Errorf("String() = %q, want %q", got, "ECOG 2")
	}
}

func TestKRASStatus(t *testing.T) {
	tests := []struct {
		name  string
		value KRASStatus
		valid bool
		known bool
	}{
		{"Wild type", KRAS_WILD_TYPE, true, true},
		{"Mutant", KRAS_MUTANT, true, true},
		{"Unknown", KRAS_UNKNOWN, true, false},
		{"Garbage", KRASStatus("G12C"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
			if got := tt.value.Known(); got != tt.known {
				t.Errorf("Known() = %v, want %v", got, tt.known)
			}
		})
	}
}

func TestConfidenceLevels(t *testing.T) {
	tests := []struct {
		level ConfidenceLevel
		wire  string
		valid bool
	}{
		{CONFIDENCE_HIGH, "HIGH", true},
		{CONFIDENCE_MEDIUM, "MEDIUM", true},
		{CONFIDENCE_LOW, "LOW", true},
		{ConfidenceLevel("High"), "High", false},
		{ConfidenceLevel(""), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			if got := tt.level.String(); got != tt.wire {
				t.Errorf("String() = %q, want %q", got, tt.wire)
			}
			if got := tt.level.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestConfidenceDegrade(t *testing.T) {
	tests := []struct {
		name string
		from ConfidenceLevel
		want ConfidenceLevel
	}{
		{"High to Medium", CONFIDENCE_HIGH, CONFIDENCE_MEDIUM},
		{"Medium to Low", CONFIDENCE_MEDIUM, CONFIDENCE_LOW},
		{"Low stays Low", CONFIDENCE_LOW, CONFIDENCE_LOW},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.Degrade(); got != tt.want {
				t.Errorf("Degrade(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  float64
	}{
		{"Below minimum", -0.5, 0},
		{"At minimum", 0, 0},
		{"In range", 6.4, 6.4},
		{"At maximum", 10, 10},
		{"Above maximum", 14.2, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampScore(tt.input); got != tt.want {
				t.Errorf("ClampScore(%g) = %g, want %g", tt.input, got, tt.want)
			}
		})
	}
}
