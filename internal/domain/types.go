// Package domain contains the core business entities and types for anticancer
// combination therapy recommendation: drugs, patient profiles, regimens and
// their derived scores.
//
// Performance status follows the ECOG scale (Oken et al. 1982, Am J Clin
// Oncol 5(6):649-55). Efficacy and toxicity values live on a bounded 0-10
// scale; every adjustment clamps back into that range.
package domain

import (
	"errors"
	"fmt"
)

// Score bounds for drug efficacy and toxicity. Adjustments clamp into this
// range after every step, they never wrap.
const (
	ScoreMin = 0.0
	ScoreMax = 10.0
)

// RegimenMinSize and RegimenMaxSize bound the number of distinct drugs in a
// candidate regimen.
const (
	RegimenMinSize = 1
	RegimenMaxSize = 3
)

// CancerType represents the primary tumor type a recommendation targets.
type CancerType string

const (
	COLORECTAL CancerType = "COLORECTAL"
	LUNG       CancerType = "LUNG"
	BREAST     CancerType = "BREAST"
)

// CancerStage represents the clinical stage of disease (AJCC I-IV).
type CancerStage string

const (
	STAGE_I   CancerStage = "I"
	STAGE_II  CancerStage = "II"
	STAGE_III CancerStage = "III"
	STAGE_IV  CancerStage = "IV"
	// STAGE_UNKNOWN marks a missing staging covariate; the adjuster treats it
	// as an identity adjustment and degrades confidence.
	STAGE_UNKNOWN CancerStage = ""
)

// Sex represents patient sex as recorded at registration.
type Sex string

const (
	MALE        Sex = "MALE"
	FEMALE      Sex = "FEMALE"
	UNSPECIFIED Sex = "UNSPECIFIED"
)

// ECOGStatus is the ECOG performance status, 0 (fully active) through
// 5 (deceased).
type ECOGStatus int

// KRASStatus represents the KRAS mutation status used to gate anti-EGFR
// agents.
type KRASStatus string

const (
	KRAS_WILD_TYPE KRASStatus = "WILD_TYPE"
	KRAS_MUTANT    KRASStatus = "MUTANT"
	KRAS_UNKNOWN   KRASStatus = "UNKNOWN"
)

// DrugClass represents the broad mechanism class of an agent.
type DrugClass string

const (
	CYTOTOXIC     DrugClass = "CYTOTOXIC"
	TARGETED      DrugClass = "TARGETED"
	IMMUNOTHERAPY DrugClass = "IMMUNOTHERAPY"
)

// HeterogeneityLevel grades tumor morphology heterogeneity derived from
// segmented cell areas.
type HeterogeneityLevel string

const (
	HETEROGENEITY_LOW      HeterogeneityLevel = "LOW"
	HETEROGENEITY_MODERATE HeterogeneityLevel = "MODERATE"
	HETEROGENEITY_HIGH     HeterogeneityLevel = "HIGH"
)

// ConfidenceLevel represents the confidence in a scored regimen. Missing
// covariates and unknown drug pairs degrade confidence, they never fail a
// recommendation.
type ConfidenceLevel string

const (
	CONFIDENCE_HIGH   ConfidenceLevel = "HIGH"
	CONFIDENCE_MEDIUM ConfidenceLevel = "MEDIUM"
	CONFIDENCE_LOW    ConfidenceLevel = "LOW"
)

// Validation errors for clinical data integrity
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidCancerType  = errors.New("invalid cancer type")
	ErrInvalidCancerStage = errors.New("invalid cancer stage")
	ErrInvalidECOGStatus  = errors.New("invalid ECOG performance status")
	ErrInvalidKRASStatus  = errors.New("invalid KRAS status")
	ErrInvalidRegimen     = errors.New("invalid regimen")
	ErrAnalysisFailed     = errors.New("image analysis failed")
)

// IsValid reports whether the cancer type is one of the supported primaries.
func (c CancerType) IsValid() bool {
	switch c {
	case COLORECTAL, LUNG, BREAST:
		return true
	default:
		return false
	}
}

// String returns the string representation of the cancer type.
func (c CancerType) String() string {
	return string(c)
}

// IsValid reports whether the stage is a known AJCC stage. The unknown stage
// is not valid input for registration but is tolerated by the adjuster.
func (s CancerStage) IsValid() bool {
	switch s {
	case STAGE_I, STAGE_II, STAGE_III, STAGE_IV:
		return true
	default:
		return false
	}
}

// Known reports whether a staging covariate is present.
func (s CancerStage) Known() bool {
	return s != STAGE_UNKNOWN
}

// String returns the string representation of the stage.
func (s CancerStage) String() string {
	if s == STAGE_UNKNOWN {
		return "UNKNOWN"
	}
	return string(s)
}

// IsValid reports whether the sex value is one of the accepted codes.
func (s Sex) IsValid() bool {
	switch s {
	case MALE, FEMALE, UNSPECIFIED:
		return true
	default:
		return false
	}
}

// IsValid reports whether the ECOG status lies on the 0-5 scale.
func (e ECOGStatus) IsValid() bool {
	return e >= 0 && e <= 5
}

// String returns the conventional short form, e.g. "ECOG 2".
func (e ECOGStatus) String() string {
	return fmt.Sprintf("ECOG %d", int(e))
}

// IsValid reports whether the KRAS status is a known code.
func (k KRASStatus) IsValid() bool {
	switch k {
	case KRAS_WILD_TYPE, KRAS_MUTANT, KRAS_UNKNOWN:
		return true
	default:
		return false
	}
}

// Known reports whether mutation testing produced a definite result.
func (k KRASStatus) Known() bool {
	return k == KRAS_WILD_TYPE || k == KRAS_MUTANT
}

// String returns the string representation of the KRAS status.
func (k KRASStatus) String() string {
	return string(k)
}

// IsValid reports whether the drug class is a known mechanism class.
func (d DrugClass) IsValid() bool {
	switch d {
	case CYTOTOXIC, TARGETED, IMMUNOTHERAPY:
		return true
	default:
		return false
	}
}

// IsValid reports whether the heterogeneity level is a known grade.
func (h HeterogeneityLevel) IsValid() bool {
	switch h {
	case HETEROGENEITY_LOW, HETEROGENEITY_MODERATE, HETEROGENEITY_HIGH:
		return true
	default:
		return false
	}
}

// IsValid reports whether the confidence level is a known grade.
func (c ConfidenceLevel) IsValid() bool {
	switch c {
	case CONFIDENCE_HIGH, CONFIDENCE_MEDIUM, CONFIDENCE_LOW:
		return true
	default:
		return false
	}
}

// String returns the string representation of the confidence level.
func (c ConfidenceLevel) String() string {
	return string(c)
}

// Degrade lowers a confidence level by one grade. LOW stays LOW.
func (c ConfidenceLevel) Degrade() ConfidenceLevel {
	switch c {
	case CONFIDENCE_HIGH:
		return CONFIDENCE_MEDIUM
	case CONFIDENCE_MEDIUM:
		return CONFIDENCE_LOW
	default:
		return CONFIDENCE_LOW
	}
}

// LogFields returns structured logging fields for recommendation audit
// trails.
func (c ConfidenceLevel) LogFields() map[string]any {
	return map[string]any{
		"confidence": string(c),
		"is_valid":   c.IsValid(),
	}
}

// ClampScore bounds a value into the [ScoreMin, ScoreMax] range. Scores are
// clamped, never wrapped, so repeated adjustments cannot escape the scale.
func ClampScore(v float64) float64 {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}
