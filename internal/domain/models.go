package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Drug is immutable reference data describing a single agent. Catalog entries
// are loaded once per snapshot and never mutated at runtime; the adjuster
// copies values instead of touching the catalog.
type Drug struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Class     DrugClass `json:"class"`
	Mechanism string    `json:"mechanism"`
	// Targets carries pathway tags such as EGFR, VEGF or PD-1. Mutation
	// gating keys off these tags.
	Targets  []string `json:"targets,omitempty"`
	Efficacy float64  `json:"efficacy"`
	Toxicity float64  `json:"toxicity"`
}

// TargetsPathway reports whether the drug carries the given pathway tag.
func (d Drug) TargetsPathway(pathway string) bool {
	for _, t := range d.Targets {
		if strings.EqualFold(t, pathway) {
			return true
		}
	}
	return false
}

// Validate checks catalog bounds for a drug entry.
func (d Drug) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: drug id is required", ErrInvalidConfig)
	}
	if !d.Class.IsValid() {
		return fmt.Errorf("%w: drug %s has unknown class %q", ErrInvalidConfig, d.ID, d.Class)
	}
	if d.Efficacy < ScoreMin || d.Efficacy > ScoreMax {
		return fmt.Errorf("%w: drug %s efficacy %.2f outside [%g,%g]", ErrInvalidConfig, d.ID, d.Efficacy, ScoreMin, ScoreMax)
	}
	if d.Toxicity < ScoreMin || d.Toxicity > ScoreMax {
		return fmt.Errorf("%w: drug %s toxicity %.2f outside [%g,%g]", ErrInvalidConfig, d.ID, d.Toxicity, ScoreMin, ScoreMax)
	}
	return nil
}

// PatientProfile is an immutable snapshot of a patient's clinical covariates.
// Updates write a new snapshot (fresh SnapshotID, same PatientID) so the
// audit history of every past recommendation stays reproducible.
//
// Optional covariates are pointers; nil means the covariate was not captured
// at intake. The adjuster falls back to an identity adjustment and degrades
// confidence instead of failing (clinical intake is frequently incomplete).
type PatientProfile struct {
	PatientID  string      `json:"patient_id"`
	SnapshotID string      `json:"snapshot_id,omitempty"`
	Age        *int        `json:"age,omitempty"`
	Sex        Sex         `json:"sex,omitempty"`
	CancerType CancerType  `json:"cancer_type"`
	Stage      CancerStage `json:"stage,omitempty"`
	ECOG       *ECOGStatus `json:"ecog,omitempty"`
	KRAS       KRASStatus  `json:"kras,omitempty"`
	// KRASVariant is the specific mutation subtype when known, e.g. G12C.
	KRASVariant string `json:"kras_variant,omitempty"`
	// Morphology holds the tumor morphology summary derived from the image
	// analysis collaborator, when an analysis is on file.
	Morphology *MorphologySummary `json:"morphology,omitempty"`
	CreatedAt  time.Time          `json:"created_at,omitempty"`
}

// Validate checks the profile for registration. Unknown stage, ECOG and KRAS
// are permitted (they degrade confidence downstream); structural values must
// parse.
func (p *PatientProfile) Validate() error {
	if p.PatientID == "" {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	if !p.CancerType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCancerType, p.CancerType)
	}
	if p.Stage.Known() && !p.Stage.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCancerStage, p.Stage)
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 130) {
		return fmt.Errorf("%w: age %d outside [0,130]", ErrInvalidRequest, *p.Age)
	}
	if p.Sex != "" && !p.Sex.IsValid() {
		return fmt.Errorf("%w: sex %q", ErrInvalidRequest, p.Sex)
	}
	if p.ECOG != nil && !p.ECOG.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidECOGStatus, int(*p.ECOG))
	}
	if p.KRAS != "" && !p.KRAS.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidKRASStatus, p.KRAS)
	}
	return nil
}

// KRASOrUnknown normalizes the zero value to KRAS_UNKNOWN.
func (p *PatientProfile) KRASOrUnknown() KRASStatus {
	if p.KRAS == "" {
		return KRAS_UNKNOWN
	}
	return p.KRAS
}

// Regimen is an unordered set of 1-3 distinct drug identifiers, held in
// canonical (sorted) order so that enumeration, pair lookup and tie-breaking
// are deterministic.
type Regimen struct {
	DrugIDs []string `json:"drug_ids"`
}

// NewRegimen builds a canonical regimen from drug ids. It fails with
// ErrInvalidRegimen on empty ids, duplicates, or a size outside
// [RegimenMinSize, RegimenMaxSize].
func NewRegimen(drugIDs ...string) (Regimen, error) {
	if len(drugIDs) < RegimenMinSize || len(drugIDs) > RegimenMaxSize {
		return Regimen{}, fmt.Errorf("%w: size %d outside [%d,%d]", ErrInvalidRegimen, len(drugIDs), RegimenMinSize, RegimenMaxSize)
	}
	ids := make([]string, len(drugIDs))
	copy(ids, drugIDs)
	sort.Strings(ids)
	for i, id := range ids {
		if id == "" {
			return Regimen{}, fmt.Errorf("%w: empty drug id", ErrInvalidRegimen)
		}
		if i > 0 && ids[i-1] == id {
			return Regimen{}, fmt.Errorf("%w: duplicate drug %s", ErrInvalidRegimen, id)
		}
	}
	return Regimen{DrugIDs: ids}, nil
}

// Size returns the number of drugs in the regimen.
func (r Regimen) Size() int {
	return len(r.DrugIDs)
}

// Key returns the canonical string form, drug ids joined by "+". Because
// DrugIDs are sorted, Key is stable for a given drug set and is used as the
// final lexicographic tie-break.
func (r Regimen) Key() string {
	return strings.Join(r.DrugIDs, "+")
}

// Contains reports whether the regimen includes the given drug.
func (r Regimen) Contains(drugID string) bool {
	for _, id := range r.DrugIDs {
		if id == drugID {
			return true
		}
	}
	return false
}

// Pairs returns every unordered drug-id pair within the regimen, each pair in
// canonical (a < b) order.
func (r Regimen) Pairs() [][2]string {
	if len(r.DrugIDs) < 2 {
		return nil
	}
	var pairs [][2]string
	for i := 0; i < len(r.DrugIDs); i++ {
		for j := i + 1; j < len(r.DrugIDs); j++ {
			pairs = append(pairs, [2]string{r.DrugIDs[i], r.DrugIDs[j]})
		}
	}
	return pairs
}

// PairKey returns the canonical lookup key for an unordered drug pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "+" + b
}

// InteractionEntry carries the synergy evidence for one unordered drug pair.
// Synergy is an additive delta on the 0-10 composite scale; negative values
// model antagonism. Pairs with no entry on file default to zero synergy.
type InteractionEntry struct {
	DrugA   string  `json:"drug_a"`
	DrugB   string  `json:"drug_b"`
	Synergy float64 `json:"synergy"`
	// Evidence names the trial or source backing the entry, e.g. MOSAIC.
	Evidence string `json:"evidence,omitempty"`
	// CancerTypes restricts applicability; empty means all types.
	CancerTypes []CancerType `json:"cancer_types,omitempty"`
}

// Key returns the canonical pair key for the entry.
func (e InteractionEntry) Key() string {
	return PairKey(e.DrugA, e.DrugB)
}

// AppliesTo reports whether the entry is applicable for the given cancer
// type. Entries with no type restriction apply to every type.
func (e InteractionEntry) AppliesTo(ct CancerType) bool {
	if len(e.CancerTypes) == 0 {
		return true
	}
	for _, t := range e.CancerTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// Validate checks an interaction entry loaded from reference data.
func (e InteractionEntry) Validate() error {
	if e.DrugA == "" || e.DrugB == "" {
		return fmt.Errorf("%w: interaction entry with empty drug id", ErrInvalidConfig)
	}
	if e.DrugA == e.DrugB {
		return fmt.Errorf("%w: interaction entry pairs %s with itself", ErrInvalidConfig, e.DrugA)
	}
	return nil
}

// AppliedAdjustment records one adjuster step for the rationale trace.
type AppliedAdjustment struct {
	Step           string  `json:"step"`
	Detail         string  `json:"detail"`
	EfficacyFactor float64 `json:"efficacy_factor"`
	ToxicityFactor float64 `json:"toxicity_factor"`
}

// AdjustedDrug is a drug after patient-covariate adjustment. Values stay
// within catalog bounds; Notes lists the covariates that were missing and
// therefore adjusted as identity.
type AdjustedDrug struct {
	Drug        Drug                `json:"drug"`
	Efficacy    float64             `json:"efficacy"`
	Toxicity    float64             `json:"toxicity"`
	Eligible    bool                `json:"eligible"`
	GatedReason string              `json:"gated_reason,omitempty"`
	Adjustments []AppliedAdjustment `json:"adjustments,omitempty"`
	Notes       []string            `json:"notes,omitempty"`
}

// ScoredRegimen is a regimen plus its derived scores. It is always computed
// by the selector, never constructed by callers, and is a pure function of
// (regimen, patient snapshot, catalog snapshot, scoring config).
type ScoredRegimen struct {
	Regimen           Regimen         `json:"regimen"`
	Drugs             []AdjustedDrug  `json:"drugs"`
	MeanEfficacy      float64         `json:"mean_efficacy"`
	Synergy           float64         `json:"synergy"`
	AggregateToxicity float64         `json:"aggregate_toxicity"`
	Composite         float64         `json:"composite"`
	Rank              int             `json:"rank"`
	Confidence        ConfidenceLevel `json:"confidence"`
	ConfidenceNotes   []string        `json:"confidence_notes,omitempty"`
	Rationale         []string        `json:"rationale,omitempty"`
	KnownPairs        int             `json:"known_pairs"`
	TotalPairs        int             `json:"total_pairs"`
	CatalogVersion    string          `json:"catalog_version,omitempty"`
}

// RecommendationRequest is the single entry point payload for ranked
// recommendations.
type RecommendationRequest struct {
	Patient     PatientProfile `json:"patient"`
	RegimenSize int            `json:"regimen_size"`
	TopN        int            `json:"top_n"`
}

// Validate applies request-level rules. Out-of-range sizes fail with
// ErrInvalidRequest; an ECOG of 5 is rejected here because no treatment
// recommendation is meaningful for it, even though the registry stores it.
func (r *RecommendationRequest) Validate() error {
	if r.RegimenSize < RegimenMinSize || r.RegimenSize > RegimenMaxSize {
		return fmt.Errorf("%w: regimen_size %d outside [%d,%d]", ErrInvalidRequest, r.RegimenSize, RegimenMinSize, RegimenMaxSize)
	}
	if r.TopN < 1 {
		return fmt.Errorf("%w: top_n must be >= 1, got %d", ErrInvalidRequest, r.TopN)
	}
	if err := r.Patient.Validate(); err != nil {
		return err
	}
	if r.Patient.ECOG != nil && *r.Patient.ECOG == 5 {
		return fmt.Errorf("%w: no recommendation for ECOG 5", ErrInvalidRequest)
	}
	return nil
}

// RecommendationRun is the persisted audit record of one selector run.
// Storing the catalog version and patient snapshot id keeps every past
// ranking reproducible.
type RecommendationRun struct {
	ID             string          `json:"id"`
	PatientID      string          `json:"patient_id"`
	SnapshotID     string          `json:"snapshot_id,omitempty"`
	CatalogVersion string          `json:"catalog_version"`
	RegimenSize    int             `json:"regimen_size"`
	TopN           int             `json:"top_n"`
	Results        []ScoredRegimen `json:"results"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CellRecord is one detected cell from the image analysis collaborator.
type CellRecord struct {
	Label        int     `json:"label"`
	Area         float64 `json:"area"`
	CentroidX    float64 `json:"centroid_x"`
	CentroidY    float64 `json:"centroid_y"`
	Eccentricity float64 `json:"eccentricity,omitempty"`
}

// MorphologySummary aggregates segmented-cell statistics into the covariate
// consumed by the adjuster.
type MorphologySummary struct {
	TotalCells    int                `json:"total_cells"`
	MeanArea      float64            `json:"mean_area"`
	MedianArea    float64            `json:"median_area"`
	StdDevArea    float64            `json:"std_dev_area"`
	MinArea       float64            `json:"min_area"`
	MaxArea       float64            `json:"max_area"`
	AreaCV        float64            `json:"area_cv"`
	CellDensity   float64            `json:"cell_density,omitempty"`
	Heterogeneity HeterogeneityLevel `json:"heterogeneity"`
}

// AnalysisStatus tracks the lifecycle of an image analysis job.
type AnalysisStatus string

const (
	ANALYSIS_PENDING   AnalysisStatus = "PENDING"
	ANALYSIS_RUNNING   AnalysisStatus = "RUNNING"
	ANALYSIS_COMPLETED AnalysisStatus = "COMPLETED"
	ANALYSIS_FAILED    AnalysisStatus = "FAILED"
)

// AnalysisJob is the tracked state of one segmentation request. A failed job
// is a documented outcome, not an error: downstream scoring treats it as a
// missing morphology covariate.
type AnalysisJob struct {
	ID          string             `json:"id"`
	ImageDigest string             `json:"image_digest"`
	Status      AnalysisStatus     `json:"status"`
	Cells       []CellRecord       `json:"cells,omitempty"`
	Summary     *MorphologySummary `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
