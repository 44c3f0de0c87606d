package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/catalog"
	"github.com/oncorec-server/internal/domain"
)

// RecommenderService orchestrates the complete recommendation workflow:
// covariate adjustment, interaction scoring, composite ranking, and
// selection. It reads one immutable catalog snapshot per request, so a
// concurrent catalog reload never mixes versions within a ranking.
type RecommenderService struct {
	logger       *logrus.Logger
	catalog      *catalog.Store
	adjuster     *ProfileAdjuster
	interactions *InteractionModel
	scorer       *CombinationScorer
	runs         domain.RecommendationRepository
}

// RecommenderOption configures optional collaborators.
type RecommenderOption func(*RecommenderService)

// WithRunRepository attaches a repository that records every completed
// recommendation run for audit. Persistence failures are logged and do not
// fail the request.
func WithRunRepository(repo domain.RecommendationRepository) RecommenderOption {
	return func(r *RecommenderService) {
		r.runs = repo
	}
}

// NewRecommenderService creates a recommender on top of a catalog store and
// a scoring configuration. The configuration is validated here; a weight
// vector that does not sum to one is a startup failure, never a silently
// corrected default.
func NewRecommenderService(logger *logrus.Logger, store *catalog.Store, cfg domain.ScoringConfig, opts ...RecommenderOption) (*RecommenderService, error) {
	if logger == nil {
		logger = logrus.New()
	}
	scorer, err := NewCombinationScorer(cfg, logger)
	if err != nil {
		return nil, err
	}

	r := &RecommenderService{
		logger:       logger,
		catalog:      store,
		adjuster:     NewProfileAdjuster(cfg.Adjustments, logger),
		interactions: NewInteractionModel(cfg.Synergy, logger),
		scorer:       scorer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Recommend returns the top-N regimens of the requested size for the
// patient, ranked by composite score. Results are deterministic: the same
// request against the same catalog snapshot and scoring configuration
// yields a byte-identical ranking.
func (r *RecommenderService) Recommend(ctx context.Context, req *domain.RecommendationRequest) ([]domain.ScoredRegimen, error) {
	startTime := time.Now()

	// Step 1: validate the request before touching any state.
	if req == nil {
		return nil, domain.NewInvalidRequestError("request", "request is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	snap := r.catalog.Current()
	r.logger.WithFields(logrus.Fields{
		"patient_id":      req.Patient.PatientID,
		"cancer_type":     req.Patient.CancerType,
		"regimen_size":    req.RegimenSize,
		"top_n":           req.TopN,
		"catalog_version": snap.Version(),
	}).Info("Starting combination recommendation")

	// Step 2: a catalog smaller than the regimen size has no candidates.
	// That is an empty result, not an error.
	if snap.Len() < req.RegimenSize {
		r.logger.WithFields(logrus.Fields{
			"catalog_size": snap.Len(),
			"regimen_size": req.RegimenSize,
		}).Warn("Catalog smaller than requested regimen size, returning empty ranking")
		return []domain.ScoredRegimen{}, nil
	}

	// Step 3: adjust every drug once. Adjustment depends only on the
	// patient, so per-combination recomputation would be pure waste.
	adjusted := make(map[string]domain.AdjustedDrug, snap.Len())
	for _, id := range snap.DrugIDs() {
		drug, err := snap.Lookup(id)
		if err != nil {
			return nil, err
		}
		adjusted[id] = r.adjuster.Adjust(drug, &req.Patient)
	}

	// Step 4: enumerate candidate combinations in lexicographic order and
	// score the eligible ones. Regimens containing a gated drug are
	// excluded entirely rather than served with a partial score.
	var results []domain.ScoredRegimen
	for _, ids := range combinations(snap.DrugIDs(), req.RegimenSize) {
		if gated, reason := firstGated(adjusted, ids); gated != "" {
			r.logger.WithFields(logrus.Fields{
				"drug_id": gated,
				"reason":  reason,
			}).Debug("Excluding regimen with ineligible drug")
			continue
		}
		regimen, err := domain.NewRegimen(ids...)
		if err != nil {
			return nil, err
		}
		results = append(results, r.scoreAdjusted(snap, regimen, adjusted, &req.Patient))
	}

	// Step 5: rank. Composite descending, then lower aggregate toxicity,
	// then regimen key, so equal-composite regimens have a stable order.
	sortRanking(results)
	if len(results) > req.TopN {
		results = results[:req.TopN]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	// Step 6: record the run for audit. Best effort.
	r.persistRun(ctx, req, snap.Version(), results)

	r.logger.WithFields(logrus.Fields{
		"patient_id":      req.Patient.PatientID,
		"results":         len(results),
		"catalog_version": snap.Version(),
		"processing_time": time.Since(startTime).String(),
	}).Info("Combination recommendation completed")
	return results, nil
}

// ScoreRegimen scores one explicit regimen for a patient without ranking or
// eligibility filtering. Gated drugs are marked in the result so callers
// can see why the selector would have excluded the regimen.
func (r *RecommenderService) ScoreRegimen(ctx context.Context, regimen domain.Regimen, patient domain.PatientProfile) (*domain.ScoredRegimen, error) {
	canonical, err := domain.NewRegimen(regimen.DrugIDs...)
	if err != nil {
		return nil, domain.NewInvalidRequestError("regimen", err.Error(), regimen.DrugIDs)
	}
	if err := patient.Validate(); err != nil {
		return nil, err
	}

	snap := r.catalog.Current()
	adjusted := make(map[string]domain.AdjustedDrug, canonical.Size())
	for _, id := range canonical.DrugIDs {
		drug, err := snap.Lookup(id)
		if err != nil {
			return nil, err
		}
		adjusted[id] = r.adjuster.Adjust(drug, &patient)
	}

	scored := r.scoreAdjusted(snap, canonical, adjusted, &patient)
	return &scored, nil
}

// scoreAdjusted assembles the complete scored regimen: synergy, composite,
// confidence grade, and human-readable rationale.
func (r *RecommenderService) scoreAdjusted(snap *catalog.Snapshot, regimen domain.Regimen, adjusted map[string]domain.AdjustedDrug, patient *domain.PatientProfile) domain.ScoredRegimen {
	drugs := make([]domain.AdjustedDrug, 0, regimen.Size())
	for _, id := range regimen.DrugIDs {
		drugs = append(drugs, adjusted[id])
	}

	synergy := r.interactions.Synergy(snap, regimen, patient.CancerType)
	meanEfficacy := r.scorer.MeanEfficacy(drugs)
	aggregateToxicity := r.scorer.AggregateToxicity(drugs)
	composite := r.scorer.Composite(meanEfficacy, synergy.Score, aggregateToxicity)

	confidence, confidenceNotes := gradeConfidence(drugs, synergy)

	return domain.ScoredRegimen{
		Regimen:           regimen,
		Drugs:             drugs,
		MeanEfficacy:      meanEfficacy,
		Synergy:           synergy.Score,
		AggregateToxicity: aggregateToxicity,
		Composite:         composite,
		Confidence:        confidence,
		ConfidenceNotes:   confidenceNotes,
		Rationale:         r.buildRationale(drugs, synergy, aggregateToxicity),
		KnownPairs:        synergy.KnownPairs,
		TotalPairs:        synergy.TotalPairs,
		CatalogVersion:    snap.Version(),
	}
}

// gradeConfidence derives the confidence tag from data completeness. Any
// missing covariate flags the result low-confidence outright; interaction
// pairs absent from the table each degrade the tag by one grade.
func gradeConfidence(drugs []domain.AdjustedDrug, synergy SynergyResult) (domain.ConfidenceLevel, []string) {
	var notes []string
	seen := make(map[string]bool)
	for _, d := range drugs {
		for _, note := range d.Notes {
			if !seen[note] {
				seen[note] = true
				notes = append(notes, note)
			}
		}
	}

	unknownPairs := synergy.TotalPairs - synergy.KnownPairs
	if unknownPairs > 0 {
		notes = append(notes, fmt.Sprintf("no interaction data for %d of %d drug pairs", unknownPairs, synergy.TotalPairs))
	}

	confidence := domain.CONFIDENCE_HIGH
	for i := 0; i < unknownPairs; i++ {
		confidence = confidence.Degrade()
	}
	if len(seen) > 0 {
		confidence = domain.CONFIDENCE_LOW
	}
	return confidence, notes
}

// buildRationale renders the applied adjustments, interaction evidence, and
// toxicity ceiling into reviewable text lines.
func (r *RecommenderService) buildRationale(drugs []domain.AdjustedDrug, synergy SynergyResult, aggregateToxicity float64) []string {
	var lines []string
	for _, d := range drugs {
		if !d.Eligible {
			lines = append(lines, fmt.Sprintf("%s: %s", d.Drug.ID, d.GatedReason))
			continue
		}
		if len(d.Adjustments) == 0 {
			continue
		}
		steps := make([]string, 0, len(d.Adjustments))
		for _, a := range d.Adjustments {
			steps = append(steps, formatAdjustment(a))
		}
		lines = append(lines, fmt.Sprintf("%s: %s", d.Drug.ID, strings.Join(steps, "; ")))
	}

	for _, ev := range synergy.Evidence {
		lines = append(lines, "interaction "+ev)
	}
	lines = append(lines, synergyBand(synergy))

	if aggregateToxicity > r.scorer.Config().Toxicity.CeilingThreshold {
		lines = append(lines, fmt.Sprintf("aggregate toxicity %.1f exceeds ceiling %.1f: superlinear penalty applied",
			aggregateToxicity, r.scorer.Config().Toxicity.CeilingThreshold))
	}
	return lines
}

func formatAdjustment(a domain.AppliedAdjustment) string {
	var factors []string
	if a.EfficacyFactor != 1.0 {
		factors = append(factors, fmt.Sprintf("efficacy x%.2f", a.EfficacyFactor))
	}
	if a.ToxicityFactor != 1.0 {
		factors = append(factors, fmt.Sprintf("toxicity x%.2f", a.ToxicityFactor))
	}
	if len(factors) == 0 {
		return a.Detail
	}
	return fmt.Sprintf("%s (%s)", a.Detail, strings.Join(factors, ", "))
}

func synergyBand(synergy SynergyResult) string {
	switch {
	case synergy.Score > 1.2:
		return fmt.Sprintf("synergy %+.2f: strongly synergistic combination", synergy.Score)
	case synergy.Score > 0:
		return fmt.Sprintf("synergy %+.2f: synergistic combination", synergy.Score)
	case synergy.Score < 0:
		return fmt.Sprintf("synergy %+.2f: antagonistic combination", synergy.Score)
	default:
		return "synergy +0.00: no net interaction effect"
	}
}

// sortRanking orders scored regimens by composite descending, breaking ties
// by lower aggregate toxicity, then by regimen key.
func sortRanking(results []domain.ScoredRegimen) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Composite != results[j].Composite {
			return results[i].Composite > results[j].Composite
		}
		if results[i].AggregateToxicity != results[j].AggregateToxicity {
			return results[i].AggregateToxicity < results[j].AggregateToxicity
		}
		return results[i].Regimen.Key() < results[j].Regimen.Key()
	})
}

// combinations enumerates all k-element subsets of ids, preserving the
// input order within each subset. With sorted input the output order is
// lexicographic, which pins the full pipeline ordering.
func combinations(ids []string, k int) [][]string {
	if k <= 0 || k > len(ids) {
		return nil
	}
	var out [][]string
	combo := make([]string, k)
	var walk func(start, depth int)
	walk = func(start, depth int) {
		if depth == k {
			out = append(out, append([]string(nil), combo...))
			return
		}
		for i := start; i <= len(ids)-(k-depth); i++ {
			combo[depth] = ids[i]
			walk(i+1, depth+1)
		}
	}
	walk(0, 0)
	return out
}

func firstGated(adjusted map[string]domain.AdjustedDrug, ids []string) (string, string) {
	for _, id := range ids {
		if a, ok := adjusted[id]; ok && !a.Eligible {
			return id, a.GatedReason
		}
	}
	return "", ""
}

// persistRun writes the completed run to the audit repository when one is
// configured.
func (r *RecommenderService) persistRun(ctx context.Context, req *domain.RecommendationRequest, catalogVersion string, results []domain.ScoredRegimen) {
	if r.runs == nil {
		return
	}
	run := &domain.RecommendationRun{
		ID:             uuid.New().String(),
		PatientID:      req.Patient.PatientID,
		SnapshotID:     req.Patient.SnapshotID,
		CatalogVersion: catalogVersion,
		RegimenSize:    req.RegimenSize,
		TopN:           req.TopN,
		Results:        results,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.runs.SaveRun(ctx, run); err != nil {
		r.logger.WithError(err).WithField("patient_id", req.Patient.PatientID).Warn("Failed to persist recommendation run")
	}
}
