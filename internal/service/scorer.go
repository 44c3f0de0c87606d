package service

import (
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/domain"
)

// CombinationScorer folds adjusted per-drug attributes and synergy into a
// single composite used for ranking. Weights and the toxicity aggregation
// policy come from the scoring configuration validated at startup.
type CombinationScorer struct {
	cfg    domain.ScoringConfig
	logger *logrus.Logger
}

// NewCombinationScorer validates the scoring configuration and returns a
// scorer. Invalid weights or aggregation parameters fail here so a
// misconfigured server never serves a single request.
func NewCombinationScorer(cfg domain.ScoringConfig, logger *logrus.Logger) (*CombinationScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CombinationScorer{cfg: cfg, logger: logger}, nil
}

// Config returns the validated scoring configuration in use.
func (s *CombinationScorer) Config() domain.ScoringConfig {
	return s.cfg
}

// MeanEfficacy averages the adjusted efficacy over the regimen.
func (s *CombinationScorer) MeanEfficacy(drugs []domain.AdjustedDrug) float64 {
	if len(drugs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range drugs {
		sum += d.Efficacy
	}
	return sum / float64(len(drugs))
}

// AggregateToxicity compounds the regimen's toxicity burden. The mean
// adjusted toxicity is scaled by a size factor reflecting overlapping
// adverse events, then pushed superlinearly once it crosses the ceiling
// threshold, and finally clamped back into score bounds.
func (s *CombinationScorer) AggregateToxicity(drugs []domain.AdjustedDrug) float64 {
	if len(drugs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range drugs {
		sum += d.Toxicity
	}
	agg := sum / float64(len(drugs)) * s.sizeFactor(len(drugs))
	if agg > s.cfg.Toxicity.CeilingThreshold {
		over := agg - s.cfg.Toxicity.CeilingThreshold
		agg += s.cfg.Toxicity.SuperlinearGamma * over * over
	}
	return domain.ClampScore(agg)
}

// Composite combines mean efficacy, synergy, and aggregate toxicity under
// the configured weights. Higher is better; the value is a ranking key, not
// a bounded score, so it is intentionally not clamped.
func (s *CombinationScorer) Composite(meanEfficacy, synergy, aggregateToxicity float64) float64 {
	w := s.cfg.Weights
	return w.Efficacy*meanEfficacy + w.Synergy*synergy - w.Toxicity*aggregateToxicity
}

func (s *CombinationScorer) sizeFactor(n int) float64 {
	switch {
	case n <= 1:
		return s.cfg.Toxicity.SingleFactor
	case n == 2:
		return s.cfg.Toxicity.DoubletFactor
	default:
		return s.cfg.Toxicity.TripletFactor
	}
}
