package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/catalog"
	"github.com/oncorec-server/internal/domain"
)

// InteractionModel computes the additive synergy contribution of a regimen
// from the catalog's curated pairwise interaction table.
type InteractionModel struct {
	scaling domain.SynergyScaling
	logger  *logrus.Logger
}

// NewInteractionModel creates an interaction model with the given triplet
// scaling policy.
func NewInteractionModel(scaling domain.SynergyScaling, logger *logrus.Logger) *InteractionModel {
	if logger == nil {
		logger = logrus.New()
	}
	return &InteractionModel{scaling: scaling, logger: logger}
}

// SynergyResult carries the synergy score together with the coverage facts
// that feed confidence grading and rationale text.
type SynergyResult struct {
	Score      float64
	KnownPairs int
	TotalPairs int
	Evidence   []string
}

// Synergy sums the applicable pairwise deltas for the regimen under the
// patient's cancer type. Single-drug regimens have no pairs and score zero.
// Pairs absent from the table contribute zero and are left out of
// KnownPairs, which degrades confidence downstream. Three-drug regimens are
// scaled down because pairwise evidence overstates higher-order effects.
func (m *InteractionModel) Synergy(snap *catalog.Snapshot, regimen domain.Regimen, cancerType domain.CancerType) SynergyResult {
	pairs := regimen.Pairs()
	result := SynergyResult{TotalPairs: len(pairs)}
	if len(pairs) == 0 {
		return result
	}

	for _, pair := range pairs {
		entry, ok := snap.Interaction(pair[0], pair[1], cancerType)
		if !ok {
			continue
		}
		result.Score += entry.Synergy
		result.KnownPairs++
		line := fmt.Sprintf("%s: %+.2f", entry.Key(), entry.Synergy)
		if entry.Evidence != "" {
			line = fmt.Sprintf("%s: %+.2f (%s)", entry.Key(), entry.Synergy, entry.Evidence)
		}
		result.Evidence = append(result.Evidence, line)
	}

	if regimen.Size() >= 3 {
		result.Score *= m.scaling.TripletScale
	}
	return result
}
