package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/domain"
)

// Adjuster step names, in the fixed order they are applied. The order is
// part of the contract: steps clamp after each multiplication, so they do
// not commute and must never be reordered silently.
const (
	stepStage      = "stage"
	stepAge        = "age"
	stepECOG       = "ecog"
	stepMutation   = "mutation_gating"
	stepMorphology = "morphology"
)

// ProfileAdjuster transforms baseline drug attributes under patient
// covariates. Adjust is a pure function of (drug, patient, config); missing
// covariates fall back to identity adjustments with a confidence note
// instead of failing, because clinical intake is frequently incomplete.
type ProfileAdjuster struct {
	cfg    domain.AdjustmentConfig
	logger *logrus.Logger
}

// NewProfileAdjuster creates an adjuster for a validated adjustment table.
func NewProfileAdjuster(cfg domain.AdjustmentConfig, logger *logrus.Logger) *ProfileAdjuster {
	if logger == nil {
		logger = logrus.New()
	}
	return &ProfileAdjuster{cfg: cfg, logger: logger}
}

// Adjust applies the covariate multipliers to one drug in the documented
// order: stage, age, ECOG, mutation gating, morphology. Efficacy and
// toxicity are clamped back into catalog bounds after every step.
func (a *ProfileAdjuster) Adjust(drug domain.Drug, patient *domain.PatientProfile) domain.AdjustedDrug {
	adj := domain.AdjustedDrug{
		Drug:     drug,
		Efficacy: drug.Efficacy,
		Toxicity: drug.Toxicity,
		Eligible: true,
	}

	// Step 1: cancer stage scales expected efficacy.
	if factor, known := a.cfg.StageEfficacyFactor(patient.Stage); known {
		a.apply(&adj, stepStage, fmt.Sprintf("stage %s", patient.Stage), factor, 1.0)
	} else {
		a.missing(&adj, "stage unknown: neutral adjustment")
	}

	// Step 2: age bands shift both tolerability and expected benefit.
	if patient.Age == nil {
		a.missing(&adj, "age unknown: neutral adjustment")
	} else if age := *patient.Age; age > a.cfg.ElderlyAge {
		a.apply(&adj, stepAge, fmt.Sprintf("age %d > %d", age, a.cfg.ElderlyAge), a.cfg.ElderlyEfficacy, a.cfg.ElderlyToxicity)
	} else if age < a.cfg.YoungAge {
		a.apply(&adj, stepAge, fmt.Sprintf("age %d < %d", age, a.cfg.YoungAge), a.cfg.YoungEfficacy, a.cfg.YoungToxicity)
	}

	// Step 3: ECOG performance status gates treatment intensity.
	if patient.ECOG == nil {
		a.missing(&adj, "ECOG performance status unknown: neutral adjustment")
	} else {
		switch ecog := *patient.ECOG; {
		case ecog == 0:
			a.apply(&adj, stepECOG, "ECOG 0 fully active", a.cfg.ECOGFullyActiveEfficacy, 1.0)
		case ecog == 1:
			// Ambulatory and able to carry out light work: reference band.
		case ecog == 2:
			a.apply(&adj, stepECOG, "ECOG 2 restricted", 1.0, a.cfg.ECOGRestrictedToxicity)
		default:
			a.apply(&adj, stepECOG, ecog.String()+" limited", a.cfg.ECOGLimitedEfficacy, a.cfg.ECOGLimitedToxicity)
		}
	}

	// Step 4: mutation gating. KRAS-mutant tumors are resistant to anti-EGFR
	// antibodies; the drug is marked ineligible rather than down-weighted.
	if drug.TargetsPathway("EGFR") {
		switch patient.KRASOrUnknown() {
		case domain.KRAS_MUTANT:
			adj.Eligible = false
			adj.GatedReason = "KRAS mutant: anti-EGFR agents ineligible"
			if patient.KRASVariant != "" {
				adj.GatedReason = fmt.Sprintf("KRAS %s mutant: anti-EGFR agents ineligible", patient.KRASVariant)
			}
		case domain.KRAS_WILD_TYPE:
			adj.Adjustments = append(adj.Adjustments, domain.AppliedAdjustment{
				Step:           stepMutation,
				Detail:         "KRAS wild-type: anti-EGFR eligible",
				EfficacyFactor: 1.0,
				ToxicityFactor: 1.0,
			})
		default:
			a.missing(&adj, "KRAS status unknown: anti-EGFR eligibility unconfirmed")
		}
	}

	// Step 5: tumor morphology from the image analysis collaborator. A
	// failed or absent analysis is a missing covariate, never an error.
	if patient.Morphology == nil {
		a.missing(&adj, "no morphology analysis on file: neutral adjustment")
	} else if patient.Morphology.Heterogeneity == domain.HETEROGENEITY_HIGH {
		a.apply(&adj, stepMorphology, "high tumor heterogeneity", a.cfg.HighHeterogeneityEfficacy, 1.0)
	}

	return adj
}

// apply multiplies efficacy and toxicity by the step factors, clamps back
// into bounds, and records the step in the rationale trace.
func (a *ProfileAdjuster) apply(adj *domain.AdjustedDrug, step, detail string, efficacyFactor, toxicityFactor float64) {
	adj.Efficacy = domain.ClampScore(adj.Efficacy * efficacyFactor)
	adj.Toxicity = domain.ClampScore(adj.Toxicity * toxicityFactor)
	adj.Adjustments = append(adj.Adjustments, domain.AppliedAdjustment{
		Step:           step,
		Detail:         detail,
		EfficacyFactor: efficacyFactor,
		ToxicityFactor: toxicityFactor,
	})
}

// missing records a skipped step for confidence degradation.
func (a *ProfileAdjuster) missing(adj *domain.AdjustedDrug, note string) {
	adj.Notes = append(adj.Notes, note)
}
