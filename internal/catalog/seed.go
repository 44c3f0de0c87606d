package catalog

import (
	"github.com/oncorec-server/internal/domain"
)

// SeedVersion identifies the compiled-in reference data set.
const SeedVersion = "seed-2024.2"

// SeedDrugs returns the built-in drug table. Baseline efficacy and toxicity
// live on the 0-10 scale; toxicity ratings follow the clinical reference
// ratings the interaction evidence was curated against.
func SeedDrugs() []domain.Drug {
	return []domain.Drug{
		{
			ID:        "FLUOROURACIL",
			Name:      "5-Fluorouracil",
			Class:     domain.CYTOTOXIC,
			Mechanism: "Antimetabolite (pyrimidine analog)",
			Targets:   []string{"TS", "DNA"},
			Efficacy:  6.5,
			Toxicity:  3.5,
		},
		{
			ID:        "OXALIPLATIN",
			Name:      "Oxaliplatin",
			Class:     domain.CYTOTOXIC,
			Mechanism: "Platinum alkylating agent",
			Targets:   []string{"DNA"},
			Efficacy:  7.2,
			Toxicity:  4.0,
		},
		{
			ID:        "IRINOTECAN",
			Name:      "Irinotecan",
			Class:     domain.CYTOTOXIC,
			Mechanism: "Topoisomerase I inhibitor",
			Targets:   []string{"TOP1"},
			Efficacy:  7.0,
			Toxicity:  4.5,
		},
		{
			ID:        "CISPLATIN",
			Name:      "Cisplatin",
			Class:     domain.CYTOTOXIC,
			Mechanism: "Platinum alkylating agent",
			Targets:   []string{"DNA"},
			Efficacy:  6.2,
			Toxicity:  5.0,
		},
		{
			ID:        "PACLITAXEL",
			Name:      "Paclitaxel",
			Class:     domain.CYTOTOXIC,
			Mechanism: "Taxane microtubule stabilizer",
			Targets:   []string{"MICROTUBULE"},
			Efficacy:  7.4,
			Toxicity:  4.0,
		},
		{
			ID:        "DOXORUBICIN",
			Name:      "Doxorubicin",
			Class:     domain.CYTOTOXIC,
			Mechanism: "Anthracycline topoisomerase II inhibitor",
			Targets:   []string{"TOP2", "DNA"},
			Efficacy:  6.8,
			Toxicity:  5.5,
		},
		{
			ID:        "GEMCITABINE",
			Name:      "Gemcitabine",
			Class:     domain.CYTOTOXIC,
			Mechanism: "Antimetabolite (nucleoside analog)",
			Targets:   []string{"DNA"},
			Efficacy:  6.6,
			Toxicity:  3.0,
		},
		{
			ID:        "BEVACIZUMAB",
			Name:      "Bevacizumab",
			Class:     domain.TARGETED,
			Mechanism: "Anti-VEGF monoclonal antibody",
			Targets:   []string{"VEGF"},
			Efficacy:  5.8,
			Toxicity:  3.0,
		},
		{
			ID:        "CETUXIMAB",
			Name:      "Cetuximab",
			Class:     domain.TARGETED,
			Mechanism: "Anti-EGFR monoclonal antibody",
			Targets:   []string{"EGFR"},
			Efficacy:  5.5,
			Toxicity:  2.5,
		},
		{
			ID:        "PEMBROLIZUMAB",
			Name:      "Pembrolizumab",
			Class:     domain.IMMUNOTHERAPY,
			Mechanism: "Anti-PD-1 checkpoint inhibitor",
			Targets:   []string{"PD-1"},
			Efficacy:  7.8,
			Toxicity:  3.5,
		},
		{
			ID:        "PRITAMAB",
			Name:      "Pritamab",
			Class:     domain.TARGETED,
			Mechanism: "Investigational bispecific antibody",
			Targets:   []string{"HER3"},
			Efficacy:  7.6,
			Toxicity:  2.0,
		},
	}
}

// SeedInteractions returns the built-in pairwise synergy table. Deltas are
// additive on the composite scale; negative entries model antagonism.
// Type-restricted entries come before unrestricted ones so that, per the
// first-applicable-wins lookup rule, trial evidence takes precedence.
func SeedInteractions() []domain.InteractionEntry {
	crc := []domain.CancerType{domain.COLORECTAL}
	lung := []domain.CancerType{domain.LUNG}
	breast := []domain.CancerType{domain.BREAST}

	return []domain.InteractionEntry{
		// Colorectal backbone doublets
		{DrugA: "FLUOROURACIL", DrugB: "OXALIPLATIN", Synergy: 1.25, Evidence: "MOSAIC (FOLFOX backbone)", CancerTypes: crc},
		{DrugA: "FLUOROURACIL", DrugB: "IRINOTECAN", Synergy: 1.10, Evidence: "FOLFIRI backbone", CancerTypes: crc},
		{DrugA: "BEVACIZUMAB", DrugB: "OXALIPLATIN", Synergy: 0.90, Evidence: "NO16966", CancerTypes: crc},
		{DrugA: "BEVACIZUMAB", DrugB: "FLUOROURACIL", Synergy: 0.85, Evidence: "AVF2107g", CancerTypes: crc},
		{DrugA: "CETUXIMAB", DrugB: "FLUOROURACIL", Synergy: 0.75, Evidence: "CRYSTAL", CancerTypes: crc},
		{DrugA: "CETUXIMAB", DrugB: "IRINOTECAN", Synergy: 0.80, Evidence: "BOND", CancerTypes: crc},

		// Lung doublets and checkpoint combinations
		{DrugA: "CISPLATIN", DrugB: "PACLITAXEL", Synergy: 1.00, Evidence: "ECOG 5592", CancerTypes: lung},
		{DrugA: "CISPLATIN", DrugB: "GEMCITABINE", Synergy: 0.90, Evidence: "Sandler 2000", CancerTypes: lung},
		{DrugA: "CISPLATIN", DrugB: "PEMBROLIZUMAB", Synergy: 1.20, Evidence: "KEYNOTE-189", CancerTypes: lung},
		{DrugA: "GEMCITABINE", DrugB: "PEMBROLIZUMAB", Synergy: 0.80, Evidence: "KEYNOTE-189", CancerTypes: lung},
		{DrugA: "PACLITAXEL", DrugB: "PEMBROLIZUMAB", Synergy: 1.05, Evidence: "KEYNOTE-407", CancerTypes: lung},

		// Breast doublets
		{DrugA: "DOXORUBICIN", DrugB: "PACLITAXEL", Synergy: 0.90, Evidence: "AT doublet", CancerTypes: breast},
		{DrugA: "GEMCITABINE", DrugB: "PACLITAXEL", Synergy: 0.95, Evidence: "JHQG", CancerTypes: breast},
		{DrugA: "DOXORUBICIN", DrugB: "GEMCITABINE", Synergy: 0.60, CancerTypes: breast},

		// Investigational agent, all primaries
		{DrugA: "PRITAMAB", DrugB: "FLUOROURACIL", Synergy: 1.00, Evidence: "Phase II"},
		{DrugA: "PRITAMAB", DrugB: "OXALIPLATIN", Synergy: 1.00, Evidence: "Phase II"},
		{DrugA: "PRITAMAB", DrugB: "PEMBROLIZUMAB", Synergy: 1.30, Evidence: "Phase Ib"},

		// Documented antagonism
		{DrugA: "FLUOROURACIL", DrugB: "GEMCITABINE", Synergy: -0.40, Evidence: "Overlapping antimetabolite mechanism"},
	}
}

// SeedSnapshot builds the compiled-in snapshot. The seed tables are
// validated like any other source, so a bad edit fails at startup.
func SeedSnapshot() (*Snapshot, error) {
	return NewSnapshot(SeedVersion, SeedDrugs(), SeedInteractions())
}
