// Package catalog holds the drug reference data and pairwise interaction
// evidence behind immutable snapshots. A snapshot is built once, validated,
// and never mutated; reloads swap the whole snapshot atomically so in-flight
// scoring never observes a partially updated catalog.
package catalog

import (
	"fmt"
	"sort"

	"github.com/oncorec-server/internal/domain"
)

// Snapshot is one immutable, validated view of the drug catalog and the
// interaction table. All lookups are read-only.
type Snapshot struct {
	version      string
	drugs        map[string]domain.Drug
	sortedIDs    []string
	interactions map[string][]domain.InteractionEntry
}

// NewSnapshot validates and indexes reference data into a snapshot.
// Violations (duplicate ids, out-of-bound scores, interactions referencing
// unknown drugs) are configuration errors: the caller must fail fast, not
// serve a partial catalog.
func NewSnapshot(version string, drugs []domain.Drug, interactions []domain.InteractionEntry) (*Snapshot, error) {
	if version == "" {
		return nil, domain.NewConfigError("catalog", "snapshot version is required")
	}
	if len(drugs) == 0 {
		return nil, domain.NewConfigError("catalog", "catalog must contain at least one drug")
	}

	byID := make(map[string]domain.Drug, len(drugs))
	ids := make([]string, 0, len(drugs))
	for _, d := range drugs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog drug %s: %w", d.ID, err)
		}
		if _, dup := byID[d.ID]; dup {
			return nil, domain.NewConfigError("catalog", fmt.Sprintf("duplicate drug id %s", d.ID))
		}
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)

	byPair := make(map[string][]domain.InteractionEntry, len(interactions))
	for _, e := range interactions {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("interaction %s: %w", e.Key(), err)
		}
		if _, ok := byID[e.DrugA]; !ok {
			return nil, domain.NewConfigError("catalog", fmt.Sprintf("interaction %s references unknown drug %s", e.Key(), e.DrugA))
		}
		if _, ok := byID[e.DrugB]; !ok {
			return nil, domain.NewConfigError("catalog", fmt.Sprintf("interaction %s references unknown drug %s", e.Key(), e.DrugB))
		}
		key := e.Key()
		byPair[key] = append(byPair[key], e)
	}

	return &Snapshot{
		version:      version,
		drugs:        byID,
		sortedIDs:    ids,
		interactions: byPair,
	}, nil
}

// Version returns the snapshot version stamp recorded on every scored
// regimen for audit.
func (s *Snapshot) Version() string {
	return s.version
}

// Len returns the number of drugs in the catalog.
func (s *Snapshot) Len() int {
	return len(s.sortedIDs)
}

// Lookup returns the drug for an identifier, or a NotFoundError for unknown
// ids. It has no side effects.
func (s *Snapshot) Lookup(drugID string) (domain.Drug, error) {
	d, ok := s.drugs[drugID]
	if !ok {
		return domain.Drug{}, domain.NewNotFoundError("drug", drugID)
	}
	return d, nil
}

// DrugIDs returns all drug identifiers in lexicographic order. The slice is
// a copy; snapshots stay immutable.
func (s *Snapshot) DrugIDs() []string {
	ids := make([]string, len(s.sortedIDs))
	copy(ids, s.sortedIDs)
	return ids
}

// Drugs returns all drugs in id order.
func (s *Snapshot) Drugs() []domain.Drug {
	out := make([]domain.Drug, 0, len(s.sortedIDs))
	for _, id := range s.sortedIDs {
		out = append(out, s.drugs[id])
	}
	return out
}

// Interaction returns the synergy entry applicable to the unordered pair
// (a, b) for the given cancer type. When several entries exist for a pair,
// the first applicable one in table order wins, which keeps lookups
// deterministic for a given snapshot. The second return is false when no
// entry is on file; absence of prior data is not an error.
func (s *Snapshot) Interaction(a, b string, ct domain.CancerType) (domain.InteractionEntry, bool) {
	for _, e := range s.interactions[domain.PairKey(a, b)] {
		if e.AppliesTo(ct) {
			return e, true
		}
	}
	return domain.InteractionEntry{}, false
}

// InteractionCount returns the number of interaction entries on file.
func (s *Snapshot) InteractionCount() int {
	n := 0
	for _, entries := range s.interactions {
		n += len(entries)
	}
	return n
}
