// Package regimen parses and validates drug-combination notation. Notation
// is drug tokens joined by "+", "," or "/", for example
// "FLUOROURACIL+OXALIPLATIN" or "5-FU / L-OHP"; tokens resolve through a
// shorthand alias table onto catalog drug identifiers.
package regimen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oncorec-server/internal/domain"
)

var (
	// Tokens may be joined by "+", "," or "/" with optional whitespace.
	separatorPattern = regexp.MustCompile(`\s*[+,/]\s*`)

	// Literature shorthands and common names mapped to catalog drug ids.
	drugAliases = map[string]string{
		"5-FU":           "FLUOROURACIL",
		"5FU":            "FLUOROURACIL",
		"5-FLUOROURACIL": "FLUOROURACIL",
		"L-OHP":          "OXALIPLATIN",
		"CPT-11":         "IRINOTECAN",
		"CDDP":           "CISPLATIN",
		"TAXOL":          "PACLITAXEL",
		"ADRIAMYCIN":     "DOXORUBICIN",
	}
)

// Components represents notation split into raw tokens and the drug ids
// they resolved to, position for position.
type Components struct {
	Original string   `json:"original"`
	Tokens   []string `json:"tokens"`
	DrugIDs  []string `json:"drug_ids"`
}

// Parser turns combination notation into canonical regimens.
type Parser struct {
	validator *Validator
	aliases   map[string]string
}

// NewParser creates a notation parser with the built-in alias table.
func NewParser() *Parser {
	aliases := make(map[string]string, len(drugAliases))
	for alias, id := range drugAliases {
		aliases[alias] = id
	}
	return &Parser{
		validator: NewValidator(),
		aliases:   aliases,
	}
}

// RegisterAlias maps an additional shorthand onto a drug id. Aliases are
// matched case-insensitively.
func (p *Parser) RegisterAlias(alias, drugID string) error {
	alias = strings.ToUpper(strings.TrimSpace(alias))
	drugID = strings.ToUpper(strings.TrimSpace(drugID))

	if alias == "" {
		return domain.NewInvalidRequestError("alias", "alias cannot be empty", alias)
	}
	if err := p.validator.ValidateDrugID(drugID); err != nil {
		return err
	}

	p.aliases[alias] = drugID
	return nil
}

// Parse parses combination notation into a canonical regimen.
func (p *Parser) Parse(input string) (domain.Regimen, error) {
	components, err := p.ParseComponents(input)
	if err != nil {
		return domain.Regimen{}, err
	}

	r, err := domain.NewRegimen(components.DrugIDs...)
	if err != nil {
		return domain.Regimen{}, fmt.Errorf("parsing notation %q: %w", input, err)
	}
	return r, nil
}

// Canonicalize parses notation and returns the canonical key, sorted drug
// ids joined by "+".
func (p *Parser) Canonicalize(input string) (string, error) {
	r, err := p.Parse(input)
	if err != nil {
		return "", err
	}
	return r.Key(), nil
}

// ParseComponents splits notation into tokens and resolves each to a drug
// id without building the regimen, so callers can report token-level
// problems. Size and duplicate checks happen in Parse.
func (p *Parser) ParseComponents(input string) (*Components, error) {
	if err := p.validator.ValidateNotation(input); err != nil {
		return nil, err
	}

	tokens := separatorPattern.Split(strings.TrimSpace(input), -1)
	components := &Components{
		Original: input,
		Tokens:   make([]string, 0, len(tokens)),
		DrugIDs:  make([]string, 0, len(tokens)),
	}

	for _, token := range tokens {
		id, err := p.CanonicalDrugID(token)
		if err != nil {
			return nil, err
		}
		components.Tokens = append(components.Tokens, strings.TrimSpace(token))
		components.DrugIDs = append(components.DrugIDs, id)
	}

	return components, nil
}

// CanonicalDrugID resolves a single token to its drug id. Aliases are
// consulted before format validation so shorthands like "5-FU" that do not
// themselves look like drug ids still resolve.
func (p *Parser) CanonicalDrugID(token string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized == "" {
		return "", domain.NewInvalidRequestError("regimen", "drug token cannot be empty", token)
	}

	if id, ok := p.aliases[normalized]; ok {
		return id, nil
	}

	if err := p.validator.ValidateDrugID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
