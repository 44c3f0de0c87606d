package regimen

import (
	"regexp"
	"strings"

	"github.com/oncorec-server/internal/domain"
)

// Enhanced drug id validation patterns
var (
	// Standard drug id: uppercase token that neither starts nor ends with
	// a hyphen or digit.
	standardDrugIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9-]*[A-Z0-9]$`)

	// Single-letter ids are accepted for compact reference tables.
	singleLetterDrugIDPattern = regexp.MustCompile(`^[A-Z]$`)
)

// maxDrugIDLength bounds identifiers to what the catalog and the feedback
// regimen_key column are sized for.
const maxDrugIDLength = 32

// DrugValidator validates drug identifiers against format rules and an
// optional registry of known catalog ids.
type DrugValidator struct {
	knownDrugs map[string]bool
}

// NewDrugValidator creates a drug validator with an empty registry.
func NewDrugValidator() *DrugValidator {
	return &DrugValidator{
		knownDrugs: make(map[string]bool),
	}
}

// ValidateDrugID validates identifier format and naming rules.
func (dv *DrugValidator) ValidateDrugID(id string) error {
	original := id
	id = strings.TrimSpace(id)

	if id == "" {
		return domain.NewInvalidRequestError("drug_id", "drug id cannot be empty", original)
	}

	if id != strings.ToUpper(id) {
		return domain.NewInvalidRequestError("drug_id",
			"drug id must be uppercase; resolve display names through the notation parser first", original)
	}

	if !dv.isValidDrugIDFormat(id) {
		return domain.NewInvalidRequestError("drug_id",
			"drug id must be uppercase letters, digits and hyphens, starting with a letter", original)
	}

	return dv.validateNamingRules(id)
}

// AddKnownDrug registers a catalog drug id.
func (dv *DrugValidator) AddKnownDrug(id string) {
	if dv.knownDrugs == nil {
		dv.knownDrugs = make(map[string]bool)
	}
	dv.knownDrugs[strings.ToUpper(strings.TrimSpace(id))] = true
}

// IsKnownDrug checks if a drug id is in the registry.
func (dv *DrugValidator) IsKnownDrug(id string) bool {
	if dv.knownDrugs == nil {
		return false
	}
	return dv.knownDrugs[strings.ToUpper(strings.TrimSpace(id))]
}

// ValidateKnownDrug validates format and registry membership. An empty
// registry validates format only; membership is enforced once the catalog
// has been loaded into the registry.
func (dv *DrugValidator) ValidateKnownDrug(id string) error {
	if err := dv.ValidateDrugID(id); err != nil {
		return err
	}

	if len(dv.knownDrugs) == 0 {
		return nil
	}
	if !dv.IsKnownDrug(id) {
		return domain.NewNotFoundError("drug", id)
	}
	return nil
}

// ValidateRegimen validates every drug id in a regimen, collecting errors
// so a caller can report all bad ids at once.
func (dv *DrugValidator) ValidateRegimen(r domain.Regimen) []error {
	var errs []error
	for _, id := range r.DrugIDs {
		if err := dv.ValidateKnownDrug(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// isValidDrugIDFormat checks basic drug id format.
func (dv *DrugValidator) isValidDrugIDFormat(id string) bool {
	if singleLetterDrugIDPattern.MatchString(id) {
		return true
	}
	return standardDrugIDPattern.MatchString(id)
}

// validateNamingRules enforces additional identifier rules.
func (dv *DrugValidator) validateNamingRules(id string) error {
	if id[0] >= '0' && id[0] <= '9' {
		return domain.NewInvalidRequestError("drug_id",
			"drug id cannot start with a digit", id)
	}

	if strings.HasSuffix(id, "-") {
		return domain.NewInvalidRequestError("drug_id",
			"drug id cannot end with a hyphen", id)
	}

	if strings.Contains(id, "--") {
		return domain.NewInvalidRequestError("drug_id",
			"drug id cannot contain consecutive hyphens", id)
	}

	if len(id) > maxDrugIDLength {
		return domain.NewInvalidRequestError("drug_id",
			"drug id exceeds the maximum identifier length", id)
	}

	return nil
}
