package regimen

import (
	"regexp"
	"strings"

	"github.com/oncorec-server/internal/domain"
)

// Drug id pattern: uppercase letters, digits and hyphens, starting with a
// letter, e.g. FLUOROURACIL or CPT-11.
var drugIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9-]*$`)

// Validator provides string-level notation validation used by the Parser.
type Validator struct{}

// NewValidator creates a new notation validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateNotation checks the shape of combination notation before token
// resolution: non-empty, and no empty tokens between separators.
func (v *Validator) ValidateNotation(notation string) error {
	trimmed := strings.TrimSpace(notation)
	if trimmed == "" {
		return domain.NewInvalidRequestError("regimen", "notation cannot be empty", notation)
	}

	for _, token := range separatorPattern.Split(trimmed, -1) {
		if strings.TrimSpace(token) == "" {
			return domain.NewInvalidRequestError("regimen", "notation has an empty drug token", notation)
		}
	}
	return nil
}

// ValidateDrugID checks basic drug identifier format.
func (v *Validator) ValidateDrugID(id string) error {
	if id == "" {
		return domain.NewInvalidRequestError("drug_id", "drug id cannot be empty", id)
	}

	if !drugIDPattern.MatchString(id) {
		return domain.NewInvalidRequestError("drug_id",
			"drug id must be uppercase letters, digits and hyphens, starting with a letter", id)
	}
	return nil
}
