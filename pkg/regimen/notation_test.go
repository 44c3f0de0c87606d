package regimen

import (
	"errors"
	"testing"

	"github.com/oncorec-server/internal/domain"
)

func TestParse(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		// Valid notation
		{"Canonical doublet", "FLUOROURACIL+OXALIPLATIN", "FLUOROURACIL+OXALIPLATIN", false},
		{"Unsorted input is canonicalized", "OXALIPLATIN+FLUOROURACIL", "FLUOROURACIL+OXALIPLATIN", false},
		{"Slash separator", "CISPLATIN/GEMCITABINE", "CISPLATIN+GEMCITABINE", false},
		{"Comma separator with space", "CISPLATIN, PEMBROLIZUMAB", "CISPLATIN+PEMBROLIZUMAB", false},
		{"Lowercase tokens", "cisplatin+gemcitabine", "CISPLATIN+GEMCITABINE", false},
		{"Shorthand aliases", "5-FU + L-OHP", "FLUOROURACIL+OXALIPLATIN", false},
		{"Common name alias", "Taxol+Adriamycin", "DOXORUBICIN+PACLITAXEL", false},
		{"Single drug", "PEMBROLIZUMAB", "PEMBROLIZUMAB", false},
		{"Triplet", "FLUOROURACIL+OXALIPLATIN+BEVACIZUMAB", "BEVACIZUMAB+FLUOROURACIL+OXALIPLATIN", false},
		{"Surrounding whitespace", "  GEMCITABINE / CISPLATIN  ", "CISPLATIN+GEMCITABINE", false},

		// Invalid notation
		{"Empty input", "", "", true},
		{"Blank input", "   ", "", true},
		{"Empty token", "FLUOROURACIL++OXALIPLATIN", "", true},
		{"Trailing separator", "FLUOROURACIL+", "", true},
		{"Leading separator", "+FLUOROURACIL", "", true},
		{"Duplicate after alias resolution", "5-FU+FLUOROURACIL", "", true},
		{"Four drugs", "A+B+C+D", "", true},
		{"Invalid token characters", "FLUORO_URACIL", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := parser.Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && r.Key() != tt.wantKey {
				t.Errorf("Parse() key = %q, want %q", r.Key(), tt.wantKey)
			}
		})
	}
}

func TestParseErrorKinds(t *testing.T) {
	parser := NewParser()

	if _, err := parser.Parse("A+B+C+D"); !errors.Is(err, domain.ErrInvalidRegimen) {
		t.Errorf("oversize notation error = %v, want ErrInvalidRegimen", err)
	}
	if _, err := parser.Parse("5-FU+FLUOROURACIL"); !errors.Is(err, domain.ErrInvalidRegimen) {
		t.Errorf("duplicate notation error = %v, want ErrInvalidRegimen", err)
	}
	if _, err := parser.Parse("FLUORO_URACIL"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("bad token error = %v, want ErrInvalidRequest", err)
	}
	if _, err := parser.Parse(""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty notation error = %v, want ErrInvalidRequest", err)
	}
}

func TestParseComponents(t *testing.T) {
	parser := NewParser()

	components, err := parser.ParseComponents("5-FU / Taxol")
	if err != nil {
		t.Fatalf("ParseComponents() unexpected error: %v", err)
	}

	if components.Original != "5-FU / Taxol" {
		t.Errorf("Original = %q, want input preserved", components.Original)
	}

	wantTokens := []string{"5-FU", "Taxol"}
	wantIDs := []string{"FLUOROURACIL", "PACLITAXEL"}
	if len(components.Tokens) != len(wantTokens) {
		t.Fatalf("got %d tokens, want %d", len(components.Tokens), len(wantTokens))
	}
	for i := range wantTokens {
		if components.Tokens[i] != wantTokens[i] {
			t.Errorf("Tokens[%d] = %q, want %q", i, components.Tokens[i], wantTokens[i])
		}
		if components.DrugIDs[i] != wantIDs[i] {
			t.Errorf("DrugIDs[%d] = %q, want %q", i, components.DrugIDs[i], wantIDs[i])
		}
	}
}

func TestParseComponentsSkipsSizeCheck(t *testing.T) {
	parser := NewParser()

	// Size and duplicate checks belong to Parse; component splitting is
	// useful for diagnostics on any token count.
	components, err := parser.ParseComponents("A+B+C+D")
	if err != nil {
		t.Fatalf("ParseComponents() unexpected error: %v", err)
	}
	if len(components.DrugIDs) != 4 {
		t.Errorf("got %d drug ids, want 4", len(components.DrugIDs))
	}
}

func TestCanonicalize(t *testing.T) {
	parser := NewParser()

	key, err := parser.Canonicalize("OXALIPLATIN / 5-fu")
	if err != nil {
		t.Fatalf("Canonicalize() unexpected error: %v", err)
	}
	if key != "FLUOROURACIL+OXALIPLATIN" {
		t.Errorf("Canonicalize() = %q, want %q", key, "FLUOROURACIL+OXALIPLATIN")
	}

	if _, err := parser.Canonicalize("   "); err == nil {
		t.Error("Canonicalize() on blank input should fail")
	}
}

func TestRegisterAlias(t *testing.T) {
	parser := NewParser()

	if err := parser.RegisterAlias("PEMBRO", "PEMBROLIZUMAB"); err != nil {
		t.Fatalf("RegisterAlias() unexpected error: %v", err)
	}

	key, err := parser.Canonicalize("cisplatin+pembro")
	if err != nil {
		t.Fatalf("Canonicalize() unexpected error: %v", err)
	}
	if key != "CISPLATIN+PEMBROLIZUMAB" {
		t.Errorf("Canonicalize() = %q, want registered alias resolved", key)
	}

	if err := parser.RegisterAlias("", "PEMBROLIZUMAB"); err == nil {
		t.Error("RegisterAlias() with empty alias should fail")
	}
	if err := parser.RegisterAlias("GEM", "bad id"); err == nil {
		t.Error("RegisterAlias() with malformed drug id should fail")
	}
}

func TestCanonicalDrugID(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"Plain id passes through", "GEMCITABINE", "GEMCITABINE", false},
		{"Lowercase normalized", "gemcitabine", "GEMCITABINE", false},
		{"Alias resolved", "5-FU", "FLUOROURACIL", false},
		{"Alias case-insensitive", "adriamycin", "DOXORUBICIN", false},
		{"Padded token", " CDDP ", "CISPLATIN", false},
		{"Empty token", "", "", true},
		{"Malformed token", "GEM_CITABINE", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.CanonicalDrugID(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("CanonicalDrugID() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("CanonicalDrugID() = %q, want %q", got, tt.want)
			}
		})
	}
}
