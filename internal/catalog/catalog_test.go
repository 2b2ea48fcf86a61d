package catalog

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Invariants(t *testing.T) {
	cat := Default()

	if cat.Len() == 0 {
		t.Fatal("expected built-in models")
	}
	for _, s := range cat.Models() {
		if s.HasThinking && s.CostPerMillionThinking == nil {
			t.Errorf("%s: thinking model without thinking rate", s.ID)
		}
		if s.AlternativeModelID != "" {
			if _, ok := cat.Lookup(s.AlternativeModelID); !ok {
				t.Errorf("%s: alternative %s not in catalog", s.ID, s.AlternativeModelID)
			}
		}
	}
}

func TestLookup_CaseInsensitive(t *testing.T) {
	cat := Default()

	tests := []struct {
		id     string
		wantOK bool
	}{
		{"gpt-4o", true},
		{"GPT-4O", true},
		{"  gpt-5.2 ", true},
		{"gpt-99", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, ok := cat.Lookup(tt.id)
			if ok != tt.wantOK {
				t.Errorf("Lookup(%q) ok = %v, want %v", tt.id, ok, tt.wantOK)
			}
		})
	}
}

func TestLookup_NilCatalog(t *testing.T) {
	var cat *Catalog
	if _, ok := cat.Lookup("gpt-4o"); ok {
		t.Error("expected nil catalog to find nothing")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		specs []ModelSpec
	}{
		{"empty id", []ModelSpec{{ID: " "}}},
		{"thinking without rate", []ModelSpec{{ID: "x", HasThinking: true}}},
		{"negative rate", []ModelSpec{{ID: "x", CostPerMillionInput: -1}}},
		{"negative tax", []ModelSpec{{ID: "x", LegacyTaxRatio: -0.1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs)
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestNew_LaterEntryWins(t *testing.T) {
	cat, err := New([]ModelSpec{
		{ID: "m", CostPerMillionInput: 1},
		{ID: "M", CostPerMillionInput: 2, DisplayName: "Model M"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := cat.Lookup("m")
	if s.CostPerMillionInput != 2 {
		t.Errorf("expected override, got %f", s.CostPerMillionInput)
	}
	if cat.DisplayName("m") != "Model M" {
		t.Errorf("unexpected display name %q", cat.DisplayName("m"))
	}
	if cat.DisplayName("other") != "other" {
		t.Errorf("expected raw id fallback")
	}
}

func TestCost(t *testing.T) {
	cat := Default()

	gpt4o, _ := cat.Lookup("gpt-4o")
	b := Cost(gpt4o, 1000, 500, 9999)
	if math.Abs(b.Total()-0.0075) > 1e-12 {
		t.Errorf("expected 0.0075, got %f", b.Total())
	}
	if b.ThinkingCost != 0 {
		t.Errorf("expected no thinking cost for gpt-4o, got %f", b.ThinkingCost)
	}

	thinking, _ := cat.Lookup("gpt-5-thinking")
	b = Cost(thinking, 0, 200, 1500)
	if math.Abs(b.ThinkingCost-0.03) > 1e-12 {
		t.Errorf("expected thinking cost 0.03, got %f", b.ThinkingCost)
	}
}

func TestAlternative(t *testing.T) {
	cat := Default()

	alt, ok := cat.Alternative("gpt-4o")
	if !ok || alt.ID != "gpt-5.2" {
		t.Errorf("expected gpt-5.2, got %q (%v)", alt.ID, ok)
	}
	if _, ok := cat.Alternative("gpt-5-nano"); ok {
		t.Error("expected no alternative for gpt-5-nano")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `models:
  - id: gpt-4o
    input: 5.00
    output: 15.00
    legacy: true
    legacy_tax: 0.9
    alternative: gpt-5-mini
  - id: house-model
    display_name: House Model
    input: 1
    output: 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, ok := cat.Lookup("gpt-4o")
	if !ok || s.CostPerMillionInput != 5 || s.LegacyTaxRatio != 0.9 || s.AlternativeModelID != "gpt-5-mini" {
		t.Errorf("override not applied: %+v", s)
	}
	if _, ok := cat.Lookup("gpt-5.2"); !ok {
		t.Error("expected built-in models to be kept")
	}
	if cat.DisplayName("house-model") != "House Model" {
		t.Errorf("unexpected display name %q", cat.DisplayName("house-model"))
	}
}

func TestLoadFile_ReplaceDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `replace_defaults: true
models:
  - id: only-model
    input: 1
    output: 1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Len() != 1 {
		t.Errorf("expected 1 model, got %d", cat.Len())
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := "models:\n  - id: r\n    has_thinking: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestLoadFile_EmptyPath(t *testing.T) {
	cat, err := LoadFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Len() != Default().Len() {
		t.Error("expected built-in catalog")
	}
}

func TestLookup_DatedSnapshots(t *testing.T) {
	cat := Default()

	tests := []struct {
		id     string
		wantID string
		wantOK bool
	}{
		{"gpt-4o-2024-08-06", "gpt-4o", true},
		{"GPT-4O-MINI-2024-07-18", "gpt-4o-mini", true},
		{"gpt-4-0613", "gpt-4", true},
		{"gpt-4o-audio-preview", "", false},
		{"gpt-99-2024-01-01", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s, ok := cat.Lookup(tt.id)
			if ok != tt.wantOK || s.ID != tt.wantID {
				t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.id, s.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestLookup_ListedSnapshotWins(t *testing.T) {
	cat, err := New([]ModelSpec{
		{ID: "gpt-4o", CostPerMillionInput: 2.5, CostPerMillionOutput: 10},
		{ID: "gpt-4o-2024-05-13", CostPerMillionInput: 5, CostPerMillionOutput: 15},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s, ok := cat.Lookup("gpt-4o-2024-05-13")
	if !ok || s.CostPerMillionInput != 5 {
		t.Errorf("Lookup() = %+v, %v; want the listed snapshot", s, ok)
	}
}
