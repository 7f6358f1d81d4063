package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutputFormat_Valid(t *testing.T) {
	for _, f := range []OutputFormat{FormatText, FormatCode, FormatJSON, FormatList} {
		if !f.Valid() {
			t.Errorf("expected %s to be valid", f)
		}
	}
	if OutputFormat("xml").Valid() {
		t.Error("expected xml to be invalid")
	}
}

func TestValidateTargets_Empty(t *testing.T) {
	if err := ValidateTargets(nil); err == nil {
		t.Error("expected error for empty target set")
	}
}

func TestValidateTargets_DuplicateNames(t *testing.T) {
	targets := []ExtractionTarget{
		{Name: "dataset"},
		{Name: "dataset"},
	}
	err := ValidateTargets(targets)
	if err == nil {
		t.Fatal("expected error for duplicate names")
	}
	if !strings.Contains(err.Error(), "dataset") {
		t.Errorf("expected error to name the duplicate, got %q", err.Error())
	}
}

func TestValidateTargets_EmptyName(t *testing.T) {
	if err := ValidateTargets([]ExtractionTarget{{Name: ""}}); err == nil {
		t.Error("expected error for empty target name")
	}
}

func TestValidateTargets_UnknownFormat(t *testing.T) {
	targets := []ExtractionTarget{{Name: "dataset", OutputFormat: "xml"}}
	if err := ValidateTargets(targets); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestValidateTargets_EmptyFormatAllowed(t *testing.T) {
	targets := []ExtractionTarget{{Name: "dataset"}}
	if err := ValidateTargets(targets); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadTargetSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	content := `name: ml-papers
targets:
  - name: methodology
    description: research methodology used
    output_format: text
    required: true
  - name: datasets
    description: datasets used in experiments
    output_format: list
    examples:
      - "ImageNet"
      - "MIMIC-III"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ts, err := LoadTargetSet(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Name != "ml-papers" {
		t.Errorf("expected set name ml-papers, got %q", ts.Name)
	}
	if len(ts.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(ts.Targets))
	}
	if !ts.Targets[0].Required {
		t.Error("expected methodology to be required")
	}
	if ts.Targets[1].OutputFormat != FormatList {
		t.Errorf("expected list format, got %s", ts.Targets[1].OutputFormat)
	}
	if len(ts.Targets[1].Examples) != 2 {
		t.Errorf("expected 2 examples, got %d", len(ts.Targets[1].Examples))
	}
}

func TestLoadTargetSet_MissingFile(t *testing.T) {
	if _, err := LoadTargetSet(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadTargetSet_InvalidTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	content := `name: bad
targets:
  - name: dup
  - name: dup
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTargetSet(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestPaperExtraction_RequiredMissing(t *testing.T) {
	ex := PaperExtraction{Results: []ExtractionResult{
		{TargetName: "methodology", Success: true},
		{TargetName: "dataset", Success: false, Error: "not found"},
	}}
	missing := ex.RequiredMissing()
	if len(missing) != 1 || missing[0] != "dataset" {
		t.Errorf("expected [dataset], got %v", missing)
	}
}

func TestTokenUsage_TotalAndAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 50}
	if u.Total() != 150 {
		t.Errorf("expected 150, got %d", u.Total())
	}
	u.Add(TokenUsage{InputTokens: 10, OutputTokens: 5})
	if u.InputTokens != 110 || u.OutputTokens != 55 {
		t.Errorf("unexpected usage after Add: %+v", u)
	}
}
