package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// OutputFormat constrains the shape a target's extracted content may take.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatCode OutputFormat = "code"
	FormatJSON OutputFormat = "json"
	FormatList OutputFormat = "list"
)

// Valid reports whether the format is one of the known values.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatText, FormatCode, FormatJSON, FormatList:
		return true
	}
	return false
}

// ExtractionTarget is a named field the pipeline wants the LLM to produce
// from paper text. Targets are immutable once loaded.
type ExtractionTarget struct {
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description" yaml:"description"`
	OutputFormat OutputFormat `json:"output_format" yaml:"output_format"`
	Required     bool         `json:"required" yaml:"required"`
	Examples     []string     `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// TargetSet is a named collection of extraction targets loaded from YAML.
type TargetSet struct {
	Name    string             `yaml:"name"`
	Targets []ExtractionTarget `yaml:"targets"`
}

// LoadTargetSet reads and validates a target set from a YAML file.
func LoadTargetSet(path string) (*TargetSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "model: read target set")
	}

	var ts TargetSet
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, eris.Wrap(err, "model: parse target set")
	}

	if err := ValidateTargets(ts.Targets); err != nil {
		return nil, err
	}
	return &ts, nil
}

// ValidateTargets checks name uniqueness and output formats.
func ValidateTargets(targets []ExtractionTarget) error {
	if len(targets) == 0 {
		return eris.New("model: target set is empty")
	}
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t.Name == "" {
			return eris.New("model: target with empty name")
		}
		if _, dup := seen[t.Name]; dup {
			return eris.Errorf("model: duplicate target name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.OutputFormat != "" && !t.OutputFormat.Valid() {
			return eris.Errorf("model: target %q has unknown output format %q", t.Name, t.OutputFormat)
		}
	}
	return nil
}
