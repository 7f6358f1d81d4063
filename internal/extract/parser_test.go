package extract

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/litgrid/paperminer/internal/model"
)

func testTargets() []model.ExtractionTarget {
	return []model.ExtractionTarget{
		{Name: "methodology", Description: "research methodology", OutputFormat: model.FormatText, Required: true},
		{Name: "dataset", Description: "dataset used", OutputFormat: model.FormatText, Required: true},
		{Name: "code_url", Description: "link to released code", OutputFormat: model.FormatText},
	}
}

func TestParser_Parse_WellFormedReply(t *testing.T) {
	p := NewParser()
	reply := `{"extractions": [
		{"target_name": "methodology", "success": true, "content": "randomized controlled trial", "confidence": 0.92},
		{"target_name": "dataset", "success": true, "content": "MIMIC-III", "confidence": 0.88},
		{"target_name": "code_url", "success": false, "error": "not mentioned"}
	]}`

	results, err := p.Parse(reply, testTargets(), "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].TargetName != "methodology" || !results[0].Success {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[0].Confidence != 0.92 {
		t.Errorf("expected confidence 0.92, got %v", results[0].Confidence)
	}
	if results[2].Success {
		t.Error("expected code_url to be a failed result")
	}
	if results[2].Error != "not mentioned" {
		t.Errorf("unexpected error text: %q", results[2].Error)
	}
}

func TestParser_Parse_CodeFencedReply(t *testing.T) {
	p := NewParser()
	reply := "```json\n" + `{"extractions": [{"target_name": "methodology", "success": true, "content": "survey"}]}` + "\n```"

	results, err := p.Parse(reply, testTargets(), "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Content != "survey" {
		t.Errorf("expected content survey, got %v", results[0].Content)
	}
}

func TestParser_Parse_InvalidJSON(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("I could not process this paper.", testTargets(), "anthropic")
	if err == nil {
		t.Fatal("expected parse error")
	}

	var parseErr *JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected JSONParseError, got %T", err)
	}
	if parseErr.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", parseErr.Provider)
	}
	if !strings.Contains(parseErr.Snippet, "could not process") {
		t.Errorf("expected snippet to carry reply content, got %q", parseErr.Snippet)
	}
}

func TestParser_Parse_MissingExtractionsKey(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(`{"results": []}`, testTargets(), "openai")
	if err == nil {
		t.Fatal("expected parse error")
	}

	var parseErr *JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected JSONParseError, got %T", err)
	}
	if !strings.Contains(parseErr.Reason, "extractions") {
		t.Errorf("expected reason to name the missing key, got %q", parseErr.Reason)
	}
}

func TestParser_Parse_ExtractionsNotAList(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(`{"extractions": {"target_name": "methodology"}}`, testTargets(), "anthropic")

	var parseErr *JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected JSONParseError, got %T", err)
	}
}

func TestParser_Parse_ExtractionsNull(t *testing.T) {
	p := NewParser()
	// null unmarshals into a nil slice without error; it must still be
	// rejected rather than producing only synthesized failures.
	_, err := p.Parse(`{"extractions": null}`, testTargets(), "anthropic")

	var parseErr *JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected JSONParseError, got %T", err)
	}
	if !strings.Contains(parseErr.Reason, "not a list") {
		t.Errorf("expected not-a-list reason, got %q", parseErr.Reason)
	}
}

func TestParser_Parse_SnippetBounded(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(strings.Repeat("x", 2000), testTargets(), "anthropic")

	var parseErr *JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected JSONParseError, got %T", err)
	}
	if len(parseErr.Snippet) > parseSnippetLen {
		t.Errorf("expected snippet capped at %d chars, got %d", parseSnippetLen, len(parseErr.Snippet))
	}
}

func TestParser_Parse_SnippetKeepsRunesIntact(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(strings.Repeat("é", 2000), testTargets(), "anthropic")

	var parseErr *JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected JSONParseError, got %T", err)
	}
	if got := utf8.RuneCountInString(parseErr.Snippet); got != parseSnippetLen {
		t.Errorf("expected %d runes in snippet, got %d", parseSnippetLen, got)
	}
	if !utf8.ValidString(parseErr.Snippet) {
		t.Error("expected snippet truncated on a rune boundary")
	}
}

func TestParser_Parse_SynthesizesMissingRequired(t *testing.T) {
	p := NewParser()
	// Reply only covers methodology; dataset (required) and code_url
	// (optional) are absent.
	reply := `{"extractions": [{"target_name": "methodology", "success": true, "content": "case study"}]}`

	results, err := p.Parse(reply, testTargets(), "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results (1 real + 1 synthesized), got %d", len(results))
	}

	synth := results[1]
	if synth.TargetName != "dataset" {
		t.Errorf("expected synthesized result for dataset, got %s", synth.TargetName)
	}
	if synth.Success {
		t.Error("synthesized result must be a failure")
	}
	if synth.Error != requiredMissingMsg {
		t.Errorf("unexpected synthesized error: %q", synth.Error)
	}
}

func TestParser_Parse_OptionalMissing_NotSynthesized(t *testing.T) {
	p := NewParser()
	reply := `{"extractions": [
		{"target_name": "methodology", "success": true, "content": "a"},
		{"target_name": "dataset", "success": true, "content": "b"}
	]}`

	results, err := p.Parse(reply, testTargets(), "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.TargetName == "code_url" {
			t.Error("optional missing target must not be synthesized")
		}
	}
}

func TestParser_Parse_DropsUnrequestedTargets(t *testing.T) {
	p := NewParser()
	reply := `{"extractions": [
		{"target_name": "methodology", "success": true, "content": "a"},
		{"target_name": "hallucinated_field", "success": true, "content": "x"},
		{"target_name": "", "success": true, "content": "y"}
	]}`

	results, err := p.Parse(reply, testTargets(), "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.TargetName == "hallucinated_field" || r.TargetName == "" {
			t.Errorf("unexpected result for %q", r.TargetName)
		}
	}
}

func TestParser_Parse_NormalizesTargetNames(t *testing.T) {
	p := NewParser()
	// Casing drift in the reply still matches the requested target, and the
	// result carries the canonical name.
	reply := `{"extractions": [{"target_name": "  Methodology ", "success": true, "content": "a"}]}`

	results, err := p.Parse(reply, testTargets(), "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].TargetName != "methodology" {
		t.Errorf("expected canonical name methodology, got %q", results[0].TargetName)
	}
	// The required dataset target is still synthesized.
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestParser_Parse_DefaultsWhenFieldsAbsent(t *testing.T) {
	p := NewParser()
	reply := `{"extractions": [{"target_name": "code_url", "content": "https://example.org/code"}]}`

	results, err := p.Parse(reply, []model.ExtractionTarget{{Name: "code_url"}}, "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := results[0]
	if !r.Success {
		t.Error("absent success field should default to true")
	}
	if r.Confidence != 0 {
		t.Errorf("absent confidence should default to 0, got %v", r.Confidence)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllProvidersFailedError_DeterministicMessage(t *testing.T) {
	err := &AllProvidersFailedError{ProviderErrors: map[string]string{
		"openai":    "timeout",
		"anthropic": "rate limited",
	}}
	want := "all providers failed: anthropic: rate limited; openai: timeout"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
