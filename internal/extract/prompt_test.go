package extract

import (
	"strings"
	"testing"

	"github.com/litgrid/paperminer/internal/model"
)

func TestBuildPrompt_IncludesTargetsAndMetadata(t *testing.T) {
	meta := model.PaperMeta{
		PaperID: "p1",
		Title:   "Attention Is All You Need",
		Authors: []string{"Vaswani", "Shazeer"},
		Year:    2017,
	}
	prompt := BuildPrompt("# Abstract\nWe propose...", testTargets(), meta)

	for _, want := range []string{
		"1. methodology (required)",
		"2. dataset (required)",
		"3. code_url",
		"research methodology",
		"Output format: text",
		"Title: Attention Is All You Need",
		"Authors: Vaswani, Shazeer",
		"Year: 2017",
		"# Abstract",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	meta := model.PaperMeta{PaperID: "p1", Title: "T"}
	a := BuildPrompt("body", testTargets(), meta)
	b := BuildPrompt("body", testTargets(), meta)
	if a != b {
		t.Error("expected identical prompts for identical inputs")
	}
}

func TestBuildPrompt_TruncatesLongPapers(t *testing.T) {
	long := strings.Repeat("a", maxPaperChars+5000)
	prompt := BuildPrompt(long, testTargets(), model.PaperMeta{PaperID: "p1"})

	// The prompt carries at most maxPaperChars of paper body plus the fixed
	// preamble, so it must be far shorter than the raw input.
	if len(prompt) >= len(long) {
		t.Errorf("expected truncated prompt, got %d chars for %d char paper", len(prompt), len(long))
	}
}

func TestBuildPrompt_IncludesExamples(t *testing.T) {
	targets := []model.ExtractionTarget{
		{Name: "venue", Examples: []string{"NeurIPS 2024", "ICML 2023"}},
	}
	prompt := BuildPrompt("body", targets, model.PaperMeta{PaperID: "p1"})
	if !strings.Contains(prompt, "Example: NeurIPS 2024") {
		t.Error("expected examples in prompt")
	}
}

func TestSystemPrompt_PinsReplyContract(t *testing.T) {
	// The parser depends on these exact keys.
	for _, key := range []string{`"extractions"`, `"target_name"`, `"confidence"`} {
		if !strings.Contains(systemPrompt, key) {
			t.Errorf("expected system prompt to pin %s", key)
		}
	}
}
