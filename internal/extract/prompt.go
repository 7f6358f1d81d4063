package extract

import (
	"fmt"
	"strings"

	"github.com/litgrid/paperminer/internal/model"
)

// systemPrompt pins the reply contract the parser depends on.
const systemPrompt = `You are a research analyst extracting structured information from academic papers. Return a single valid JSON object of the form {"extractions": [{"target_name": "<name>", "success": <bool>, "content": <value>, "confidence": <0.0-1.0>}]}. Include one entry per requested target. If a target cannot be found in the paper, set success to false and content to null. Do not include any text outside the JSON object.`

// maxPaperChars bounds how much paper text goes into one prompt.
const maxPaperChars = 60000

// BuildPrompt renders the user prompt for one paper. Deterministic given
// its inputs: targets are emitted in caller order.
func BuildPrompt(markdown string, targets []model.ExtractionTarget, meta model.PaperMeta) string {
	var b strings.Builder

	b.WriteString("Extract the following targets from the paper below.\n\nTargets:\n")
	for i, t := range targets {
		fmt.Fprintf(&b, "%d. %s", i+1, t.Name)
		if t.Required {
			b.WriteString(" (required)")
		}
		b.WriteString("\n")
		if t.Description != "" {
			fmt.Fprintf(&b, "   Description: %s\n", t.Description)
		}
		if t.OutputFormat != "" {
			fmt.Fprintf(&b, "   Output format: %s\n", t.OutputFormat)
		}
		for _, ex := range t.Examples {
			fmt.Fprintf(&b, "   Example: %s\n", ex)
		}
	}

	b.WriteString("\n--- Paper Metadata ---\n")
	if meta.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", meta.Title)
	}
	if len(meta.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(meta.Authors, ", "))
	}
	if meta.Venue != "" {
		fmt.Fprintf(&b, "Venue: %s\n", meta.Venue)
	}
	if meta.Year > 0 {
		fmt.Fprintf(&b, "Year: %d\n", meta.Year)
	}
	if meta.SourceURL != "" {
		fmt.Fprintf(&b, "Source: %s\n", meta.SourceURL)
	}

	body := markdown
	if len(body) > maxPaperChars {
		body = body[:maxPaperChars]
	}
	b.WriteString("\n--- Paper Content ---\n")
	b.WriteString(body)

	return b.String()
}
