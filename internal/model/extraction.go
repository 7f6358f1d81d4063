package model

import "time"

// PaperMeta identifies the paper being processed.
type PaperMeta struct {
	PaperID   string   `json:"paper_id"`
	Title     string   `json:"title,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	Venue     string   `json:"venue,omitempty"`
	Year      int      `json:"year,omitempty"`
	SourceURL string   `json:"source_url,omitempty"`
}

// ExtractionResult holds the outcome for a single target. Content is
// polymorphic: a string, list, or structured value depending on the
// target's output format.
type ExtractionResult struct {
	TargetName string  `json:"target_name"`
	Success    bool    `json:"success"`
	Content    any     `json:"content"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// PaperExtraction is the immutable record of one successful extraction call.
type PaperExtraction struct {
	PaperID    string             `json:"paper_id"`
	RunID      string             `json:"run_id"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	Fallback   bool               `json:"fallback"`
	Results    []ExtractionResult `json:"results"`
	TokensUsed int64              `json:"tokens_used"`
	CostUSD    float64            `json:"cost_usd"`
	Timestamp  time.Time          `json:"timestamp"`
}

// RequiredMissing returns the names of required targets whose result is
// synthesized (success=false).
func (p *PaperExtraction) RequiredMissing() []string {
	var missing []string
	for _, r := range p.Results {
		if !r.Success {
			missing = append(missing, r.TargetName)
		}
	}
	return missing
}

// TokenUsage tracks token consumption for one provider call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add merges token usage from another instance.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
