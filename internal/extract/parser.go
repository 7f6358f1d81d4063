package extract

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/litgrid/paperminer/internal/model"
)

// requiredMissingMsg is the synthesized error for required targets the
// provider never mentioned.
const requiredMissingMsg = "Required target not found in LLM response"

// Parser turns a raw provider reply into validated ExtractionResults.
// Stateless and safe for concurrent use.
type Parser struct {
	fold cases.Caser
}

// NewParser creates a response parser.
func NewParser() *Parser {
	return &Parser{fold: cases.Fold()}
}

// replyEntry is one element of the provider's "extractions" list. Pointer
// fields distinguish absent from zero so defaults apply only when missing.
type replyEntry struct {
	TargetName string   `json:"target_name"`
	Success    *bool    `json:"success"`
	Content    any      `json:"content"`
	Confidence *float64 `json:"confidence"`
	Error      *string  `json:"error"`
}

// Parse validates rawReply against the requested targets. Reconciliation is
// two-pass: first response-driven (each reply entry matched to a requested
// target, unknown names dropped), then requirement-driven (a failed result
// synthesized for every required target the reply omitted).
func (p *Parser) Parse(rawReply string, targets []model.ExtractionTarget, providerName string) ([]model.ExtractionResult, error) {
	content := stripCodeFence(rawReply)

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, newParseError(providerName, "invalid JSON: "+err.Error(), content, err)
	}

	rawList, ok := payload["extractions"]
	if !ok {
		return nil, newParseError(providerName, `missing "extractions" key`, content, nil)
	}

	// A JSON null unmarshals into a nil slice without error, so reject it
	// explicitly; the key must hold an actual list.
	if string(rawList) == "null" {
		return nil, newParseError(providerName, `"extractions" is not a list`, content, nil)
	}
	var entries []replyEntry
	if err := json.Unmarshal(rawList, &entries); err != nil {
		return nil, newParseError(providerName, `"extractions" is not a list`, content, err)
	}

	// Requested target names, keyed by their normalized form so minor
	// casing/unicode drift in the reply still matches.
	wanted := make(map[string]string, len(targets))
	for _, t := range targets {
		wanted[p.normalize(t.Name)] = t.Name
	}

	results := make([]model.ExtractionResult, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))

	// Pass 1: response-driven.
	for _, e := range entries {
		if e.TargetName == "" {
			zap.L().Warn("extraction entry missing target_name, skipping",
				zap.String("provider", providerName),
			)
			continue
		}
		canonical, ok := wanted[p.normalize(e.TargetName)]
		if !ok {
			zap.L().Warn("extraction entry for unrequested target, dropping",
				zap.String("provider", providerName),
				zap.String("target", e.TargetName),
			)
			continue
		}

		r := model.ExtractionResult{
			TargetName: canonical,
			Success:    true,
			Content:    e.Content,
		}
		if e.Success != nil {
			r.Success = *e.Success
		}
		if e.Confidence != nil {
			r.Confidence = *e.Confidence
		}
		if e.Error != nil {
			r.Error = *e.Error
		}
		results = append(results, r)
		seen[canonical] = struct{}{}
	}

	// Pass 2: requirement-driven. Required targets the reply never named get
	// an explicit failed result so downstream consumers see every field.
	for _, t := range targets {
		if !t.Required {
			continue
		}
		if _, ok := seen[t.Name]; ok {
			continue
		}
		results = append(results, model.ExtractionResult{
			TargetName: t.Name,
			Success:    false,
			Error:      requiredMissingMsg,
		})
	}

	return results, nil
}

func (p *Parser) normalize(name string) string {
	return p.fold.String(norm.NFKC.String(strings.TrimSpace(name)))
}

// stripCodeFence removes one leading/trailing markdown code fence
// (```json ... ``` or ``` ... ```) around the reply body.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
