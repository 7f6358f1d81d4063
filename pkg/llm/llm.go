// Package llm defines the provider-neutral surface the extraction service
// calls: one Generate operation per vendor, normalized request/reply types,
// and an error taxonomy that separates transient failures from terminal ones.
package llm

import (
	"context"
	"time"
)

// GenerateRequest is a single completion request against a provider.
type GenerateRequest struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature *float64
}

// GenerateReply is the normalized reply shape every provider adapter
// produces, regardless of the vendor's wire format.
type GenerateReply struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
	Latency      time.Duration
}

// TotalTokens returns input plus output tokens.
func (r *GenerateReply) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Provider is one LLM vendor. Implementations live at the network boundary
// and translate vendor responses and errors into the normalized types here.
type Provider interface {
	// Name identifies the vendor ("anthropic", "openai").
	Name() string

	// Model returns the configured model id.
	Model() string

	// Generate performs one completion call. The context carries the
	// per-call timeout.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateReply, error)

	// CalculateCost converts token counts to USD for the configured model.
	CalculateCost(inputTokens, outputTokens int64) float64
}
