// Package anthropic adapts the official anthropic-sdk-go client to the
// llm.Provider interface.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/litgrid/paperminer/pkg/llm"
)

// ProviderName is the stable identifier used in config, health records,
// and cost breakdowns.
const ProviderName = "anthropic"

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// Client implements llm.Provider backed by the Anthropic Messages API.
type Client struct {
	client sdk.Client
	model  string
}

// New creates an Anthropic provider for the given model.
func New(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, eris.New("anthropic: api key is required")
	}
	if model == "" {
		return nil, eris.New("anthropic: model is required")
	}
	return &Client{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (c *Client) Name() string  { return ProviderName }
func (c *Client) Model() string { return c.model }

// Generate performs one Messages API call and normalizes the reply.
func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateReply, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var content string
	for _, b := range msg.Content {
		if b.Type == "text" {
			content += b.Text
		}
	}

	return &llm.GenerateReply{
		Content:      content,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		Latency:      time.Since(start),
	}, nil
}

// CalculateCost converts token counts to USD. Unknown models cost 0.
func (c *Client) CalculateCost(inputTokens, outputTokens int64) float64 {
	pricing, ok := modelPricing[c.model]
	if !ok {
		return 0
	}
	inCost := (float64(inputTokens) / 1e6) * pricing[0]
	outCost := (float64(outputTokens) / 1e6) * pricing[1]
	return inCost + outCost
}

// classify maps SDK errors onto the llm error taxonomy. Timeouts and
// connection drops surface as plain transport errors from the SDK, so
// anything without an API status code is treated as transient.
func classify(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return &llm.RateLimitError{
				Provider:   ProviderName,
				RetryAfter: retryAfterHeader(apierr.Response),
				Err:        err,
			}
		case llm.RetryableStatus(apierr.StatusCode):
			return &llm.TransientError{Provider: ProviderName, StatusCode: apierr.StatusCode, Err: err}
		default:
			return &llm.APIError{Provider: ProviderName, StatusCode: apierr.StatusCode, Err: err}
		}
	}

	return &llm.TransientError{Provider: ProviderName, Err: err}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
