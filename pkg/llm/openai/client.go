// Package openai adapts the go-openai client to the llm.Provider
// interface. Used as the fallback vendor.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/litgrid/paperminer/pkg/llm"
)

// ProviderName is the stable identifier used in config, health records,
// and cost breakdowns.
const ProviderName = "openai"

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4.1":     {2.00, 8.00},
}

// Client implements llm.Provider backed by the OpenAI chat completions API.
type Client struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI provider for the given model. baseURL overrides the
// default endpoint when non-empty (Azure, proxies).
func New(apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, eris.New("openai: api key is required")
	}
	if model == "" {
		return nil, eris.New("openai: model is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (c *Client) Name() string  { return ProviderName }
func (c *Client) Model() string { return c.model }

// Generate performs one chat completion call and normalizes the reply.
func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateReply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classify(err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &llm.GenerateReply{
		Content:      content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
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

// classify maps go-openai errors onto the llm error taxonomy. The library
// does not expose the Retry-After header, so rate limits carry no hint and
// the backoff falls back to exponential delay.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fromStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fromStatus(reqErr.HTTPStatusCode, err)
	}
	return &llm.TransientError{Provider: ProviderName, Err: err}
}

func fromStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &llm.RateLimitError{Provider: ProviderName, Err: err}
	case llm.RetryableStatus(status):
		return &llm.TransientError{Provider: ProviderName, StatusCode: status, Err: err}
	default:
		return &llm.APIError{Provider: ProviderName, StatusCode: status, Err: err}
	}
}
