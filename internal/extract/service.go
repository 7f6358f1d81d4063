package extract

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/litgrid/paperminer/internal/budget"
	"github.com/litgrid/paperminer/internal/model"
	"github.com/litgrid/paperminer/internal/resilience"
	"github.com/litgrid/paperminer/pkg/llm"
)

// Options configures the extraction service.
type Options struct {
	// MaxTokens per completion. Default: 4096.
	MaxTokens int64

	// Temperature for completions. Default: 0.
	Temperature float64

	// CallTimeout is the hard timeout for one provider call. Default: 120s.
	CallTimeout time.Duration

	// RequestsPerMinute paces provider calls across all concurrent
	// extractions. 0 disables pacing.
	RequestsPerMinute int

	Retry   resilience.RetryConfig
	Circuit resilience.CircuitBreakerConfig
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 120 * time.Second
	}
	return o
}

// Service orchestrates one extraction per paper: pre-flight budget check,
// primary provider attempt guarded by retry and circuit breaker, fallback
// attempt, parse, record. Safe for concurrent use; primary and fallback
// attempts within one call are strictly sequential.
type Service struct {
	opts     Options
	primary  llm.Provider
	fallback llm.Provider // nil when not configured

	tracker  *budget.Tracker
	breakers *resilience.Registry
	parser   *Parser
	health   map[string]*ProviderHealth
	limiter  *rate.Limiter
}

// NewService wires the orchestrator. fallback may be nil.
func NewService(primary, fallback llm.Provider, tracker *budget.Tracker, opts Options) *Service {
	opts = opts.withDefaults()

	breakers := resilience.NewRegistry(opts.Circuit)
	health := map[string]*ProviderHealth{
		primary.Name(): NewProviderHealth(primary.Name(), breakers.Get(primary.Name())),
	}
	if fallback != nil {
		health[fallback.Name()] = NewProviderHealth(fallback.Name(), breakers.Get(fallback.Name()))
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), opts.RequestsPerMinute)
	}

	return &Service{
		opts:     opts,
		primary:  primary,
		fallback: fallback,
		tracker:  tracker,
		breakers: breakers,
		parser:   NewParser(),
		health:   health,
		limiter:  limiter,
	}
}

// Extract runs the full orchestration for one paper. It returns
// *budget.CostLimitExceededError before any network call when the budget is
// spent, *JSONParseError when a provider's reply does not match the schema,
// and *AllProvidersFailedError when every configured provider is exhausted.
func (s *Service) Extract(ctx context.Context, markdown string, targets []model.ExtractionTarget, meta model.PaperMeta) (*model.PaperExtraction, error) {
	if err := model.ValidateTargets(targets); err != nil {
		return nil, err
	}
	if err := s.tracker.CheckLimits(); err != nil {
		return nil, err
	}

	prompt := BuildPrompt(markdown, targets, meta)
	providerErrors := make(map[string]string)

	result, err := s.attempt(ctx, s.primary, prompt, targets, meta, false)
	if err == nil {
		return result, nil
	}

	// Schema problems are not provider failures: a fallback would burn
	// budget on the same malformed contract.
	var parseErr *JSONParseError
	if errors.As(err, &parseErr) {
		return nil, err
	}

	providerErrors[s.primary.Name()] = err.Error()
	if s.fallback == nil {
		return nil, &AllProvidersFailedError{ProviderErrors: providerErrors}
	}

	zap.L().Warn("primary provider exhausted, switching to fallback",
		zap.String("paper_id", meta.PaperID),
		zap.String("primary", s.primary.Name()),
		zap.String("fallback", s.fallback.Name()),
		zap.Error(err),
	)
	s.tracker.RecordFallback(s.fallback.Name())

	result, err = s.attempt(ctx, s.fallback, prompt, targets, meta, true)
	if err == nil {
		return result, nil
	}
	if errors.As(err, &parseErr) {
		return nil, err
	}

	providerErrors[s.fallback.Name()] = err.Error()
	return nil, &AllProvidersFailedError{ProviderErrors: providerErrors}
}

// attempt runs the retry sequence for one provider, then parses and records
// the outcome. Breaker and health bookkeeping happen here.
func (s *Service) attempt(ctx context.Context, provider llm.Provider, prompt string, targets []model.ExtractionTarget, meta model.PaperMeta, isFallback bool) (*model.PaperExtraction, error) {
	name := provider.Name()
	breaker := s.breakers.Get(name)
	health := s.health[name]

	if err := breaker.Check(); err != nil {
		// Circuit open counts as an immediate provider failure; no health
		// or breaker mutation, the provider was never called.
		s.tracker.RecordFailure(name)
		return nil, err
	}

	retried := false
	retryCfg := s.opts.Retry
	retryCfg.ShouldRetry = func(err error) bool {
		return llm.IsRetryable(err) || resilience.IsTransient(err)
	}
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = true
		s.tracker.RecordRetry(name)
		zap.L().Warn("retrying provider call",
			zap.String("provider", name),
			zap.String("paper_id", meta.PaperID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	temp := s.opts.Temperature
	req := llm.GenerateRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: &temp,
	}

	reply, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*llm.GenerateReply, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
		return provider.Generate(callCtx, req)
	})
	if err != nil {
		breaker.RecordFailure()
		health.RecordFailure(err.Error())
		s.tracker.RecordFailure(name)
		return nil, err
	}

	breaker.RecordSuccess()
	health.RecordSuccess()

	results, err := s.parser.Parse(reply.Content, targets, name)
	if err != nil {
		return nil, err
	}

	cost := provider.CalculateCost(reply.InputTokens, reply.OutputTokens)
	s.tracker.RecordUsage(reply.TotalTokens(), cost, name, retried, isFallback)

	extraction := &model.PaperExtraction{
		PaperID:    meta.PaperID,
		RunID:      uuid.NewString(),
		Provider:   name,
		Model:      provider.Model(),
		Fallback:   isFallback,
		Results:    results,
		TokensUsed: reply.TotalTokens(),
		CostUSD:    cost,
		Timestamp:  time.Now().UTC(),
	}

	zap.L().Info("paper extracted",
		zap.String("paper_id", meta.PaperID),
		zap.String("provider", name),
		zap.Bool("fallback", isFallback),
		zap.Int64("tokens", extraction.TokensUsed),
		zap.Float64("cost_usd", extraction.CostUSD),
		zap.Duration("latency", reply.Latency),
	)
	return extraction, nil
}

// UsageSummary returns the tracker's current totals and breakdown.
func (s *Service) UsageSummary() budget.Summary {
	return s.tracker.Summary()
}

// ProviderHealth returns a snapshot per configured provider.
func (s *Service) ProviderHealth() map[string]HealthSnapshot {
	out := make(map[string]HealthSnapshot, len(s.health))
	for name, h := range s.health {
		out[name] = h.Snapshot()
	}
	return out
}

// BreakerStats returns circuit stats per provider.
func (s *Service) BreakerStats() map[string]resilience.CircuitStats {
	return s.breakers.AllStats()
}

// ResetCircuitBreakers forces every breaker closed. Administrative recovery.
func (s *Service) ResetCircuitBreakers() {
	s.breakers.ResetAll()
	zap.L().Info("circuit breakers reset")
}
