package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/litgrid/paperminer/internal/budget"
	"github.com/litgrid/paperminer/internal/extract"
	"github.com/litgrid/paperminer/internal/store"
	"github.com/litgrid/paperminer/pkg/llm"
	"github.com/litgrid/paperminer/pkg/llm/anthropic"
	"github.com/litgrid/paperminer/pkg/llm/openai"
)

// appEnv bundles the wired service, tracker, and store for commands.
type appEnv struct {
	Service *extract.Service
	Tracker *budget.Tracker
	Store   store.Store
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("closing store", zap.Error(err))
		}
	}
}

// initApp builds providers, tracker, store, and the extraction service from
// the loaded config. mode selects which validation rules apply.
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	primary, err := buildProvider(cfg.Providers.Primary)
	if err != nil {
		return nil, eris.Wrap(err, "init primary provider")
	}

	var fallback llm.Provider
	if cfg.Providers.Fallback != "" && cfg.Providers.Fallback != cfg.Providers.Primary {
		fallback, err = buildProvider(cfg.Providers.Fallback)
		if err != nil {
			return nil, eris.Wrap(err, "init fallback provider")
		}
	}

	tracker := budget.NewTracker(budget.Limits{
		DailyUSD: cfg.Budget.DailyLimitUSD,
		TotalUSD: cfg.Budget.TotalLimitUSD,
	})

	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	svc := extract.NewService(primary, fallback, tracker, extract.Options{
		MaxTokens:         int64(cfg.Extract.MaxTokens),
		Temperature:       cfg.Extract.Temperature,
		CallTimeout:       time.Duration(cfg.Extract.TimeoutSecs) * time.Second,
		RequestsPerMinute: cfg.Extract.RequestsPerMinute,
		Retry:             cfg.Retry.ToResilience(),
		Circuit:           cfg.Circuit.ToResilience(),
	})

	return &appEnv{Service: svc, Tracker: tracker, Store: st}, nil
}

// buildProvider constructs an LLM provider by name from config.
func buildProvider(name string) (llm.Provider, error) {
	switch name {
	case anthropic.ProviderName:
		return anthropic.New(cfg.Anthropic.Key, cfg.Anthropic.Model)
	case openai.ProviderName:
		return openai.New(cfg.OpenAI.Key, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	default:
		return nil, eris.Errorf("unknown provider %q", name)
	}
}
