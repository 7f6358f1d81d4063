// Package budget enforces spend ceilings across all LLM providers combined.
package budget

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limits holds the spend ceilings in USD. Zero means unlimited.
type Limits struct {
	DailyUSD float64
	TotalUSD float64
}

// CostLimitExceededError is returned by CheckLimits when a ceiling is
// breached. Scope is "daily" or "total".
type CostLimitExceededError struct {
	Scope string
	Spent float64
	Limit float64
}

func (e *CostLimitExceededError) Error() string {
	return fmt.Sprintf("cost limit exceeded: %s spend $%.4f >= limit $%.2f", e.Scope, e.Spent, e.Limit)
}

// ProviderUsage is the per-provider breakdown inside a Summary.
type ProviderUsage struct {
	Tokens    int64   `json:"tokens"`
	CostUSD   float64 `json:"cost_usd"`
	Requests  int64   `json:"requests"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
	Retries   int64   `json:"retries"`
	Fallbacks int64   `json:"fallbacks"`
}

// Summary is a point-in-time view of the tracker.
type Summary struct {
	TotalTokens     int64                    `json:"total_tokens"`
	TotalCostUSD    float64                  `json:"total_cost_usd"`
	DailyCostUSD    float64                  `json:"daily_cost_usd"`
	PapersProcessed int64                    `json:"papers_processed"`
	DailyRemaining  float64                  `json:"daily_remaining"`
	TotalRemaining  float64                  `json:"total_remaining"`
	LastReset       time.Time                `json:"last_reset"`
	ByProvider      map[string]ProviderUsage `json:"by_provider"`
}

// Tracker accounts tokens and USD across every concurrent extraction call.
// One instance is shared process-wide; every method is safe under concurrent
// invocation.
//
// Daily semantics: dailyCostUSD is a true daily counter, zeroed lazily on
// the first operation after a UTC calendar-day boundary. Lifetime totals
// only ever increase.
type Tracker struct {
	mu sync.Mutex

	limits Limits

	totalTokens     int64
	totalCostUSD    float64
	dailyCostUSD    float64
	papersProcessed int64
	lastResetDate   time.Time // midnight UTC of the current window

	byProvider map[string]*ProviderUsage

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewTracker creates a tracker with the given limits.
func NewTracker(limits Limits) *Tracker {
	now := time.Now().UTC()
	return &Tracker{
		limits:        limits,
		lastResetDate: midnightUTC(now),
		byProvider:    make(map[string]*ProviderUsage),
		nowFunc:       time.Now,
	}
}

// CheckLimits fails when a ceiling is already met or exceeded. Callers must
// invoke it before issuing a provider call, not only after. The total limit
// is the broader ceiling, so it is tested first; whichever is breached is
// reported with its concrete numbers.
func (t *Tracker) CheckLimits() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkDailyReset()

	if t.limits.TotalUSD > 0 && t.totalCostUSD >= t.limits.TotalUSD {
		return &CostLimitExceededError{Scope: "total", Spent: t.totalCostUSD, Limit: t.limits.TotalUSD}
	}
	if t.limits.DailyUSD > 0 && t.dailyCostUSD >= t.limits.DailyUSD {
		return &CostLimitExceededError{Scope: "daily", Spent: t.dailyCostUSD, Limit: t.limits.DailyUSD}
	}
	return nil
}

// RecordUsage atomically adds a completed call's tokens and cost to the
// global and per-provider totals and counts the paper as processed.
// Retries and fallback activations are counted once, by RecordRetry and
// RecordFallback at the moment they happen; the wasRetry and isFallback
// flags here only tag the log line.
func (t *Tracker) RecordUsage(tokens int64, costUSD float64, provider string, wasRetry, isFallback bool) {
	if costUSD < 0 {
		costUSD = 0
	}
	if tokens < 0 {
		tokens = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkDailyReset()

	t.totalTokens += tokens
	t.totalCostUSD += costUSD
	t.dailyCostUSD += costUSD
	t.papersProcessed++

	p := t.provider(provider)
	p.Tokens += tokens
	p.CostUSD += costUSD
	p.Requests++
	p.Successes++
	if wasRetry || isFallback {
		zap.L().Debug("usage recorded",
			zap.String("provider", provider),
			zap.Float64("cost_usd", costUSD),
			zap.Bool("was_retry", wasRetry),
			zap.Bool("is_fallback", isFallback),
		)
	}
}

// RecordFailure counts a terminal provider failure. No budget effect.
func (t *Tracker) RecordFailure(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkDailyReset()

	p := t.provider(provider)
	p.Requests++
	p.Failures++
}

// RecordRetry counts one retry attempt against a provider. No budget effect.
func (t *Tracker) RecordRetry(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkDailyReset()
	t.provider(provider).Retries++
}

// RecordFallback counts a switch to the named fallback provider. No budget
// effect.
func (t *Tracker) RecordFallback(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkDailyReset()
	t.provider(provider).Fallbacks++
}

// Summary returns totals, remaining budget (negative signals overage), and
// the per-provider breakdown.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkDailyReset()

	s := Summary{
		TotalTokens:     t.totalTokens,
		TotalCostUSD:    t.totalCostUSD,
		DailyCostUSD:    t.dailyCostUSD,
		PapersProcessed: t.papersProcessed,
		LastReset:       t.lastResetDate,
		ByProvider:      make(map[string]ProviderUsage, len(t.byProvider)),
	}
	if t.limits.DailyUSD > 0 {
		s.DailyRemaining = t.limits.DailyUSD - t.dailyCostUSD
	}
	if t.limits.TotalUSD > 0 {
		s.TotalRemaining = t.limits.TotalUSD - t.totalCostUSD
	}
	for name, p := range t.byProvider {
		s.ByProvider[name] = *p
	}
	return s
}

// provider returns the mutable per-provider record. Caller holds the lock.
func (t *Tracker) provider(name string) *ProviderUsage {
	p, ok := t.byProvider[name]
	if !ok {
		p = &ProviderUsage{}
		t.byProvider[name] = p
	}
	return p
}

// checkDailyReset zeroes the daily counter when the UTC date has advanced
// past the current window. Detected lazily on the first operation after
// midnight UTC; there is no timer. Caller holds the lock.
func (t *Tracker) checkDailyReset() {
	now := t.nowFunc().UTC()
	today := midnightUTC(now)
	if today.After(t.lastResetDate) {
		zap.L().Info("daily budget window reset",
			zap.Time("previous_window", t.lastResetDate),
			zap.Time("new_window", today),
			zap.Float64("daily_spend_closed", t.dailyCostUSD),
		)
		t.dailyCostUSD = 0
		t.lastResetDate = today
	}
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
