// Package monitoring aggregates tracker, breaker, and health state into
// snapshots and evaluates them against alert thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/litgrid/paperminer/internal/budget"
	"github.com/litgrid/paperminer/internal/extract"
	"github.com/litgrid/paperminer/internal/resilience"
	"github.com/litgrid/paperminer/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Budget.
	TotalTokens     int64   `json:"total_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	DailyCostUSD    float64 `json:"daily_cost_usd"`
	DailyRemaining  float64 `json:"daily_remaining"`
	TotalRemaining  float64 `json:"total_remaining"`
	PapersProcessed int64   `json:"papers_processed"`

	// Per-provider usage.
	ByProvider map[string]budget.ProviderUsage `json:"by_provider"`

	// Provider health and breakers.
	Providers map[string]extract.HealthSnapshot  `json:"providers"`
	Breakers  map[string]resilience.CircuitStats `json:"breakers"`

	// DLQ depth (0 when no store is attached).
	DLQDepth int `json:"dlq_depth"`

	CollectedAt time.Time `json:"collected_at"`
}

// HealthSource is the subset of the extraction service the collector reads.
type HealthSource interface {
	UsageSummary() budget.Summary
	ProviderHealth() map[string]extract.HealthSnapshot
	BreakerStats() map[string]resilience.CircuitStats
}

// Collector gathers metrics from the extraction service and the store.
type Collector struct {
	source HealthSource
	store  store.Store // optional
}

// NewCollector creates a metrics collector. st may be nil.
func NewCollector(source HealthSource, st store.Store) *Collector {
	return &Collector{source: source, store: st}
}

// Collect gathers a snapshot of current system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	summary := c.source.UsageSummary()

	snap := &MetricsSnapshot{
		TotalTokens:     summary.TotalTokens,
		TotalCostUSD:    summary.TotalCostUSD,
		DailyCostUSD:    summary.DailyCostUSD,
		DailyRemaining:  summary.DailyRemaining,
		TotalRemaining:  summary.TotalRemaining,
		PapersProcessed: summary.PapersProcessed,
		ByProvider:      summary.ByProvider,
		Providers:       c.source.ProviderHealth(),
		Breakers:        c.source.BreakerStats(),
		CollectedAt:     time.Now().UTC(),
	}

	if c.store != nil {
		depth, err := c.store.CountDLQ(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count dlq")
		}
		snap.DLQDepth = depth
	}

	return snap, nil
}
