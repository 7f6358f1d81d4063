package extract

import (
	"sync"
	"time"

	"github.com/litgrid/paperminer/internal/resilience"
)

// ProviderStatus classifies a provider's recent behavior.
type ProviderStatus string

const (
	StatusHealthy     ProviderStatus = "healthy"
	StatusDegraded    ProviderStatus = "degraded"
	StatusUnavailable ProviderStatus = "unavailable"
)

// Status transition thresholds on consecutive failures.
const (
	degradedThreshold    = 3
	unavailableThreshold = 5
)

// ProviderHealth is the mutable per-provider health record. It owns the
// provider's circuit breaker and lives for the service's lifetime.
type ProviderHealth struct {
	name    string
	breaker *resilience.CircuitBreaker

	mu                   sync.Mutex
	status               ProviderStatus
	consecutiveFailures  int
	consecutiveSuccesses int
	totalRequests        int64
	totalFailures        int64
	lastSuccess          time.Time
	lastFailure          time.Time
	failureReason        string

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewProviderHealth creates a healthy record owning the given breaker.
func NewProviderHealth(name string, breaker *resilience.CircuitBreaker) *ProviderHealth {
	return &ProviderHealth{
		name:    name,
		breaker: breaker,
		status:  StatusHealthy,
		nowFunc: time.Now,
	}
}

// Breaker returns the circuit breaker this record owns.
func (h *ProviderHealth) Breaker() *resilience.CircuitBreaker { return h.breaker }

// RecordSuccess resets the record to healthy.
func (h *ProviderHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusHealthy
	h.consecutiveFailures = 0
	h.consecutiveSuccesses++
	h.totalRequests++
	h.lastSuccess = h.nowFunc()
	h.failureReason = ""
}

// RecordFailure notes a terminal failure and degrades the status:
// healthy→degraded at 3 consecutive failures, degraded→unavailable at 5.
func (h *ProviderHealth) RecordFailure(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveSuccesses = 0
	h.consecutiveFailures++
	h.totalRequests++
	h.totalFailures++
	h.lastFailure = h.nowFunc()
	h.failureReason = reason

	switch {
	case h.consecutiveFailures >= unavailableThreshold:
		h.status = StatusUnavailable
	case h.consecutiveFailures >= degradedThreshold:
		h.status = StatusDegraded
	}
}

// HealthSnapshot is a read-only view of one provider's health.
type HealthSnapshot struct {
	Provider             string                   `json:"provider"`
	Status               ProviderStatus           `json:"status"`
	ConsecutiveFailures  int                      `json:"consecutive_failures"`
	ConsecutiveSuccesses int                      `json:"consecutive_successes"`
	TotalRequests        int64                    `json:"total_requests"`
	TotalFailures        int64                    `json:"total_failures"`
	LastSuccess          time.Time                `json:"last_success,omitzero"`
	LastFailure          time.Time                `json:"last_failure,omitzero"`
	FailureReason        string                   `json:"failure_reason,omitempty"`
	Circuit              resilience.CircuitStats  `json:"circuit"`
}

// Snapshot returns the current health view including breaker stats.
func (h *ProviderHealth) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Provider:             h.name,
		Status:               h.status,
		ConsecutiveFailures:  h.consecutiveFailures,
		ConsecutiveSuccesses: h.consecutiveSuccesses,
		TotalRequests:        h.totalRequests,
		TotalFailures:        h.totalFailures,
		LastSuccess:          h.lastSuccess,
		LastFailure:          h.lastFailure,
		FailureReason:        h.failureReason,
		Circuit:              h.breaker.Stats(),
	}
}
