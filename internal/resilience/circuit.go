// Package resilience provides circuit breaker and retry patterns for LLM
// provider calls.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures — requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Disabled turns the breaker into a pass-through: requests always flow,
	// failures are counted but never trip the circuit.
	Disabled bool

	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes required in
	// half-open state before closing the circuit. Default: 2.
	SuccessThreshold int

	// Cooldown is how long the circuit stays open before transitioning to
	// half-open. Default: 60s.
	Cooldown time.Duration

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(provider string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults for provider calls.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// CircuitBreaker isolates a single failing provider. All counters and the
// state field mutate as one unit under the mutex.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named provider.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Name returns the provider this breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current circuit state. Reading the state after the
// cooldown has elapsed performs the lazy OPEN→HALF_OPEN transition; there is
// no background timer.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Allow reports whether a request may proceed. The only mutation it performs
// is the lazy OPEN→HALF_OPEN check.
func (cb *CircuitBreaker) Allow() bool {
	if cb.cfg.Disabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state != CircuitOpen
}

// Check returns ErrCircuitOpen (wrapped with the provider name) when the
// breaker is rejecting requests.
func (cb *CircuitBreaker) Check() error {
	if cb.Allow() {
		return nil
	}
	return eris.Wrapf(ErrCircuitOpen, "provider %s", cb.name)
}

// RecordSuccess notes a successful call. Always resets the failure counter;
// in half-open state it counts toward closing the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()

	cb.consecutiveFailures = 0
	if cb.state == CircuitHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(CircuitClosed)
			cb.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure notes a failed call. Trips the breaker at the failure
// threshold; any failure while half-open reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()

	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	cb.lastFailureTime = cb.nowFunc()

	if cb.cfg.Disabled {
		return
	}

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit.
		cb.transition(CircuitOpen)
	}
}

// Reset forces the circuit back to closed state and zeroes counters. Useful
// for manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, old, CircuitClosed)
	}
}

// CircuitStats is an observability snapshot of one breaker.
type CircuitStats struct {
	Name                 string        `json:"name"`
	State                string        `json:"state"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	RemainingCooldown    time.Duration `json:"remaining_cooldown,omitempty"`
}

// Stats returns the breaker's counters. RemainingCooldown is only populated
// while the circuit is open.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()

	stats := CircuitStats{
		Name:                 cb.name,
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
	}
	if cb.state == CircuitOpen {
		stats.RemainingCooldown = cb.cfg.Cooldown - cb.nowFunc().Sub(cb.lastFailureTime)
	}
	return stats
}

// maybeHalfOpen performs the lazy OPEN→HALF_OPEN transition. Caller holds the lock.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.Cooldown {
		cb.transition(CircuitHalfOpen)
		cb.consecutiveSuccesses = 0
	}
}

// transition changes state. Caller holds the lock.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// Registry manages one circuit breaker per provider name. Constructed and
// owned by the extraction service, never a process-wide singleton.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewRegistry creates a registry of per-provider circuit breakers.
func NewRegistry(cfg CircuitBreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named provider, creating one if needed.
func (r *Registry) Get(provider string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = r.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(provider, r.cfg)
	r.breakers[provider] = cb
	return cb
}

// ResetAll forces every breaker back to closed. Administrative recovery.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// AllStats returns a snapshot of every breaker, keyed by provider name.
func (r *Registry) AllStats() map[string]CircuitStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]CircuitStats, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}
