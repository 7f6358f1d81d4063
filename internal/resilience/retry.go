package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryAfterHinter is implemented by errors that carry a server-supplied
// retry delay (rate-limit responses). When present and positive, the hint
// replaces the exponential delay as the backoff base.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff base before the first retry. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. Default: 30s.
	MaxDelay time.Duration

	// JitterFactor spreads the delay symmetrically (0.0 = none,
	// 0.25 = ±25%). Default: 0.25.
	JitterFactor float64

	// ShouldRetry decides whether an error is transient. If nil, IsTransient
	// is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with the attempt number
	// (1-based), the error, and the computed delay.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Rand supplies jitter randomness. Nil uses the global source; tests
	// inject a seeded *rand.Rand for deterministic delays.
	Rand *rand.Rand
}

// DefaultRetryConfig returns a sensible retry configuration for LLM calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// DoVal executes fn with retry logic according to cfg, preserving the value
// from the successful call. Only transient errors are retried; anything else
// propagates on first occurrence. Context cancellation stops retries
// immediately.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		// Don't retry on context cancellation.
		if ctx.Err() != nil {
			return zero, lastErr
		}

		// Non-transient errors propagate immediately.
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		delay := computeDelay(attempt, lastErr, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// Do executes fn with retry logic according to cfg.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	return cfg
}

// computeDelay derives the sleep before the next attempt: the error's
// retry-after hint when present, otherwise BaseDelay * 2^attempt, with
// symmetric jitter applied and the result capped at MaxDelay.
func computeDelay(attempt int, err error, cfg RetryConfig) time.Duration {
	base := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))

	var hinter RetryAfterHinter
	if errors.As(err, &hinter) {
		if hint := hinter.RetryAfterHint(); hint > 0 {
			base = float64(hint)
		}
	}

	delay := base
	if cfg.JitterFactor > 0 {
		jitterRange := base * cfg.JitterFactor
		delay += (randFloat(cfg)*2 - 1) * jitterRange // [-jitterRange, +jitterRange]
	}

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func randFloat(cfg RetryConfig) float64 {
	if cfg.Rand != nil {
		return cfg.Rand.Float64()
	}
	return rand.Float64()
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(provider, operation string) func(int, error, time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		zap.L().Warn("retrying provider call",
			zap.String("provider", provider),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
