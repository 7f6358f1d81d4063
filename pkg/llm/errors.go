package llm

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError indicates the provider throttled the request. It is
// retryable; RetryAfter, when positive, is the server-supplied wait.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfterHint satisfies the resilience package's hint interface so the
// backoff uses the server-supplied delay as its base.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// TransientError indicates a failure that is safe to retry against the same
// provider: 5xx responses, timeouts, dropped connections.
type TransientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is a terminal provider error (bad auth, invalid request,
// oversized payload). Never retried.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may be retried in place against the same
// provider. Rate limits and transient failures qualify; APIError does not.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var tr *TransientError
	return errors.As(err, &tr)
}

// RetryableStatus reports whether an HTTP status from a vendor indicates a
// transient server-side problem.
func RetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 529:
		return true
	default:
		return false
	}
}
