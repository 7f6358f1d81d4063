package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &RateLimitError{Provider: "anthropic"}, true},
		{"transient", &TransientError{Provider: "openai", StatusCode: 503, Err: errors.New("overloaded")}, true},
		{"api error", &APIError{Provider: "anthropic", StatusCode: 401, Err: errors.New("bad key")}, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped rate limit", fmt.Errorf("call: %w", &RateLimitError{Provider: "anthropic"}), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 529} {
		if !RetryableStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 413} {
		if RetryableStatus(code) {
			t.Errorf("expected %d to not be retryable", code)
		}
	}
}

func TestRateLimitError_RetryAfterHint(t *testing.T) {
	err := &RateLimitError{Provider: "anthropic", RetryAfter: 30 * time.Second}
	if err.RetryAfterHint() != 30*time.Second {
		t.Errorf("expected 30s hint, got %v", err.RetryAfterHint())
	}
	if !strings.Contains(err.Error(), "30s") {
		t.Errorf("expected message to carry the wait, got %q", err.Error())
	}
}

func TestErrors_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	for _, err := range []error{
		&RateLimitError{Provider: "p", Err: inner},
		&TransientError{Provider: "p", Err: inner},
		&APIError{Provider: "p", Err: inner},
	} {
		if !errors.Is(err, inner) {
			t.Errorf("%T should unwrap to the inner error", err)
		}
	}
}

func TestGenerateReply_TotalTokens(t *testing.T) {
	r := GenerateReply{InputTokens: 800, OutputTokens: 200}
	if r.TotalTokens() != 1000 {
		t.Errorf("expected 1000, got %d", r.TotalTokens())
	}
}
