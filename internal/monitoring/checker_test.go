package monitoring

import (
	"context"
	"testing"
	"time"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	src := &stubSource{}
	checker := NewChecker(NewCollector(src, nil), NewAlerter(AlerterConfig{}), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let it tick once then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	src := &stubSource{}

	// Zero interval falls back to 5 minutes.
	checker := NewChecker(NewCollector(src, nil), NewAlerter(AlerterConfig{}), 0)
	if checker.interval != 5*time.Minute {
		t.Errorf("expected 5m default interval, got %v", checker.interval)
	}

	// Start with a cancelled context to verify Run returns immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
