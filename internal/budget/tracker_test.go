package budget

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTracker_RecordUsage_Accumulates(t *testing.T) {
	tr := NewTracker(Limits{})

	tr.RecordUsage(1000, 5.0, "anthropic", false, false)
	tr.RecordUsage(2000, 3.0, "anthropic", false, false)

	s := tr.Summary()
	if s.TotalTokens != 3000 {
		t.Errorf("expected 3000 total tokens, got %d", s.TotalTokens)
	}
	if s.TotalCostUSD != 8.0 {
		t.Errorf("expected $8.00 total cost, got $%.2f", s.TotalCostUSD)
	}
	if s.DailyCostUSD != 8.0 {
		t.Errorf("expected $8.00 daily cost, got $%.2f", s.DailyCostUSD)
	}
	if s.PapersProcessed != 2 {
		t.Errorf("expected 2 papers processed, got %d", s.PapersProcessed)
	}
}

func TestTracker_PerProviderBreakdown(t *testing.T) {
	tr := NewTracker(Limits{})

	tr.RecordUsage(1000, 1.0, "anthropic", false, false)
	tr.RecordRetry("openai")
	tr.RecordUsage(500, 0.5, "openai", true, true)
	tr.RecordFailure("anthropic")

	s := tr.Summary()
	a := s.ByProvider["anthropic"]
	if a.Tokens != 1000 || a.Successes != 1 || a.Failures != 1 || a.Requests != 2 {
		t.Errorf("unexpected anthropic usage: %+v", a)
	}
	o := s.ByProvider["openai"]
	if o.Tokens != 500 || o.Successes != 1 || o.Retries != 1 {
		t.Errorf("unexpected openai usage: %+v", o)
	}
}

func TestTracker_CheckLimits_Unlimited(t *testing.T) {
	tr := NewTracker(Limits{})
	tr.RecordUsage(1_000_000, 9999.0, "anthropic", false, false)

	if err := tr.CheckLimits(); err != nil {
		t.Errorf("expected no error with zero limits, got %v", err)
	}
}

func TestTracker_CheckLimits_DailyBreached(t *testing.T) {
	tr := NewTracker(Limits{DailyUSD: 10.0})
	tr.RecordUsage(1000, 10.0, "anthropic", false, false)

	err := tr.CheckLimits()
	if err == nil {
		t.Fatal("expected error at the daily limit")
	}

	var limitErr *CostLimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected CostLimitExceededError, got %T", err)
	}
	if limitErr.Scope != "daily" {
		t.Errorf("expected daily scope, got %s", limitErr.Scope)
	}
	if !strings.Contains(err.Error(), "daily") {
		t.Errorf("expected message to mention daily, got %q", err.Error())
	}
}

func TestTracker_CheckLimits_TotalBreached(t *testing.T) {
	tr := NewTracker(Limits{DailyUSD: 100.0, TotalUSD: 5.0})
	tr.RecordUsage(1000, 5.0, "anthropic", false, false)

	err := tr.CheckLimits()
	if err == nil {
		t.Fatal("expected error at the total limit")
	}

	var limitErr *CostLimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected CostLimitExceededError, got %T", err)
	}
	if limitErr.Scope != "total" {
		t.Errorf("expected total scope, got %s", limitErr.Scope)
	}
	if limitErr.Spent != 5.0 || limitErr.Limit != 5.0 {
		t.Errorf("unexpected numbers in error: %+v", limitErr)
	}
}

func TestTracker_CheckLimits_BelowLimit(t *testing.T) {
	tr := NewTracker(Limits{DailyUSD: 10.0, TotalUSD: 100.0})
	tr.RecordUsage(1000, 9.99, "anthropic", false, false)

	if err := tr.CheckLimits(); err != nil {
		t.Errorf("expected no error below limits, got %v", err)
	}
}

func TestTracker_DailyReset_AtMidnightUTC(t *testing.T) {
	tr := NewTracker(Limits{DailyUSD: 10.0})

	day1 := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	tr.nowFunc = func() time.Time { return day1 }
	tr.lastResetDate = midnightUTC(day1)

	tr.RecordUsage(1000, 10.0, "anthropic", false, false)
	if err := tr.CheckLimits(); err == nil {
		t.Fatal("expected daily limit breached on day 1")
	}

	// Cross the UTC midnight boundary: daily resets, lifetime does not.
	day2 := day1.Add(10 * time.Hour)
	tr.nowFunc = func() time.Time { return day2 }

	if err := tr.CheckLimits(); err != nil {
		t.Errorf("expected daily window reset after midnight UTC, got %v", err)
	}

	s := tr.Summary()
	if s.DailyCostUSD != 0 {
		t.Errorf("expected $0 daily cost after reset, got $%.2f", s.DailyCostUSD)
	}
	if s.TotalCostUSD != 10.0 {
		t.Errorf("expected lifetime total preserved, got $%.2f", s.TotalCostUSD)
	}
}

func TestTracker_TotalLimit_SurvivesDailyReset(t *testing.T) {
	tr := NewTracker(Limits{TotalUSD: 10.0})

	day1 := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	tr.nowFunc = func() time.Time { return day1 }
	tr.lastResetDate = midnightUTC(day1)

	tr.RecordUsage(1000, 10.0, "anthropic", false, false)

	day2 := day1.Add(24 * time.Hour)
	tr.nowFunc = func() time.Time { return day2 }

	if err := tr.CheckLimits(); err == nil {
		t.Error("expected total limit still breached after daily reset")
	}
}

func TestTracker_RecordFallback_CountsOnce(t *testing.T) {
	tr := NewTracker(Limits{})

	// Orchestrator calls RecordFallback when switching, then RecordUsage for
	// the successful fallback call. The activation must count exactly once.
	tr.RecordFallback("openai")
	tr.RecordUsage(500, 0.5, "openai", false, true)

	s := tr.Summary()
	if got := s.ByProvider["openai"].Fallbacks; got != 1 {
		t.Errorf("expected 1 fallback activation, got %d", got)
	}
}

func TestTracker_RecordRetry_CountsOnce(t *testing.T) {
	tr := NewTracker(Limits{})

	// Orchestrator records each retry as it happens, then RecordUsage for the
	// eventually successful call with wasRetry=true. Two retries must count as
	// exactly two.
	tr.RecordRetry("anthropic")
	tr.RecordRetry("anthropic")
	tr.RecordUsage(1000, 1.0, "anthropic", true, false)

	s := tr.Summary()
	if got := s.ByProvider["anthropic"].Retries; got != 2 {
		t.Errorf("expected 2 retries, got %d", got)
	}
}

func TestTracker_RemainingBudget(t *testing.T) {
	tr := NewTracker(Limits{DailyUSD: 10.0, TotalUSD: 100.0})
	tr.RecordUsage(1000, 4.0, "anthropic", false, false)

	s := tr.Summary()
	if s.DailyRemaining != 6.0 {
		t.Errorf("expected $6.00 daily remaining, got $%.2f", s.DailyRemaining)
	}
	if s.TotalRemaining != 96.0 {
		t.Errorf("expected $96.00 total remaining, got $%.2f", s.TotalRemaining)
	}
}

func TestTracker_NegativeInputsClamped(t *testing.T) {
	tr := NewTracker(Limits{})
	tr.RecordUsage(-100, -1.0, "anthropic", false, false)

	s := tr.Summary()
	if s.TotalTokens != 0 || s.TotalCostUSD != 0 {
		t.Errorf("expected negative inputs clamped to zero, got %+v", s)
	}
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Limits{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordUsage(10, 0.01, "anthropic", false, false)
			tr.RecordRetry("anthropic")
			_ = tr.Summary()
		}()
	}
	wg.Wait()

	s := tr.Summary()
	if s.TotalTokens != 1000 {
		t.Errorf("expected 1000 tokens, got %d", s.TotalTokens)
	}
	if s.ByProvider["anthropic"].Retries != 100 {
		t.Errorf("expected 100 retries, got %d", s.ByProvider["anthropic"].Retries)
	}
}
