package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/litgrid/paperminer/internal/extract"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertProviderUnavailable AlertType = "provider_unavailable"
	AlertDailyBudget         AlertType = "daily_budget"
	AlertTotalBudget         AlertType = "total_budget"
	AlertDLQDepth            AlertType = "dlq_depth"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlerterConfig holds thresholds and the webhook destination.
type AlerterConfig struct {
	WebhookURL string

	// BudgetWarnFraction triggers budget alerts when spend crosses this
	// fraction of a limit. Default: 0.8.
	BudgetWarnFraction float64

	// DLQDepthThreshold triggers an alert when the dead letter queue grows
	// past this size. 0 disables the check.
	DLQDepthThreshold int
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when they are breached.
type Alerter struct {
	cfg    AlerterConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given config.
func NewAlerter(cfg AlerterConfig) *Alerter {
	if cfg.BudgetWarnFraction <= 0 {
		cfg.BudgetWarnFraction = 0.8
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for name, h := range snap.Providers {
		if h.Status != extract.StatusUnavailable {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertProviderUnavailable,
			Severity: "high",
			Message: fmt.Sprintf("provider %s is unavailable after %d consecutive failures: %s",
				name, h.ConsecutiveFailures, h.FailureReason),
			Details: map[string]any{
				"provider":             name,
				"consecutive_failures": h.ConsecutiveFailures,
				"circuit_state":        h.Circuit.State,
			},
			Timestamp: now,
		})
	}

	// Remaining budget only populated when a limit is configured.
	if snap.DailyRemaining != 0 || snap.DailyCostUSD > 0 {
		limit := snap.DailyCostUSD + snap.DailyRemaining
		if limit > 0 && snap.DailyCostUSD >= limit*a.cfg.BudgetWarnFraction {
			alerts = append(alerts, Alert{
				Type:     AlertDailyBudget,
				Severity: "medium",
				Message: fmt.Sprintf("daily spend $%.2f has reached %.0f%% of the $%.2f limit",
					snap.DailyCostUSD, snap.DailyCostUSD/limit*100, limit),
				Details: map[string]any{
					"daily_cost_usd":  snap.DailyCostUSD,
					"daily_remaining": snap.DailyRemaining,
				},
				Timestamp: now,
			})
		}
	}
	if snap.TotalRemaining != 0 || snap.TotalCostUSD > 0 {
		limit := snap.TotalCostUSD + snap.TotalRemaining
		if limit > 0 && snap.TotalCostUSD >= limit*a.cfg.BudgetWarnFraction {
			alerts = append(alerts, Alert{
				Type:     AlertTotalBudget,
				Severity: "high",
				Message: fmt.Sprintf("lifetime spend $%.2f has reached %.0f%% of the $%.2f limit",
					snap.TotalCostUSD, snap.TotalCostUSD/limit*100, limit),
				Details: map[string]any{
					"total_cost_usd":  snap.TotalCostUSD,
					"total_remaining": snap.TotalRemaining,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.DLQDepthThreshold > 0 && snap.DLQDepth >= a.cfg.DLQDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQDepth,
			Severity: "medium",
			Message: fmt.Sprintf("%d papers in the dead letter queue (threshold %d)",
				snap.DLQDepth, a.cfg.DLQDepthThreshold),
			Details:   map[string]any{"dlq_depth": snap.DLQDepth},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL. Returns the
// number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
