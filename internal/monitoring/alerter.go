package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStageFailureRate AlertType = "stage_failure_rate"
	AlertQuotaExhausted   AlertType = "quota_exhausted"
	AlertFetchFailure     AlertType = "fetch_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	clock  clockwork.Clock
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		clock:  clockwork.NewRealClock(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Alerts carry the snapshot's collection time.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = a.clock.Now().UTC()
	}

	settled := snap.StageSucceeded + snap.StageFailed
	if settled >= 5 && a.cfg.FailureRateThreshold > 0 && snap.StageFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStageFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Stage failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d settled in last %dh)",
				snap.StageFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.StageFailed, settled, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate":     snap.StageFailRate,
				"threshold":        a.cfg.FailureRateThreshold,
				"failures_by_kind": snap.FailuresByKind,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QuotaFailureThreshold > 0 && snap.QuotaExhaustions >= a.cfg.QuotaFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQuotaExhausted,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d stage(s) hit the provider quota in last %dh",
				snap.QuotaExhaustions, snap.LookbackHours,
			),
			Details: map[string]any{
				"quota_exhaustions": snap.QuotaExhaustions,
				"failures_by_stage": snap.FailuresByStage,
			},
			Timestamp: now,
		})
	}

	if snap.RunsFetchFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertFetchFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d run(s) could not fetch records in last %dh",
				snap.RunsFetchFailed, snap.LookbackHours,
			),
			Details: map[string]any{
				"fetch_failed": snap.RunsFetchFailed,
				"runs_total":   snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
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
