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

	"github.com/sss97133/nuke-recon/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertImageFailureRate AlertType = "image_failure_rate"
	AlertEvidenceBacklog  AlertType = "evidence_backlog"
	AlertTransferBacklog  AlertType = "transfer_backlog"
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
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check image validation failure rate.
	terminal := snap.ImageConfirmed + snap.ImageMismatched + snap.ImageFailed
	if terminal >= 5 && snap.ImageFailRate > a.cfg.ImageFailThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertImageFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Image validation failure rate %.1f%% exceeds threshold %.1f%% (%d mismatched, %d failed / %d finished)",
				snap.ImageFailRate*100, a.cfg.ImageFailThreshold*100,
				snap.ImageMismatched, snap.ImageFailed, terminal,
			),
			Details: map[string]any{
				"fail_rate":  snap.ImageFailRate,
				"threshold":  a.cfg.ImageFailThreshold,
				"mismatched": snap.ImageMismatched,
				"failed":     snap.ImageFailed,
				"finished":   terminal,
			},
			Timestamp: now,
		})
	}

	// Check pending evidence backlog.
	if a.cfg.PendingBacklog > 0 && snap.EvidencePending > a.cfg.PendingBacklog {
		alerts = append(alerts, Alert{
			Type:     AlertEvidenceBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d evidence entries pending review in last %dh exceeds backlog threshold %d",
				snap.EvidencePending, snap.LookbackHours, a.cfg.PendingBacklog,
			),
			Details: map[string]any{
				"pending":   snap.EvidencePending,
				"threshold": a.cfg.PendingBacklog,
			},
			Timestamp: now,
		})
	}

	// Check unverified transfer backlog.
	if a.cfg.PendingBacklog > 0 && snap.TransfersPending > a.cfg.PendingBacklog {
		alerts = append(alerts, Alert{
			Type:     AlertTransferBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d ownership transfers awaiting verification exceeds backlog threshold %d",
				snap.TransfersPending, a.cfg.PendingBacklog,
			),
			Details: map[string]any{
				"pending":   snap.TransfersPending,
				"threshold": a.cfg.PendingBacklog,
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
