// Package monitoring collects ledger health metrics and raises alerts when
// image validation or evidence review falls behind.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sss97133/nuke-recon/internal/ledger"
	"github.com/sss97133/nuke-recon/internal/model"
)

// MetricsSnapshot holds a point-in-time view of ledger health.
type MetricsSnapshot struct {
	// Evidence metrics (within lookback window).
	EvidenceTotal    int `json:"evidence_total"`
	EvidenceAccepted int `json:"evidence_accepted"`
	EvidencePending  int `json:"evidence_pending"`
	EvidenceRejected int `json:"evidence_rejected"`

	// Image validation metrics (all-time).
	ImageUnvalidated  int     `json:"image_unvalidated"`
	ImageConfirmed    int     `json:"image_confirmed"`
	ImageMismatched   int     `json:"image_mismatched"`
	ImagePendingRetry int     `json:"image_pending_retry"`
	ImageFailed       int     `json:"image_failed"`
	ImageFailRate     float64 `json:"image_fail_rate"`

	// Ownership transfers awaiting verification.
	TransfersPending int `json:"transfers_pending"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the evidence ledger.
type Collector struct {
	store ledger.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st ledger.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of ledger metrics. Evidence counts cover the
// given lookback window; image and transfer counts are all-time.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	stats, err := c.store.LedgerStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: ledger stats")
	}

	snap.EvidenceAccepted = stats.EvidenceByStatus[model.EvidenceAccepted]
	snap.EvidencePending = stats.EvidenceByStatus[model.EvidencePending]
	snap.EvidenceRejected = stats.EvidenceByStatus[model.EvidenceRejected]
	snap.EvidenceTotal = snap.EvidenceAccepted + snap.EvidencePending + snap.EvidenceRejected

	snap.ImageUnvalidated = stats.ImagesByStatus[model.ImageUnvalidated]
	snap.ImageConfirmed = stats.ImagesByStatus[model.ImageConfirmed]
	snap.ImageMismatched = stats.ImagesByStatus[model.ImageMismatched]
	snap.ImagePendingRetry = stats.ImagesByStatus[model.ImagePendingRetry]
	snap.ImageFailed = stats.ImagesByStatus[model.ImageFailed]

	terminal := snap.ImageConfirmed + snap.ImageMismatched + snap.ImageFailed
	if terminal > 0 {
		snap.ImageFailRate = float64(snap.ImageMismatched+snap.ImageFailed) / float64(terminal)
	}

	snap.TransfersPending = stats.PendingTransfers

	return snap, nil
}
