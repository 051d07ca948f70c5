package model

// LedgerStats holds raw ledger counts consumed by the monitoring collector.
type LedgerStats struct {
	EvidenceByStatus map[EvidenceStatus]int `json:"evidence_by_status"`
	ImagesByStatus   map[ImageStatus]int    `json:"images_by_status"`
	PendingTransfers int                    `json:"pending_transfers"`
}
