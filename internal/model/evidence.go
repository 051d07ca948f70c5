package model

import "time"

// SourceKind tags where an evidence entry came from.
type SourceKind string

const (
	SourceManual         SourceKind = "manual"
	SourceScrapedListing SourceKind = "scraped-listing"
	SourceIdentifierDec  SourceKind = "identifier-decode"
	SourceVerifiedDoc    SourceKind = "verified-document"
)

// BaseConfidence returns the prior trust attached to a source kind before
// submitter and corroboration adjustments.
func (k SourceKind) BaseConfidence() float64 {
	switch k {
	case SourceVerifiedDoc:
		return 0.85
	case SourceIdentifierDec:
		return 0.75
	case SourceScrapedListing:
		return 0.6
	case SourceManual:
		return 0.4
	default:
		return 0.3
	}
}

// EvidenceStatus is the lifecycle state of an evidence entry.
type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "pending"
	EvidenceAccepted EvidenceStatus = "accepted"
	EvidenceRejected EvidenceStatus = "rejected"
)

// EvidenceEntry is one immutable ledger row: a proposed value for one field
// of one entity. Entries are never updated in place; a correction is a new
// entry; the only permitted mutation is the pending→{accepted,rejected}
// status transition.
type EvidenceEntry struct {
	ID          string         `json:"id"`
	EntityID    string         `json:"entity_id"`
	Field       string         `json:"field"`
	Value       string         `json:"value"`
	SourceKind  SourceKind     `json:"source_kind"`
	SourceURL   string         `json:"source_url,omitempty"`
	SubmitterID string         `json:"submitter_id"`
	Confidence  float64        `json:"confidence"`
	Status      EvidenceStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}
