package model

import "time"

// ImageStatus is the validation state of an image claim.
type ImageStatus string

const (
	ImageUnvalidated  ImageStatus = "unvalidated"
	ImageConfirmed    ImageStatus = "confirmed"
	ImageMismatched   ImageStatus = "mismatched"
	ImagePendingRetry ImageStatus = "pending-retry"
	ImageFailed       ImageStatus = "failed"
)

// ImageClaim is one photo attached to a vehicle awaiting (or holding) the
// result of an asynchronous match check. Failed claims stay attached and
// flagged; they are never silently deleted.
type ImageClaim struct {
	ID              string      `json:"id"`
	VehicleID       string      `json:"vehicle_id"`
	URL             string      `json:"url"`
	Status          ImageStatus `json:"status"`
	MatchConfidence float64     `json:"match_confidence,omitempty"`
	RetryCount      int         `json:"retry_count"`
	RetryAfter      *time.Time  `json:"retry_after,omitempty"`
	SubmitterID     string      `json:"submitter_id"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
