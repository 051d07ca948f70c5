package model

// SignalKind is the type of extractable signal found in free text.
type SignalKind string

const (
	SignalURL             SignalKind = "url"
	SignalIdentifierToken SignalKind = "identifier-token"
)

// Candidate is an ephemeral extraction from free text. It is produced by the
// extractor, optionally enriched by the listing fetcher, consumed by the
// gate, and never persisted.
type Candidate struct {
	Kind        SignalKind `json:"kind"`
	Span        string     `json:"span"` // the raw matched text
	EntityID    string     `json:"entity_id"`
	SubmitterID string     `json:"submitter_id"`
	Origin      string     `json:"origin"` // surface the text came from: comment, description, document
	Identifier  string     `json:"identifier,omitempty"`
	Confidence  float64    `json:"confidence"`
}
