package model

import "time"

// ScrapedListing is the structured payload parsed from a marketplace page.
// It carries data only; acceptance is decided by the gate, never here.
type ScrapedListing struct {
	URL        string     `json:"url"`
	Domain     string     `json:"domain"`
	Identifier string     `json:"identifier,omitempty"` // normalized, empty if none found
	// AllIdentifiers holds every distinct syntactically valid identifier
	// token found on the page; more than one makes the listing ambiguous.
	AllIdentifiers []string   `json:"all_identifiers,omitempty"`
	Price          int        `json:"price,omitempty"` // whole currency units
	Seller         string     `json:"seller,omitempty"`
	Buyer          string     `json:"buyer,omitempty"`
	PhotoURLs      []string   `json:"photo_urls,omitempty"`
	ListedAt       *time.Time `json:"listed_at,omitempty"`
	SoldAt         *time.Time `json:"sold_at,omitempty"`
	BaseConfidence float64    `json:"base_confidence"` // per-domain prior from the extractor
	FetchedAt      time.Time  `json:"fetched_at"`
}
