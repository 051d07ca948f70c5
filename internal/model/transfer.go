package model

import "time"

// OwnershipTransfer is a documentary record of a sale derived from admitted
// evidence. It does not itself grant ownership: the linked owner evidence
// entry stays pending until separately verified.
type OwnershipTransfer struct {
	ID         string     `json:"id"`
	VehicleID  string     `json:"vehicle_id"`
	FromOwner  string     `json:"from_owner,omitempty"`
	ToOwner    string     `json:"to_owner,omitempty"` // empty if unresolved
	Date       *time.Time `json:"date,omitempty"`
	Price      int        `json:"price,omitempty"`
	EvidenceID string     `json:"evidence_id"` // the entry that documented it
	Verified   bool       `json:"verified"`
	CreatedAt  time.Time  `json:"created_at"`
}
