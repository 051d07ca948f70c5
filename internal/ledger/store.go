// Package ledger persists the append-only evidence ledger plus the vehicle,
// image-claim and ownership-transfer records that hang off it. Entries are
// never updated in place: a correction is a new entry, and the only legal
// mutation is a status transition.
package ledger

import (
	"context"
	"time"

	"github.com/sss97133/nuke-recon/internal/model"
)

// Store is the persistence interface for the reconciliation engine. Both
// backends (SQLite, Postgres) implement it; the evidence tables are safe for
// concurrent appenders without application-level locking.
type Store interface {
	// Vehicles
	CreateVehicle(ctx context.Context, v *model.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*model.Vehicle, error)
	AdoptIdentifier(ctx context.Context, vehicleID, identifier string) error
	SetVehicleField(ctx context.Context, vehicleID, field, value string) error

	// Evidence. Append assigns ID and CreatedAt when unset. CurrentValue
	// returns the accepted entry with max confidence, tie-broken by newest,
	// or nil when the field has no accepted evidence. History returns
	// entries in that same precedence order. TransitionEvidence applies
	// pending→{accepted,rejected} and fails on any other transition.
	AppendEvidence(ctx context.Context, e *model.EvidenceEntry) error
	CurrentValue(ctx context.Context, entityID, field string) (*model.EvidenceEntry, error)
	History(ctx context.Context, entityID, field string) ([]model.EvidenceEntry, error)
	CountCorroborating(ctx context.Context, entityID, field, value string) (int, error)
	TransitionEvidence(ctx context.Context, entryID string, to model.EvidenceStatus) error

	// Image claims
	CreateImageClaim(ctx context.Context, c *model.ImageClaim) error
	UpdateImageClaim(ctx context.Context, c *model.ImageClaim) error
	ListImageClaims(ctx context.Context, vehicleID string) ([]model.ImageClaim, error)
	DueImageClaims(ctx context.Context, now time.Time, limit int) ([]model.ImageClaim, error)

	// Ownership transfers
	CreateTransfer(ctx context.Context, t *model.OwnershipTransfer) error
	GetTransfer(ctx context.Context, id string) (*model.OwnershipTransfer, error)
	MarkTransferVerified(ctx context.Context, id string) error

	// Bulk import for backfills. ImportEvidence appends entries as-is,
	// assigning IDs and timestamps when unset; ImportVehicles upserts on ID.
	ImportEvidence(ctx context.Context, entries []model.EvidenceEntry) (int64, error)
	ImportVehicles(ctx context.Context, vehicles []model.Vehicle) (int64, error)

	// LedgerStats returns counts for monitoring. Evidence counts cover
	// entries created at or after since; image and transfer counts are
	// all-time.
	LedgerStats(ctx context.Context, since time.Time) (*model.LedgerStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
