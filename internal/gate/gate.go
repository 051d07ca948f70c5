// Package gate is the single admission point deciding whether untrusted
// candidate data may be merged into a vehicle's record. Admission is
// all-or-nothing per batch: nothing from a rejected candidate is written
// anywhere, and confidence scores never override a rejection; they only
// rank among already-admitted claims.
package gate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/vin"
)

// Rejection reasons. Terminal for the batch, never retried automatically.
var (
	ErrIdentifierMismatch       = eris.New("identifier mismatch")
	ErrAmbiguous                = eris.New("ambiguous: multiple identifiers found")
	ErrListingIdentifierInvalid = eris.New("listing identifier invalid")
	ErrUnverifiable             = eris.New("cannot verify: listing lacks identifier")
	// ErrTargetIdentifierInvalid blocks all admissions until a human corrects
	// the record's own malformed identifier.
	ErrTargetIdentifierInvalid = eris.New("target identifier invalid: record must be corrected first")
)

// VehicleStore is the slice of persistence the gate needs: reading the
// target record and adopting an identifier onto a record that has none.
type VehicleStore interface {
	GetVehicle(ctx context.Context, id string) (*model.Vehicle, error)
	AdoptIdentifier(ctx context.Context, vehicleID, identifier string) error
}

// AdmittedClaim proves a candidate passed the gate. It cannot be constructed
// outside this package, so every scoreable or ledgerable claim has already
// been admitted and confidence can never gate admission.
type AdmittedClaim struct {
	vehicleID         string
	submitterID       string
	listing           *model.ScrapedListing
	adoptedIdentifier bool
}

// VehicleID returns the target vehicle of the admitted claim.
func (c *AdmittedClaim) VehicleID() string { return c.vehicleID }

// SubmitterID returns who submitted the claim.
func (c *AdmittedClaim) SubmitterID() string { return c.submitterID }

// Listing returns the admitted payload.
func (c *AdmittedClaim) Listing() *model.ScrapedListing { return c.listing }

// AdoptedIdentifier reports whether admission set the target's identifier.
func (c *AdmittedClaim) AdoptedIdentifier() bool { return c.adoptedIdentifier }

// Gate serializes admission decisions per vehicle. It is the only writer
// path to a vehicle's canonical identifier; without the per-vehicle lock two
// candidates could each look consistent against a null identifier and both
// be admitted with conflicting identifiers.
type Gate struct {
	store VehicleStore
	locks *vehicleLocks
}

// New creates a Gate over the given vehicle store.
func New(store VehicleStore) *Gate {
	return &Gate{store: store, locks: newVehicleLocks()}
}

// Reconcile runs the decision table for a scraped listing against the
// target vehicle. It returns an AdmittedClaim or one of the rejection
// sentinels. Rule order, first match wins:
//
//  0. target identifier present but malformed → reject (blocking policy)
//  1. target and listing identifiers both present and different → reject
//  2. listing carries more than one valid identifier → reject
//  3. listing identifier present but invalid → reject
//  4. target has an identifier, listing has none → reject
//  5. target has none, listing has a valid one → adopt it, admit
//  6. both present and equal → admit
func (g *Gate) Reconcile(ctx context.Context, vehicleID string, listing *model.ScrapedListing, submitterID string) (*AdmittedClaim, error) {
	return g.reconcile(ctx, vehicleID, listing, submitterID, vin.Normalize)
}

// ReconcileManual is the manual-entry path: identical decision table, but
// identifiers are validated in the lenient chassis-code mode.
func (g *Gate) ReconcileManual(ctx context.Context, vehicleID string, listing *model.ScrapedListing, submitterID string) (*AdmittedClaim, error) {
	return g.reconcile(ctx, vehicleID, listing, submitterID, vin.NormalizeChassis)
}

// VerifyTarget applies rule 0 alone: manual claims for non-identifier
// fields skip the decision table, but a record whose own identifier is
// malformed still blocks all admissions until corrected.
func (g *Gate) VerifyTarget(ctx context.Context, vehicleID string) error {
	vehicle, err := g.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return eris.Wrapf(err, "gate: load vehicle %s", vehicleID)
	}
	if vehicle.Identifier != "" {
		if _, err := vin.NormalizeChassis(vehicle.Identifier); err != nil {
			return g.reject(vehicleID, ErrTargetIdentifierInvalid)
		}
	}
	return nil
}

func (g *Gate) reconcile(ctx context.Context, vehicleID string, listing *model.ScrapedListing, submitterID string, normalize func(string) (string, error)) (*AdmittedClaim, error) {
	mu := g.locks.get(vehicleID)
	mu.Lock()
	defer mu.Unlock()

	vehicle, err := g.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, eris.Wrapf(err, "gate: load vehicle %s", vehicleID)
	}

	// Rule 0: a malformed target identifier blocks admission entirely.
	targetID := vehicle.Identifier
	if targetID != "" {
		if _, err := vin.NormalizeChassis(targetID); err != nil {
			return nil, g.reject(vehicleID, ErrTargetIdentifierInvalid)
		}
	}

	// Rule 2 is checked before the listing identifier is trusted at all:
	// a page naming several vehicles can never verifiably describe one.
	if len(listing.AllIdentifiers) > 1 {
		return nil, g.reject(vehicleID, ErrAmbiguous)
	}

	listingID := listing.Identifier
	if listingID == "" && len(listing.AllIdentifiers) == 1 {
		listingID = listing.AllIdentifiers[0]
	}

	if listingID != "" {
		normalized, err := normalize(listingID)
		if err != nil {
			return nil, g.reject(vehicleID, ErrListingIdentifierInvalid)
		}
		listingID = normalized
	}

	switch {
	case targetID != "" && listingID != "" && targetID != listingID:
		return nil, g.reject(vehicleID, ErrIdentifierMismatch)

	case targetID != "" && listingID == "":
		return nil, g.reject(vehicleID, ErrUnverifiable)

	case targetID == "" && listingID != "":
		if err := g.store.AdoptIdentifier(ctx, vehicleID, listingID); err != nil {
			return nil, eris.Wrapf(err, "gate: adopt identifier onto %s", vehicleID)
		}
		zap.L().Info("gate: admitted claim, identifier adopted",
			zap.String("vehicle_id", vehicleID),
			zap.String("identifier", listingID),
			zap.String("submitter_id", submitterID),
		)
		return &AdmittedClaim{
			vehicleID:         vehicleID,
			submitterID:       submitterID,
			listing:           listing,
			adoptedIdentifier: true,
		}, nil

	case targetID == "" && listingID == "":
		// Nothing to anchor on either side: only manual claims for
		// non-identifier fields reach here, and they carry no identifier
		// risk. Scraped listings without identifiers were rejected above
		// when the target has one; with no target identifier either, the
		// listing cannot contaminate a mismatched vehicle.
		return &AdmittedClaim{
			vehicleID:   vehicleID,
			submitterID: submitterID,
			listing:     listing,
		}, nil

	default: // equal identifiers
		zap.L().Debug("gate: admitted claim, identifier match",
			zap.String("vehicle_id", vehicleID),
			zap.String("identifier", targetID),
		)
		return &AdmittedClaim{
			vehicleID:   vehicleID,
			submitterID: submitterID,
			listing:     listing,
		}, nil
	}
}

func (g *Gate) reject(vehicleID string, reason error) error {
	zap.L().Warn("gate: rejected claim",
		zap.String("vehicle_id", vehicleID),
		zap.String("reason", reason.Error()),
	)
	return reason
}
