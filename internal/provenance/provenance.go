// Package provenance answers display and edit questions for a vehicle
// field: what the current value is, where it came from, how confident the
// ledger is in it, and whether a given viewer may overwrite it directly.
package provenance

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sss97133/nuke-recon/internal/ledger"
	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/score"
)

// View is the resolved provenance of a single field for one viewer.
type View struct {
	VehicleID   string           `json:"vehicle_id"`
	Field       string           `json:"field"`
	Value       string           `json:"value"`
	Source      model.SourceKind `json:"source,omitempty"`
	SourceURL   string           `json:"source_url,omitempty"`
	Confidence  float64          `json:"confidence"`
	SubmitterID string           `json:"submitter_id,omitempty"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
	HasEvidence bool             `json:"has_evidence"`
	CanEdit     bool             `json:"can_edit"`
}

// Resolver reads the evidence ledger to compute field views. Confidence is
// reported as the age-decayed effective value, not the raw score at append
// time.
type Resolver struct {
	store ledger.Store
	decay score.DecayConfig
	now   func() time.Time
}

func NewResolver(store ledger.Store, decay score.DecayConfig) *Resolver {
	return &Resolver{store: store, decay: decay, now: time.Now}
}

// Resolve computes the provenance view of one field. Direct overwrite is
// allowed only for the submitter of the currently-winning entry; anyone else
// supersedes it by submitting evidence that wins on confidence and recency.
// A field with no evidence is editable only by the record owner.
func (r *Resolver) Resolve(ctx context.Context, vehicleID, field, viewerID string) (*View, error) {
	v, err := r.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, eris.Wrapf(err, "provenance: resolve %s/%s", vehicleID, field)
	}

	cur, err := r.store.CurrentValue(ctx, vehicleID, field)
	if err != nil {
		return nil, eris.Wrapf(err, "provenance: current value %s/%s", vehicleID, field)
	}

	if cur == nil {
		return &View{
			VehicleID:   vehicleID,
			Field:       field,
			Value:       v.FieldValue(field),
			HasEvidence: false,
			CanEdit:     viewerID != "" && viewerID == v.OwnerID,
		}, nil
	}

	at := cur.CreatedAt
	return &View{
		VehicleID:   vehicleID,
		Field:       field,
		Value:       cur.Value,
		Source:      cur.SourceKind,
		SourceURL:   cur.SourceURL,
		Confidence:  score.EffectiveConfidence(cur.Confidence, cur.CreatedAt, r.now(), r.decay),
		SubmitterID: cur.SubmitterID,
		SubmittedAt: &at,
		HasEvidence: true,
		CanEdit:     viewerID != "" && viewerID == cur.SubmitterID,
	}, nil
}

// ResolveFields resolves several fields in one call, in the given order.
func (r *Resolver) ResolveFields(ctx context.Context, vehicleID string, fields []string, viewerID string) ([]View, error) {
	views := make([]View, 0, len(fields))
	for _, f := range fields {
		view, err := r.Resolve(ctx, vehicleID, f, viewerID)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}
