package model

import "time"

// Canonical field names used as evidence ledger keys.
const (
	FieldIdentifier = "identifier"
	FieldPrice      = "price"
	FieldMileage    = "mileage"
	FieldMake       = "make"
	FieldModel      = "model"
	FieldYear       = "year"
	FieldOwner      = "owner"
	FieldSaleDate   = "sale_date"
)

// Vehicle is the authoritative record for a single vehicle. Fields are
// mutated only through the reconciliation gate once a candidate is admitted,
// or by an authorized human edit (which itself writes a ledger entry).
type Vehicle struct {
	ID         string            `json:"id"`
	Identifier string            `json:"identifier,omitempty"` // normalized VIN; empty until confirmed
	OwnerID    string            `json:"owner_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// FieldValue returns the canonical value for a field, or "" if unset.
func (v *Vehicle) FieldValue(field string) string {
	if field == FieldIdentifier {
		return v.Identifier
	}
	if v.Fields == nil {
		return ""
	}
	return v.Fields[field]
}

// Descriptor returns a short human-readable description of the vehicle
// (year/make/model when known), used when asking the image-match service
// whether a photo plausibly depicts this vehicle.
func (v *Vehicle) Descriptor() string {
	parts := ""
	for _, f := range []string{FieldYear, FieldMake, FieldModel} {
		if val := v.FieldValue(f); val != "" {
			if parts != "" {
				parts += " "
			}
			parts += val
		}
	}
	if parts == "" {
		if v.Identifier != "" {
			return "vehicle with VIN " + v.Identifier
		}
		return "vehicle " + v.ID
	}
	return parts
}
