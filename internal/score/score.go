// Package score computes the 0–1 trust score attached to admitted claims.
// Scoring is deliberately separated from admission: only a *gate.AdmittedClaim
// is ever scored, so a high score can rank claims but never overturn a
// rejection.
package score

import "github.com/sss97133/nuke-recon/internal/model"

// Input carries everything the scorer may consider. Identical inputs always
// yield identical output.
type Input struct {
	SourceKind model.SourceKind
	// SourcePrior, when positive, replaces the source kind's generic base
	// confidence; scraped listings carry the per-marketplace prior here.
	SourcePrior float64
	// OrgAffiliated is true when the submitter belongs to an organization
	// with a recorded relationship to the target vehicle (dealer of record,
	// marque registry, previous auction house).
	OrgAffiliated bool
	// VerifiedTier is true for professional/verified accounts.
	VerifiedTier bool
	// HistoricalAccuracy is the submitter's stored accuracy rate in [0,1].
	HistoricalAccuracy float64
	// Corroboration counts independently accepted entries that already
	// propose this exact value.
	Corroboration int
}

// Weights parametrizes the scorer. All bonuses are additive on top of the
// neutral baseline; the result is clamped to [0,1].
type Weights struct {
	Baseline           float64 `yaml:"baseline"`
	SourceKindWeight   float64 `yaml:"source_kind_weight"`
	OrgAffiliation     float64 `yaml:"org_affiliation_bonus"`
	VerifiedTier       float64 `yaml:"verified_tier_bonus"`
	HistoricalAccuracy float64 `yaml:"historical_accuracy_weight"`
	CorroborationBonus float64 `yaml:"corroboration_bonus"`
	CorroborationCap   int     `yaml:"corroboration_cap"`
}

// DefaultWeights returns the production scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Baseline:           0.2,
		SourceKindWeight:   0.3,
		OrgAffiliation:     0.15,
		VerifiedTier:       0.08,
		HistoricalAccuracy: 0.2,
		CorroborationBonus: 0.05,
		CorroborationCap:   3,
	}
}

// Score is a pure function of (weights, input): no I/O, no clock, no
// randomness. Output is always in [0,1].
func (w Weights) Score(in Input) float64 {
	base := in.SourceKind.BaseConfidence()
	if in.SourcePrior > 0 {
		base = in.SourcePrior
	}

	s := w.Baseline
	s += w.SourceKindWeight * clamp01(base)
	if in.OrgAffiliated {
		s += w.OrgAffiliation
	}
	if in.VerifiedTier {
		s += w.VerifiedTier
	}
	s += w.HistoricalAccuracy * clamp01(in.HistoricalAccuracy)

	corroboration := in.Corroboration
	if w.CorroborationCap > 0 && corroboration > w.CorroborationCap {
		corroboration = w.CorroborationCap
	}
	s += w.CorroborationBonus * float64(corroboration)

	return clamp01(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
