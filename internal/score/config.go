package score

import (
	"math"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadWeights reads weight overrides from a YAML file. Zero-valued fields in
// the file keep their defaults, so an override file only needs the weights
// it changes.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	data, err := os.ReadFile(path)
	if err != nil {
		return w, eris.Wrapf(err, "score: read weights file %s", path)
	}

	var overrides Weights
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return w, eris.Wrapf(err, "score: parse weights file %s", path)
	}

	merge := func(dst *float64, src float64) {
		if src != 0 {
			*dst = src
		}
	}
	merge(&w.Baseline, overrides.Baseline)
	merge(&w.SourceKindWeight, overrides.SourceKindWeight)
	merge(&w.OrgAffiliation, overrides.OrgAffiliation)
	merge(&w.VerifiedTier, overrides.VerifiedTier)
	merge(&w.HistoricalAccuracy, overrides.HistoricalAccuracy)
	merge(&w.CorroborationBonus, overrides.CorroborationBonus)
	if overrides.CorroborationCap != 0 {
		w.CorroborationCap = overrides.CorroborationCap
	}
	return w, nil
}

// DecayConfig controls optional age-based confidence decay when ranking
// ledger entries for display.
type DecayConfig struct {
	HalfLifeDays int     `yaml:"half_life_days"`
	Floor        float64 `yaml:"floor"`
}

// EffectiveConfidence decays a raw confidence by claim age:
// effective = max(floor, raw * 2^(-ageDays / halfLifeDays)).
// A zero asOf means age is unknown and the raw value is used unchanged.
func EffectiveConfidence(raw float64, asOf, now time.Time, decay DecayConfig) float64 {
	if raw <= 0 {
		return 0
	}
	if asOf.IsZero() {
		return raw
	}

	ageDays := now.Sub(asOf).Hours() / 24
	if ageDays <= 0 {
		return raw
	}

	halfLife := float64(decay.HalfLifeDays)
	if halfLife <= 0 {
		halfLife = 365
	}

	decayed := raw * math.Pow(2, -ageDays/halfLife)
	if decayed < decay.Floor {
		return decay.Floor
	}
	return decayed
}
