package score

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sss97133/nuke-recon/internal/model"
)

func TestScore_Deterministic(t *testing.T) {
	w := DefaultWeights()
	in := Input{
		SourceKind:         model.SourceScrapedListing,
		OrgAffiliated:      true,
		VerifiedTier:       true,
		HistoricalAccuracy: 0.7,
		Corroboration:      2,
	}
	first := w.Score(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, w.Score(in))
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	w := DefaultWeights()
	inputs := []Input{
		{},
		{SourceKind: model.SourceVerifiedDoc, OrgAffiliated: true, VerifiedTier: true, HistoricalAccuracy: 1, Corroboration: 100},
		{SourceKind: model.SourceManual, HistoricalAccuracy: -5},
		{SourceKind: "unknown-kind", Corroboration: -1},
	}
	for _, in := range inputs {
		got := w.Score(in)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestScore_BonusesRaiseScore(t *testing.T) {
	w := DefaultWeights()
	base := Input{SourceKind: model.SourceScrapedListing}

	affiliated := base
	affiliated.OrgAffiliated = true
	assert.Greater(t, w.Score(affiliated), w.Score(base))

	verified := base
	verified.VerifiedTier = true
	assert.Greater(t, w.Score(verified), w.Score(base))
	assert.Greater(t, w.Score(affiliated), w.Score(verified), "org affiliation outweighs account tier")

	corroborated := base
	corroborated.Corroboration = 1
	assert.Greater(t, w.Score(corroborated), w.Score(base))
}

func TestScore_CorroborationCapped(t *testing.T) {
	w := DefaultWeights()
	atCap := w.Score(Input{SourceKind: model.SourceManual, Corroboration: w.CorroborationCap})
	beyond := w.Score(Input{SourceKind: model.SourceManual, Corroboration: w.CorroborationCap + 10})
	assert.Equal(t, atCap, beyond)
}

func TestScore_SourceKindOrdering(t *testing.T) {
	w := DefaultWeights()
	doc := w.Score(Input{SourceKind: model.SourceVerifiedDoc})
	scraped := w.Score(Input{SourceKind: model.SourceScrapedListing})
	manual := w.Score(Input{SourceKind: model.SourceManual})
	assert.Greater(t, doc, scraped)
	assert.Greater(t, scraped, manual)
}

func TestScore_SourcePriorOverridesKindBase(t *testing.T) {
	w := DefaultWeights()
	generic := w.Score(Input{SourceKind: model.SourceScrapedListing})
	trusted := w.Score(Input{SourceKind: model.SourceScrapedListing, SourcePrior: 0.9})
	flea := w.Score(Input{SourceKind: model.SourceScrapedListing, SourcePrior: 0.5})
	assert.Greater(t, trusted, generic)
	assert.Less(t, flea, generic)
}

func TestLoadWeights_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baseline: 0.5\ncorroboration_cap: 5\n"), 0o644))

	w, err := LoadWeights(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, w.Baseline, 1e-9)
	assert.Equal(t, 5, w.CorroborationCap)
	// Untouched fields keep defaults.
	assert.InDelta(t, DefaultWeights().VerifiedTier, w.VerifiedTier, 1e-9)
}

func TestLoadWeights_MissingFile(t *testing.T) {
	_, err := LoadWeights(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEffectiveConfidence_Decay(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 30, Floor: 0.1}

	fresh := EffectiveConfidence(0.8, now, now, decay)
	assert.InDelta(t, 0.8, fresh, 1e-9)

	halved := EffectiveConfidence(0.8, now.AddDate(0, 0, -30), now, decay)
	assert.InDelta(t, 0.4, halved, 1e-9)

	floored := EffectiveConfidence(0.8, now.AddDate(-10, 0, 0), now, decay)
	assert.InDelta(t, 0.1, floored, 1e-9)

	unknown := EffectiveConfidence(0.8, time.Time{}, now, decay)
	assert.InDelta(t, 0.8, unknown, 1e-9)
}
