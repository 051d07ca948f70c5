package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sss97133/nuke-recon/internal/model"
)

func TestExtract_MarketplaceURL(t *testing.T) {
	e := New(nil)
	text := "just sold on https://bringatrailer.com/listing/2003-honda-accord-3/ for good money"

	got := e.Extract(text, "veh-1", "user-1", "comment")

	require.Len(t, got, 1)
	assert.Equal(t, model.SignalURL, got[0].Kind)
	assert.Equal(t, "https://bringatrailer.com/listing/2003-honda-accord-3/", got[0].Span)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-9)
	assert.Equal(t, "veh-1", got[0].EntityID)
}

func TestExtract_UnknownDomainIgnored(t *testing.T) {
	e := New(nil)
	got := e.Extract("see https://example.com/car-for-sale", "veh-1", "user-1", "comment")
	assert.Empty(t, got)
}

func TestExtract_DomainConfidenceRanking(t *testing.T) {
	e := New(nil)
	auction := e.Extract("https://mecum.com/lots/123", "v", "u", "c")
	classified := e.Extract("https://losangeles.craigslist.org/abc.html", "v", "u", "c")
	require.Len(t, auction, 1)
	require.Len(t, classified, 1)
	assert.Greater(t, auction[0].Confidence, classified[0].Confidence)
}

func TestExtract_IdentifierToken(t *testing.T) {
	e := New(nil)
	got := e.Extract("verified the plate reads 1hgcm82633a004352 in person", "veh-1", "user-1", "comment")

	require.Len(t, got, 1)
	assert.Equal(t, model.SignalIdentifierToken, got[0].Kind)
	assert.Equal(t, "1HGCM82633A004352", got[0].Identifier)
}

func TestExtract_InvalidTokenDiscardedSilently(t *testing.T) {
	e := New(nil)
	// 17 chars, all excluded letters, no digit: must produce nothing.
	got := e.Extract("IOIOIOIOIOIOIOIOI", "veh-1", "user-1", "comment")
	assert.Empty(t, got)
}

func TestExtract_DuplicateTokensDeduplicated(t *testing.T) {
	e := New(nil)
	got := e.Extract("1HGCM82633A004352 and again 1HGCM82633A004352", "v", "u", "c")
	assert.Len(t, got, 1)
}

func TestExtract_MixedSignals(t *testing.T) {
	e := New(nil)
	text := "listing https://hemmings.com/classifieds/123 vin 1HGCM82633A004352"
	got := e.Extract(text, "v", "u", "c")
	require.Len(t, got, 2)
	assert.Equal(t, model.SignalURL, got[0].Kind)
	assert.Equal(t, model.SignalIdentifierToken, got[1].Kind)
}

func TestExtract_Idempotent(t *testing.T) {
	e := New(nil)
	text := "https://bringatrailer.com/listing/x 1HGCM82633A004352"
	first := e.Extract(text, "v", "u", "c")
	second := e.Extract(text, "v", "u", "c")
	assert.Equal(t, first, second)
}
