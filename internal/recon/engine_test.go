package recon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sss97133/nuke-recon/internal/extract"
	"github.com/sss97133/nuke-recon/internal/fetch"
	"github.com/sss97133/nuke-recon/internal/gate"
	"github.com/sss97133/nuke-recon/internal/imagecheck"
	"github.com/sss97133/nuke-recon/internal/ledger"
	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/score"
	"github.com/sss97133/nuke-recon/pkg/vision"
)

const listingURL = "https://bringatrailer.com/listing/2003-honda-accord"

// fakeFetcher serves canned listings by URL.
type fakeFetcher struct {
	listings map[string]*model.ScrapedListing
	calls    int
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*model.ScrapedListing, error) {
	f.calls++
	l, ok := f.listings[rawURL]
	if !ok {
		return nil, eris.Wrapf(fetch.ErrFetchFailed, "no canned listing for %s", rawURL)
	}
	cp := *l
	return &cp, nil
}

func soldListing() *model.ScrapedListing {
	sold := time.Date(2025, 11, 2, 18, 0, 0, 0, time.UTC)
	return &model.ScrapedListing{
		URL:            listingURL,
		Domain:         "bringatrailer.com",
		Identifier:     "1HGCM82633A004352",
		AllIdentifiers: []string{"1HGCM82633A004352"},
		Price:          23000,
		Seller:         "faster_horses",
		Buyer:          "garage99",
		PhotoURLs:      []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"},
		SoldAt:         &sold,
		FetchedAt:      time.Now().UTC(),
	}
}

func newEngine(t *testing.T, fetcher fetch.Fetcher) (*Engine, ledger.Store) {
	t.Helper()
	s, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	matcher := vision.MatcherFunc(func(ctx context.Context, imageURL, descriptor string) (vision.MatchResult, error) {
		return vision.MatchResult{Matches: true, Confidence: 0.9}, nil
	})
	images := imagecheck.New(s, matcher, imagecheck.Options{RetryDelay: time.Minute})

	eng := New(s, extract.New(nil), fetcher, score.DefaultWeights(), images, nil)
	return eng, s
}

func TestSubmitText_ListingAdmittedAndFannedOut(t *testing.T) {
	fetcher := &fakeFetcher{listings: map[string]*model.ScrapedListing{listingURL: soldListing()}}
	eng, s := newEngine(t, fetcher)
	ctx := context.Background()

	v := &model.Vehicle{OwnerID: "owner-1"}
	require.NoError(t, s.CreateVehicle(ctx, v))

	res, err := eng.SubmitText(ctx, v.ID, "user-1", "look at this sale "+listingURL, "comment")
	require.NoError(t, err)
	assert.Equal(t, 1, res.QueuedCandidates)
	assert.Equal(t, 1, res.Admitted)
	assert.True(t, res.IdentifierAdopted)
	assert.Equal(t, 2, res.ImagesQueued)
	require.Len(t, res.TransferIDs, 1)

	// The blank identifier was adopted from the listing.
	got, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "1HGCM82633A004352", got.Identifier)

	// One accepted price entry.
	cur, err := s.CurrentValue(ctx, v.ID, model.FieldPrice)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "23000", cur.Value)
	assert.Equal(t, model.EvidenceAccepted, cur.Status)
	assert.Equal(t, listingURL, cur.SourceURL)

	// Identifier decode fan-out: make and year from VIN positions.
	cur, err = s.CurrentValue(ctx, v.ID, model.FieldMake)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "Honda", cur.Value)
	assert.Equal(t, model.SourceIdentifierDec, cur.SourceKind)

	cur, err = s.CurrentValue(ctx, v.ID, model.FieldYear)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "2003", cur.Value)

	// Sale date from the listing.
	cur, err = s.CurrentValue(ctx, v.ID, model.FieldSaleDate)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "2025-11-02", cur.Value)

	// Owner evidence stays pending until the transfer is verified.
	cur, err = s.CurrentValue(ctx, v.ID, model.FieldOwner)
	require.NoError(t, err)
	assert.Nil(t, cur)

	claims, err := s.ListImageClaims(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 2)
}

func TestSubmitText_MismatchWritesNothing(t *testing.T) {
	listing := soldListing()
	listing.Identifier = "1HGCM82633A004999"
	listing.AllIdentifiers = []string{"1HGCM82633A004999"}
	fetcher := &fakeFetcher{listings: map[string]*model.ScrapedListing{listingURL: listing}}
	eng, s := newEngine(t, fetcher)
	ctx := context.Background()

	v := &model.Vehicle{Identifier: "1HGCM82633A004352"}
	require.NoError(t, s.CreateVehicle(ctx, v))

	_, err := eng.SubmitText(ctx, v.ID, "user-1", listingURL, "comment")
	require.Error(t, err)
	assert.True(t, eris.Is(err, gate.ErrIdentifierMismatch))

	// All-or-nothing: zero evidence, zero images, target unchanged.
	hist, err := s.History(ctx, v.ID, model.FieldPrice)
	require.NoError(t, err)
	assert.Empty(t, hist)

	claims, err := s.ListImageClaims(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, claims)

	got, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "1HGCM82633A004352", got.Identifier)
}

func TestSubmitText_ExcludedLetterTokenIgnored(t *testing.T) {
	fetcher := &fakeFetcher{}
	eng, s := newEngine(t, fetcher)
	ctx := context.Background()

	v := &model.Vehicle{}
	require.NoError(t, s.CreateVehicle(ctx, v))

	res, err := eng.SubmitText(ctx, v.ID, "user-1", "the vin is IOIOIOIOIOIOIOIOI", "comment")
	require.NoError(t, err)
	assert.Equal(t, 0, res.QueuedCandidates)
	assert.Equal(t, 0, fetcher.calls)
}

func TestSubmitText_BareIdentifierToken(t *testing.T) {
	fetcher := &fakeFetcher{}
	eng, s := newEngine(t, fetcher)
	ctx := context.Background()

	v := &model.Vehicle{}
	require.NoError(t, s.CreateVehicle(ctx, v))

	res, err := eng.SubmitText(ctx, v.ID, "user-1", "vin on the title reads 1HGCM82633A004352", "document")
	require.NoError(t, err)
	assert.Equal(t, 1, res.QueuedCandidates)
	assert.True(t, res.IdentifierAdopted)
	assert.Equal(t, 0, fetcher.calls)

	got, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "1HGCM82633A004352", got.Identifier)

	cur, err := s.CurrentValue(ctx, v.ID, model.FieldIdentifier)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, model.SourceIdentifierDec, cur.SourceKind)
}

func TestSubmitText_FetchFailureSurfaced(t *testing.T) {
	fetcher := &fakeFetcher{} // no canned listings
	eng, s := newEngine(t, fetcher)
	ctx := context.Background()

	v := &model.Vehicle{}
	require.NoError(t, s.CreateVehicle(ctx, v))

	_, err := eng.SubmitText(ctx, v.ID, "user-1", listingURL, "comment")
	require.Error(t, err)
	assert.True(t, eris.Is(err, fetch.ErrFetchFailed))
}

func TestProposeValue_ManualField(t *testing.T) {
	eng, s := newEngine(t, &fakeFetcher{})
	ctx := context.Background()

	v := &model.Vehicle{Identifier: "1HGCM82633A004352"}
	require.NoError(t, s.CreateVehicle(ctx, v))

	entry, err := eng.ProposeValue(ctx, v.ID, model.FieldMileage, "98000", "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.SourceManual, entry.SourceKind)
	assert.Equal(t, model.EvidenceAccepted, entry.Status)
	assert.Greater(t, entry.Confidence, 0.0)
}

func TestProposeValue_ChassisIdentifierAdopted(t *testing.T) {
	eng, s := newEngine(t, &fakeFetcher{})
	ctx := context.Background()

	v := &model.Vehicle{}
	require.NoError(t, s.CreateVehicle(ctx, v))

	// A pre-1981 chassis code: shorter than 17 chars, manual entry only.
	entry, err := eng.ProposeValue(ctx, v.ID, model.FieldIdentifier, "911 300 1234", "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, "9113001234", entry.Value)

	got, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "9113001234", got.Identifier)
}

func TestProposeValue_IdentifierMismatchRejected(t *testing.T) {
	eng, s := newEngine(t, &fakeFetcher{})
	ctx := context.Background()

	v := &model.Vehicle{Identifier: "1HGCM82633A004352"}
	require.NoError(t, s.CreateVehicle(ctx, v))

	_, err := eng.ProposeValue(ctx, v.ID, model.FieldIdentifier, "1HGCM82633A004999", "user-1", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, gate.ErrIdentifierMismatch))

	hist, err := s.History(ctx, v.ID, model.FieldIdentifier)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestProposeValue_MalformedTargetBlocks(t *testing.T) {
	eng, s := newEngine(t, &fakeFetcher{})
	ctx := context.Background()

	v := &model.Vehicle{Identifier: "NODIGITSHERE"}
	require.NoError(t, s.CreateVehicle(ctx, v))

	_, err := eng.ProposeValue(ctx, v.ID, model.FieldPrice, "23000", "user-1", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, gate.ErrTargetIdentifierInvalid))
}

func TestVerifyTransfer(t *testing.T) {
	fetcher := &fakeFetcher{listings: map[string]*model.ScrapedListing{listingURL: soldListing()}}
	eng, s := newEngine(t, fetcher)
	ctx := context.Background()

	v := &model.Vehicle{}
	require.NoError(t, s.CreateVehicle(ctx, v))

	res, err := eng.SubmitText(ctx, v.ID, "user-1", listingURL, "comment")
	require.NoError(t, err)
	require.Len(t, res.TransferIDs, 1)

	transfer, err := eng.VerifyTransfer(ctx, res.TransferIDs[0])
	require.NoError(t, err)
	assert.True(t, transfer.Verified)
	assert.Equal(t, "garage99", transfer.ToOwner)

	// The owner evidence is now accepted and wins the field.
	cur, err := s.CurrentValue(ctx, v.ID, model.FieldOwner)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "garage99", cur.Value)

	_, err = eng.VerifyTransfer(ctx, res.TransferIDs[0])
	assert.Error(t, err)
}
