// Package recon orchestrates the reconciliation flow: extract candidates
// from submitted text, fetch listings, run the gate, score admitted claims,
// and fan the results out to the evidence ledger and the image pipeline.
// All I/O lives here; the decision functions it calls are pure.
package recon

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sss97133/nuke-recon/internal/extract"
	"github.com/sss97133/nuke-recon/internal/fetch"
	"github.com/sss97133/nuke-recon/internal/gate"
	"github.com/sss97133/nuke-recon/internal/imagecheck"
	"github.com/sss97133/nuke-recon/internal/ledger"
	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/score"
	"github.com/sss97133/nuke-recon/internal/vin"
)

// fetchConcurrency bounds parallel listing fetches per submission.
const fetchConcurrency = 4

// SubmitterProfile carries the submitter attributes the scorer considers.
type SubmitterProfile struct {
	OrgAffiliated      bool
	VerifiedTier       bool
	HistoricalAccuracy float64
}

// ProfileFunc looks up a submitter's profile. A nil ProfileFunc means every
// submitter scores as an unknown account.
type ProfileFunc func(ctx context.Context, submitterID string) SubmitterProfile

// SubmitResult summarizes one text submission.
type SubmitResult struct {
	QueuedCandidates  int  `json:"queued_candidates"`
	Admitted          int  `json:"admitted"`
	EntriesWritten    int  `json:"entries_written"`
	ImagesQueued      int  `json:"images_queued"`
	IdentifierAdopted bool `json:"identifier_adopted"`
	// TransferIDs lists ownership transfers created by this submission,
	// each awaiting verification.
	TransferIDs []string `json:"transfer_ids,omitempty"`
}

// Engine wires the reconciliation modules together.
type Engine struct {
	store     ledger.Store
	extractor *extract.Extractor
	fetcher   fetch.Fetcher
	gate      *gate.Gate
	weights   score.Weights
	images    *imagecheck.Pipeline
	profiles  ProfileFunc
}

// New assembles an engine. images may be nil when photo validation is
// disabled; profiles may be nil.
func New(store ledger.Store, extractor *extract.Extractor, fetcher fetch.Fetcher, weights score.Weights, images *imagecheck.Pipeline, profiles ProfileFunc) *Engine {
	return &Engine{
		store:     store,
		extractor: extractor,
		fetcher:   fetcher,
		gate:      gate.New(store),
		weights:   weights,
		images:    images,
		profiles:  profiles,
	}
}

// SubmitText ingests free text about a vehicle. URL candidates are fetched
// and gated as scraped listings; bare identifier tokens are gated directly.
// A gate rejection is terminal for the batch and returned to the caller;
// nothing from the rejected candidate is written.
func (e *Engine) SubmitText(ctx context.Context, vehicleID, submitterID, text, origin string) (*SubmitResult, error) {
	candidates := e.extractor.Extract(text, vehicleID, submitterID, origin)
	result := &SubmitResult{QueuedCandidates: len(candidates)}
	if len(candidates) == 0 {
		return result, nil
	}

	listings, err := e.fetchAll(ctx, candidates)
	if err != nil {
		return result, err
	}

	for _, c := range candidates {
		var listing *model.ScrapedListing
		switch c.Kind {
		case model.SignalURL:
			listing = listings[c.Span]
			if listing == nil {
				continue
			}
		case model.SignalIdentifierToken:
			listing = &model.ScrapedListing{
				Identifier:     c.Identifier,
				AllIdentifiers: []string{c.Identifier},
				BaseConfidence: model.SourceIdentifierDec.BaseConfidence(),
			}
		default:
			continue
		}

		claim, err := e.gate.Reconcile(ctx, vehicleID, listing, submitterID)
		if err != nil {
			return result, err
		}
		result.Admitted++
		if claim.AdoptedIdentifier() {
			result.IdentifierAdopted = true
		}

		if err := e.recordAdmitted(ctx, claim, result); err != nil {
			return result, err
		}
	}

	zap.L().Info("submission processed",
		zap.String("vehicle_id", vehicleID),
		zap.String("submitter_id", submitterID),
		zap.Int("candidates", result.QueuedCandidates),
		zap.Int("admitted", result.Admitted),
		zap.Int("entries", result.EntriesWritten),
	)
	return result, nil
}

// fetchAll fetches every URL candidate concurrently, keyed by the raw span.
// Any fetch failure cancels the rest and surfaces; partially-fetched data
// from an abandoned fetch never reaches the gate.
func (e *Engine) fetchAll(ctx context.Context, candidates []model.Candidate) (map[string]*model.ScrapedListing, error) {
	listings := make(map[string]*model.ScrapedListing)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for _, c := range candidates {
		if c.Kind != model.SignalURL {
			continue
		}
		g.Go(func() error {
			listing, err := e.fetcher.Fetch(gctx, c.Span)
			if err != nil {
				return eris.Wrapf(err, "recon: fetch %s", c.Span)
			}
			listing.BaseConfidence = c.Confidence
			mu.Lock()
			listings[c.Span] = listing
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return listings, nil
}

// recordAdmitted fans one admitted claim out to the ledger, the transfer
// table, and the image pipeline.
func (e *Engine) recordAdmitted(ctx context.Context, claim *gate.AdmittedClaim, result *SubmitResult) error {
	listing := claim.Listing()
	profile := e.profile(ctx, claim.SubmitterID())

	appendAccepted := func(field, value string, kind model.SourceKind, prior float64) (*model.EvidenceEntry, error) {
		entry, err := e.appendScored(ctx, claim.VehicleID(), claim.SubmitterID(), field, value, kind, listing.URL, prior, profile, model.EvidenceAccepted)
		if err == nil {
			result.EntriesWritten++
		}
		return entry, err
	}

	// Bare identifier tokens arrive as synthetic listings without a URL and
	// keep the identifier-decode source kind.
	pageKind := model.SourceScrapedListing
	if listing.URL == "" {
		pageKind = model.SourceIdentifierDec
	}

	if claim.AdoptedIdentifier() && listing.Identifier != "" {
		if _, err := appendAccepted(model.FieldIdentifier, listing.Identifier, pageKind, listing.BaseConfidence); err != nil {
			return err
		}
	}

	if listing.Price > 0 {
		if _, err := appendAccepted(model.FieldPrice, strconv.Itoa(listing.Price), model.SourceScrapedListing, listing.BaseConfidence); err != nil {
			return err
		}
	}
	if listing.SoldAt != nil {
		if _, err := appendAccepted(model.FieldSaleDate, listing.SoldAt.Format("2006-01-02"), model.SourceScrapedListing, listing.BaseConfidence); err != nil {
			return err
		}
	}

	// Make and year decoded from identifier positions get their own source
	// kind: the identifier itself is the evidence, not the page text.
	if listing.Identifier != "" {
		if decoded, err := vin.Decode(listing.Identifier); err == nil {
			for field, value := range decoded.Fields() {
				if _, err := appendAccepted(field, value, model.SourceIdentifierDec, 0); err != nil {
					return err
				}
			}
		}
	}

	if listing.Buyer != "" {
		if err := e.recordTransfer(ctx, claim, profile, result); err != nil {
			return err
		}
	}

	if e.images != nil && len(listing.PhotoURLs) > 0 {
		claims, err := e.images.Enqueue(ctx, claim.VehicleID(), claim.SubmitterID(), listing.PhotoURLs)
		if err != nil {
			return err
		}
		result.ImagesQueued += len(claims)
	}
	return nil
}

// recordTransfer writes the documentary sale record: a pending owner entry
// that only VerifyTransfer can accept, plus the transfer row linking to it.
func (e *Engine) recordTransfer(ctx context.Context, claim *gate.AdmittedClaim, profile SubmitterProfile, result *SubmitResult) error {
	listing := claim.Listing()

	entry, err := e.appendScored(ctx, claim.VehicleID(), claim.SubmitterID(),
		model.FieldOwner, listing.Buyer, model.SourceScrapedListing, listing.URL,
		listing.BaseConfidence, profile, model.EvidencePending)
	if err != nil {
		return err
	}
	result.EntriesWritten++

	transfer := &model.OwnershipTransfer{
		VehicleID:  claim.VehicleID(),
		FromOwner:  listing.Seller,
		ToOwner:    listing.Buyer,
		Date:       listing.SoldAt,
		Price:      listing.Price,
		EvidenceID: entry.ID,
	}
	if err := e.store.CreateTransfer(ctx, transfer); err != nil {
		return eris.Wrapf(err, "recon: record transfer for %s", claim.VehicleID())
	}
	result.TransferIDs = append(result.TransferIDs, transfer.ID)

	zap.L().Info("ownership transfer recorded",
		zap.String("vehicle_id", claim.VehicleID()),
		zap.String("to_owner", listing.Buyer),
		zap.String("transfer_id", transfer.ID),
	)
	return nil
}

// ProposeValue is the manual-entry path. Identifier proposals run the full
// decision table in lenient chassis mode; other fields only require the
// target record itself to be sound.
func (e *Engine) ProposeValue(ctx context.Context, vehicleID, field, value, submitterID string, kind model.SourceKind) (*model.EvidenceEntry, error) {
	if kind == "" {
		kind = model.SourceManual
	}
	profile := e.profile(ctx, submitterID)

	if field == model.FieldIdentifier {
		normalized, err := vin.NormalizeChassis(value)
		if err != nil {
			return nil, err
		}
		synthetic := &model.ScrapedListing{
			Identifier:     normalized,
			AllIdentifiers: []string{normalized},
		}
		if _, err := e.gate.ReconcileManual(ctx, vehicleID, synthetic, submitterID); err != nil {
			return nil, err
		}
		return e.appendScored(ctx, vehicleID, submitterID, field, normalized, kind, "", 0, profile, model.EvidenceAccepted)
	}

	if err := e.gate.VerifyTarget(ctx, vehicleID); err != nil {
		return nil, err
	}
	return e.appendScored(ctx, vehicleID, submitterID, field, value, kind, "", 0, profile, model.EvidenceAccepted)
}

// VerifyTransfer accepts the pending owner evidence behind a transfer and
// marks the transfer verified.
func (e *Engine) VerifyTransfer(ctx context.Context, transferID string) (*model.OwnershipTransfer, error) {
	transfer, err := e.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, eris.Wrapf(err, "recon: load transfer %s", transferID)
	}
	if transfer.Verified {
		return nil, eris.Errorf("recon: transfer already verified: %s", transferID)
	}

	if err := e.store.TransitionEvidence(ctx, transfer.EvidenceID, model.EvidenceAccepted); err != nil {
		return nil, eris.Wrapf(err, "recon: accept owner evidence %s", transfer.EvidenceID)
	}
	if err := e.store.MarkTransferVerified(ctx, transferID); err != nil {
		return nil, eris.Wrapf(err, "recon: mark transfer verified %s", transferID)
	}

	transfer.Verified = true
	return transfer, nil
}

// appendScored computes the entry's confidence and appends it to the ledger.
func (e *Engine) appendScored(ctx context.Context, vehicleID, submitterID, field, value string, kind model.SourceKind, sourceURL string, prior float64, profile SubmitterProfile, status model.EvidenceStatus) (*model.EvidenceEntry, error) {
	corroboration, err := e.store.CountCorroborating(ctx, vehicleID, field, value)
	if err != nil {
		return nil, eris.Wrapf(err, "recon: corroboration for %s/%s", vehicleID, field)
	}

	confidence := e.weights.Score(score.Input{
		SourceKind:         kind,
		SourcePrior:        prior,
		OrgAffiliated:      profile.OrgAffiliated,
		VerifiedTier:       profile.VerifiedTier,
		HistoricalAccuracy: profile.HistoricalAccuracy,
		Corroboration:      corroboration,
	})

	entry := &model.EvidenceEntry{
		EntityID:    vehicleID,
		Field:       field,
		Value:       value,
		SourceKind:  kind,
		SourceURL:   sourceURL,
		SubmitterID: submitterID,
		Confidence:  confidence,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.AppendEvidence(ctx, entry); err != nil {
		return nil, eris.Wrapf(err, "recon: append %s/%s", vehicleID, field)
	}
	return entry, nil
}

func (e *Engine) profile(ctx context.Context, submitterID string) SubmitterProfile {
	if e.profiles == nil {
		return SubmitterProfile{}
	}
	return e.profiles(ctx, submitterID)
}
