// Package imagecheck drives the per-claim image validation state machine:
// unvalidated claims are dispatched to the match service, spaced by a
// minimum inter-call delay, and moved to confirmed, mismatched,
// pending-retry, or failed. Failed images stay attached to the vehicle,
// flagged but never deleted.
package imagecheck

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sss97133/nuke-recon/internal/ledger"
	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/resilience"
	"github.com/sss97133/nuke-recon/pkg/vision"
)

// Options controls pacing and retry bounds for the pipeline.
type Options struct {
	// MinInterval is the minimum spacing between match calls. Zero or
	// negative disables pacing.
	MinInterval time.Duration

	// CallTimeout bounds each individual match call.
	CallTimeout time.Duration

	// MaxRetries is the number of failed attempts before a claim is marked
	// failed.
	MaxRetries int

	// RetryDelay is the base delay before a pending-retry claim becomes due
	// again; it doubles with each further failure.
	RetryDelay time.Duration
}

// DefaultOptions returns production pacing values.
func DefaultOptions() Options {
	return Options{
		MinInterval: 2 * time.Second,
		CallTimeout: 30 * time.Second,
		MaxRetries:  3,
		RetryDelay:  5 * time.Minute,
	}
}

// Pipeline validates image claims against the vehicle they were submitted
// for.
type Pipeline struct {
	store   ledger.Store
	matcher vision.Matcher
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	opts    Options

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

func New(store ledger.Store, matcher vision.Matcher, opts Options) *Pipeline {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Minute
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	return &Pipeline{
		store:   store,
		matcher: matcher,
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		opts:    opts,
		nowFunc: time.Now,
	}
}

// Enqueue records one claim per photo URL for later validation.
func (p *Pipeline) Enqueue(ctx context.Context, vehicleID, submitterID string, urls []string) ([]model.ImageClaim, error) {
	claims := make([]model.ImageClaim, 0, len(urls))
	for _, u := range urls {
		c := model.ImageClaim{
			VehicleID:   vehicleID,
			URL:         u,
			SubmitterID: submitterID,
		}
		if err := p.store.CreateImageClaim(ctx, &c); err != nil {
			return claims, eris.Wrapf(err, "imagecheck: enqueue %s", u)
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// ProcessDue checks every claim that is currently due and returns how many
// were processed. Per-claim failures are absorbed into the claim's state,
// not returned.
func (p *Pipeline) ProcessDue(ctx context.Context, limit int) (int, error) {
	due, err := p.store.DueImageClaims(ctx, p.nowFunc(), limit)
	if err != nil {
		return 0, eris.Wrap(err, "imagecheck: list due claims")
	}

	for i := range due {
		if err := p.processClaim(ctx, &due[i]); err != nil {
			return i, err
		}
	}
	return len(due), nil
}

// Run polls for due claims until the context is canceled.
func (p *Pipeline) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := p.ProcessDue(ctx, 50)
			if err != nil {
				zap.L().Warn("image claim sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Debug("image claim sweep", zap.Int("processed", n))
			}
		}
	}
}

func (p *Pipeline) processClaim(ctx context.Context, c *model.ImageClaim) error {
	v, err := p.store.GetVehicle(ctx, c.VehicleID)
	if err != nil {
		return eris.Wrapf(err, "imagecheck: load vehicle for claim %s", c.ID)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "imagecheck: limiter wait")
	}

	result, err := p.check(ctx, c.URL, v.Descriptor())
	if err != nil {
		return p.scheduleRetry(ctx, c, err)
	}

	c.MatchConfidence = result.Confidence
	if result.Matches {
		c.Status = model.ImageConfirmed
	} else {
		c.Status = model.ImageMismatched
	}
	c.RetryAfter = nil

	zap.L().Info("image claim resolved",
		zap.String("claim_id", c.ID),
		zap.String("vehicle_id", c.VehicleID),
		zap.String("status", string(c.Status)),
		zap.Float64("confidence", result.Confidence),
	)
	return eris.Wrapf(p.store.UpdateImageClaim(ctx, c), "imagecheck: update claim %s", c.ID)
}

func (p *Pipeline) check(ctx context.Context, imageURL, descriptor string) (vision.MatchResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	return resilience.ExecuteVal(callCtx, p.breaker, func(ctx context.Context) (vision.MatchResult, error) {
		return p.matcher.CheckMatch(ctx, imageURL, descriptor)
	})
}

// scheduleRetry moves a claim to pending-retry with a backed-off retry time,
// or to failed once the retry budget is spent.
func (p *Pipeline) scheduleRetry(ctx context.Context, c *model.ImageClaim, cause error) error {
	c.RetryCount++

	if c.RetryCount >= p.opts.MaxRetries {
		c.Status = model.ImageFailed
		c.RetryAfter = nil
		zap.L().Warn("image claim failed, retry budget spent",
			zap.String("claim_id", c.ID),
			zap.String("url", c.URL),
			zap.Int("attempts", c.RetryCount),
			zap.Error(cause),
		)
	} else {
		delay := p.opts.RetryDelay << (c.RetryCount - 1)
		at := p.nowFunc().Add(delay)
		c.Status = model.ImagePendingRetry
		c.RetryAfter = &at

		zap.L().Info("image claim deferred",
			zap.String("claim_id", c.ID),
			zap.Int("attempt", c.RetryCount),
			zap.Time("retry_after", at),
			zap.Error(cause),
		)
	}

	return eris.Wrapf(p.store.UpdateImageClaim(ctx, c), "imagecheck: update claim %s", c.ID)
}
