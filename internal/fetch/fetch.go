// Package fetch retrieves and parses marketplace listing pages into
// structured candidate records. It supplies data to the reconciliation gate
// and never decides acceptance itself.
package fetch

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sss97133/nuke-recon/internal/extract"
	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/resilience"
)

// ErrFetchFailed wraps every terminal fetch error so callers can surface
// failure instead of fabricating partial data.
var ErrFetchFailed = eris.New("listing fetch failed")

const maxBodyBytes = 4 << 20

// Fetcher retrieves a listing page by URL. The HTTP implementation is
// replaced by a mock in orchestrator tests.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*model.ScrapedListing, error)
}

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	// PerDomainRate spaces requests to the same marketplace.
	PerDomainRate rate.Limit
	Burst         int
}

// DefaultOptions returns fetcher settings suitable for polite scraping.
func DefaultOptions() Options {
	return Options{
		UserAgent:     "nuke-recon/1.0",
		Timeout:       20 * time.Second,
		MaxAttempts:   3,
		PerDomainRate: rate.Every(2 * time.Second),
		Burst:         1,
	}
}

// HTTPFetcher fetches listing pages over HTTP with per-domain rate limiting
// and bounded retries on transient failures.
type HTTPFetcher struct {
	client    *http.Client
	opts      Options
	extractor *extract.Extractor

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTP creates an HTTPFetcher. The extractor supplies the marketplace
// allow-list and per-domain base confidence.
func NewHTTP(opts Options, ex *extract.Extractor) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.PerDomainRate <= 0 {
		opts.PerDomainRate = DefaultOptions().PerDomainRate
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		opts:      opts,
		extractor: ex,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves rawURL and parses it into a ScrapedListing. The URL must
// belong to an allow-listed marketplace domain. Transient failures (429,
// 5xx, network timeouts) are retried up to MaxAttempts; everything else is
// surfaced immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*model.ScrapedListing, error) {
	domain, baseConf, ok := f.extractor.DomainConfidence(rawURL)
	if !ok {
		return nil, eris.Wrapf(ErrFetchFailed, "domain of %s not on allow-list", rawURL)
	}

	if err := f.limiter(domain).Wait(ctx); err != nil {
		return nil, eris.Wrap(ErrFetchFailed, err.Error())
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = f.opts.MaxAttempts
	retryCfg.OnRetry = resilience.RetryLogger(domain, "fetch listing")

	body, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, rawURL)
	})
	if err != nil {
		return nil, eris.Wrapf(ErrFetchFailed, "%s: %s", rawURL, err.Error())
	}

	listing, err := ParseListing(rawURL, domain, body)
	if err != nil {
		return nil, eris.Wrapf(ErrFetchFailed, "parse %s: %s", rawURL, err.Error())
	}
	listing.BaseConfidence = baseConf

	zap.L().Debug("fetched listing",
		zap.String("url", rawURL),
		zap.String("domain", domain),
		zap.String("identifier", listing.Identifier),
		zap.Int("photos", len(listing.PhotoURLs)),
	)
	return listing, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("fetch: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read body")
	}
	return body, nil
}

func (f *HTTPFetcher) limiter(domain string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[domain]
	if !ok {
		l = rate.NewLimiter(f.opts.PerDomainRate, f.opts.Burst)
		f.limiters[domain] = l
	}
	return l
}
