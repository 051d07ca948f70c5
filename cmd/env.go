package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sss97133/nuke-recon/internal/extract"
	"github.com/sss97133/nuke-recon/internal/fetch"
	"github.com/sss97133/nuke-recon/internal/imagecheck"
	"github.com/sss97133/nuke-recon/internal/ledger"
	"github.com/sss97133/nuke-recon/internal/monitoring"
	"github.com/sss97133/nuke-recon/internal/provenance"
	"github.com/sss97133/nuke-recon/internal/recon"
	"github.com/sss97133/nuke-recon/internal/score"
	"github.com/sss97133/nuke-recon/pkg/vision"
)

// engineEnv holds the initialized store and engine shared by the commands.
type engineEnv struct {
	Store     ledger.Store
	Engine    *recon.Engine
	Images    *imagecheck.Pipeline // nil when vision is not configured
	Resolver  *provenance.Resolver
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (ee *engineEnv) Close() {
	if ee.Store != nil {
		_ = ee.Store.Close()
	}
}

// initStore opens the configured ledger backend.
func initStore(ctx context.Context) (ledger.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return ledger.NewSQLite(cfg.Store.SQLitePath)
	}
}

// initEngine sets up the store, fetcher, scorer, and image pipeline, and
// builds the reconciliation engine. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var domains map[string]float64
	if len(cfg.Extract.Domains) > 0 {
		domains = cfg.Extract.Domains
	}
	extractor := extract.New(domains)

	fetcher := fetch.NewHTTP(fetch.Options{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxAttempts:   cfg.Fetch.MaxAttempts,
		PerDomainRate: rate.Every(time.Duration(cfg.Fetch.DomainDelaySecs) * time.Second),
		Burst:         1,
	}, extractor)

	weights := score.DefaultWeights()
	if cfg.Score.WeightsFile != "" {
		weights, err = score.LoadWeights(cfg.Score.WeightsFile)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("scoring weights loaded", zap.String("file", cfg.Score.WeightsFile))
	}

	var images *imagecheck.Pipeline
	if cfg.Vision.Key != "" {
		matcher := vision.NewAnthropicMatcher(cfg.Vision.Key, cfg.Vision.Model)
		images = imagecheck.New(st, matcher, imagecheck.Options{
			MinInterval: time.Duration(cfg.Images.MinIntervalSecs) * time.Second,
			CallTimeout: time.Duration(cfg.Images.CallTimeoutSecs) * time.Second,
			MaxRetries:  cfg.Images.MaxRetries,
			RetryDelay:  time.Duration(cfg.Images.RetryDelayMins) * time.Minute,
		})
	} else {
		zap.L().Warn("RECON_VISION_KEY not set, image validation disabled")
	}

	decay := score.DecayConfig{HalfLifeDays: cfg.Score.HalfLifeDays, Floor: cfg.Score.DecayFloor}

	return &engineEnv{
		Store:     st,
		Engine:    recon.New(st, extractor, fetcher, weights, images, nil),
		Images:    images,
		Resolver:  provenance.NewResolver(st, decay),
		Collector: monitoring.NewCollector(st),
	}, nil
}
