package ingestion

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"

	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/observability"
	"portfolio-tracker/internal/storage"
)

// Default refresh intervals.
const (
	DefaultCatalogInterval = 5 * time.Minute
	DefaultFXInterval      = 24 * time.Hour
)

// CatalogRefresher periodically replaces the catalog with a fresh ticker snapshot.
type CatalogRefresher struct {
	ticker   TickerSource
	assets   storage.AssetStore
	catalog  *catalog.Catalog
	cache    storage.CacheStore
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// CatalogRefresherOptions contains configuration for creating a CatalogRefresher.
type CatalogRefresherOptions struct {
	Ticker   TickerSource
	Assets   storage.AssetStore
	Catalog  *catalog.Catalog
	Cache    storage.CacheStore // optional; receives the published snapshot
	Interval time.Duration      // Default: 5m
	Timeout  time.Duration      // Default: 15s
	Now      func() time.Time
	Logger   *zerolog.Logger
}

// NewCatalogRefresher creates a new CatalogRefresher.
func NewCatalogRefresher(opts CatalogRefresherOptions) *CatalogRefresher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultCatalogInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &CatalogRefresher{
		ticker:   opts.Ticker,
		assets:   opts.Assets,
		catalog:  opts.Catalog,
		cache:    opts.Cache,
		interval: interval,
		timeout:  timeout,
		now:      now,
		logger:   componentLogger(opts.Logger, "catalog_refresher"),
	}
}

// Refresh fetches the ticker snapshot, upserts all assets in one transaction and
// publishes a new catalog snapshot. On failure the previous snapshot stays.
func (r *CatalogRefresher) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	assets, err := r.ticker.FetchTickerSnapshot(fetchCtx)
	cancel()
	if err != nil {
		observability.RecordCatalogRefresh("catalog", "error")
		return nil, upstreamTagged(err, "fetch ticker")
	}

	rows := make([]*domain.Asset, len(assets))
	for i := range assets {
		rows[i] = &assets[i]
	}
	if err := r.assets.UpsertBulk(ctx, rows); err != nil {
		observability.RecordCatalogRefresh("catalog", "error")
		return nil, storage.Wrap("upsert assets", err)
	}

	snap := r.catalog.ReplaceAssets(assets, r.now().Unix())
	observability.RecordCatalogRefresh("catalog", "success")
	observability.UpdateCatalog(len(snap.Assets), snap.Version)

	if r.cache != nil {
		if err := r.catalog.Save(ctx, r.cache); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to persist catalog snapshot")
		}
	}

	r.logger.Info().
		Int("assets", len(snap.Assets)).
		Uint64("version", snap.Version).
		Msg("Catalog refreshed")
	return snap, nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (r *CatalogRefresher) Run(ctx context.Context) error {
	return runPeriodic(ctx, r.interval, r.logger, func(ctx context.Context) error {
		_, err := r.Refresh(ctx)
		return err
	})
}

// FXRefresher periodically updates the catalog's FX rate.
type FXRefresher struct {
	source   FXSource
	catalog  *catalog.Catalog
	cache    storage.CacheStore
	currency string
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// FXRefresherOptions contains configuration for creating an FXRefresher.
type FXRefresherOptions struct {
	Source   FXSource
	Catalog  *catalog.Catalog
	Cache    storage.CacheStore // optional
	Currency string             // target currency, e.g. "CNY"
	Interval time.Duration      // Default: 24h
	Timeout  time.Duration      // Default: 15s
	Now      func() time.Time
	Logger   *zerolog.Logger
}

// NewFXRefresher creates a new FXRefresher.
func NewFXRefresher(opts FXRefresherOptions) *FXRefresher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultFXInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	currency := opts.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	return &FXRefresher{
		source:   opts.Source,
		catalog:  opts.Catalog,
		cache:    opts.Cache,
		currency: currency,
		interval: interval,
		timeout:  timeout,
		now:      now,
		logger:   componentLogger(opts.Logger, "fx_refresher"),
	}
}

// Refresh fetches the rate and publishes it. Non-finite or non-positive rates
// are rejected and the previous rate stays.
func (r *FXRefresher) Refresh(ctx context.Context) (float64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	rate, err := r.source.FetchRate(fetchCtx)
	cancel()
	if err != nil {
		observability.RecordCatalogRefresh("fx", "error")
		return 0, upstreamTagged(err, "fetch fx")
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		observability.RecordCatalogRefresh("fx", "error")
		return 0, domain.Errorf(domain.KindMalformed, "fetch fx", "invalid rate %v", rate)
	}

	snap := r.catalog.SetRate(r.currency, rate, r.now().Unix())
	observability.RecordCatalogRefresh("fx", "success")
	observability.UpdateFXRate(r.currency, rate)
	observability.UpdateCatalog(len(snap.Assets), snap.Version)

	if r.cache != nil {
		if err := r.catalog.Save(ctx, r.cache); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to persist catalog snapshot")
		}
	}

	r.logger.Info().
		Str("currency", r.currency).
		Float64("rate", rate).
		Msg("FX rate refreshed")
	return rate, nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (r *FXRefresher) Run(ctx context.Context) error {
	return runPeriodic(ctx, r.interval, r.logger, func(ctx context.Context) error {
		_, err := r.Refresh(ctx)
		return err
	})
}

// runPeriodic calls fn now and on every tick. Errors are logged only.
func runPeriodic(ctx context.Context, interval time.Duration, logger zerolog.Logger, fn func(context.Context) error) error {
	logger.Info().Dur("interval", interval).Msg("Refresher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().
				Err(err).
				Str("kind", domain.KindOf(err).String()).
				Msg("Refresh failed")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("Refresher stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// upstreamTagged makes sure a source error carries an upstream kind.
func upstreamTagged(err error, op string) error {
	if domain.KindOf(err).Upstream() {
		return err
	}
	return domain.NewError(domain.KindTransient, op, err)
}

func componentLogger(l *zerolog.Logger, component string) zerolog.Logger {
	if l == nil {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", component).Logger()
	}
	return l.With().Str("component", component).Logger()
}
