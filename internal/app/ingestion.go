package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/feed"
	"portfolio-tracker/internal/ingestion"
)

// Default upstream endpoints.
const (
	DefaultTickerURL  = "https://api.coinmarketcap.com/v1/ticker/?limit=0"
	DefaultHistoryURL = "https://graphs2.coinmarketcap.com/currencies/{id}/{from}/{to}/"
	DefaultFXURL      = "https://api.exchangerate-api.com/v4/latest/USD"
	DefaultCurrency   = "CNY"
)

// FeedConfig configures the upstream feed clients.
type FeedConfig struct {
	TickerURL  string
	HistoryURL string
	FXURL      string
	Currency   string
	Timeout    time.Duration
	MaxRetries int
}

// IngestionConfig configures the background loops.
type IngestionConfig struct {
	Feed            FeedConfig
	RequestInterval time.Duration
	PenaltyStep     time.Duration
	CatalogInterval time.Duration
	FXInterval      time.Duration
}

// Ingestion bundles the background loops sharing one catalog.
type Ingestion struct {
	Scheduler *ingestion.Scheduler
	Catalog   *ingestion.CatalogRefresher
	FX        *ingestion.FXRefresher
	Runner    *ingestion.Runner
}

// NewFeeds creates the upstream sources. Empty URLs fall back to the defaults.
func NewFeeds(cfg FeedConfig) (*feed.TickerClient, *feed.HistoryClient, *feed.FXClient) {
	opts := []feed.ClientOption{feed.WithMaxRetries(cfg.MaxRetries)}
	if cfg.Timeout > 0 {
		opts = append(opts, feed.WithTimeout(cfg.Timeout))
	}
	client := feed.NewClient(opts...)
	currency := cfg.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return feed.NewTickerClient(client, orDefault(cfg.TickerURL, DefaultTickerURL), currency),
		feed.NewHistoryClient(client, orDefault(cfg.HistoryURL, DefaultHistoryURL), currency),
		feed.NewFXClient(client, orDefault(cfg.FXURL, DefaultFXURL), currency)
}

// NewIngestion wires the scheduler and refreshers to stores and feeds.
func NewIngestion(cfg IngestionConfig, stores *Stores, cat *catalog.Catalog, logger *zerolog.Logger) *Ingestion {
	ticker, history, fx := NewFeeds(cfg.Feed)

	in := &Ingestion{
		Scheduler: ingestion.NewScheduler(ingestion.SchedulerOptions{
			Assets:          stores.Assets,
			Prices:          stores.Prices,
			History:         history,
			Catalog:         cat,
			RequestInterval: cfg.RequestInterval,
			PenaltyStep:     cfg.PenaltyStep,
			FetchTimeout:    cfg.Feed.Timeout,
			Logger:          logger,
		}),
		Catalog: ingestion.NewCatalogRefresher(ingestion.CatalogRefresherOptions{
			Ticker:   ticker,
			Assets:   stores.Assets,
			Catalog:  cat,
			Cache:    stores.Cache,
			Interval: cfg.CatalogInterval,
			Timeout:  cfg.Feed.Timeout,
			Logger:   logger,
		}),
		FX: ingestion.NewFXRefresher(ingestion.FXRefresherOptions{
			Source:   fx,
			Catalog:  cat,
			Cache:    stores.Cache,
			Currency: fx.Currency(),
			Interval: cfg.FXInterval,
			Timeout:  cfg.Feed.Timeout,
			Logger:   logger,
		}),
	}
	in.Runner = ingestion.NewRunner(ingestion.RunnerOptions{
		Scheduler:        in.Scheduler,
		CatalogRefresher: in.Catalog,
		FXRefresher:      in.FX,
		Logger:           logger,
	})
	return in
}

// WarmStart restores the cached catalog so queries have prices and a rate
// before the first refresh completes.
func WarmStart(ctx context.Context, cat *catalog.Catalog, stores *Stores, logger zerolog.Logger) {
	loaded, err := cat.Load(ctx, stores.Cache)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Failed to load cached catalog")
	case loaded:
		snap := cat.Snapshot()
		logger.Info().
			Int("assets", len(snap.Assets)).
			Float64("fx_rate", snap.Rate()).
			Str("currency", snap.Currency).
			Msg("Catalog restored from cache")
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
