// Package main runs ingestion without the query API.
//
// Modes:
//   - live: scheduler, catalog and FX refreshers until interrupted
//   - backfill: refresh the listed assets once, honouring the request interval
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"portfolio-tracker/internal/app"
	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/ingestion"
	"portfolio-tracker/internal/observability"
)

func main() {
	envErr := app.LoadEnvFile(".env")

	// Parse flags
	mode := flag.String("mode", "live", "Ingestion mode: live or backfill")
	assets := flag.String("asset", "", "Comma-separated asset IDs to backfill")
	refreshCatalog := flag.Bool("refresh-catalog", true, "Refresh the catalog before a backfill")

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	priceStore := flag.String("price-store", app.Env("PRICE_STORE", app.PriceStorePostgres), "Price store backend: postgres or clickhouse")
	useMemory := flag.Bool("use-memory", app.EnvBool("USE_MEMORY", false), "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", app.EnvBool("MIGRATE", true), "Apply embedded migrations on startup")

	tickerURL := flag.String("ticker-url", app.Env("TICKER_URL", app.DefaultTickerURL), "Ticker snapshot endpoint")
	historyURL := flag.String("history-url", app.Env("HISTORY_URL", app.DefaultHistoryURL), "Price history URL template ({id}, {from}, {to} in ms)")
	fxURL := flag.String("fx-url", app.Env("FX_URL", app.DefaultFXURL), "USD exchange rate endpoint")
	currency := flag.String("fx-currency", app.Env("FX_CURRENCY", app.DefaultCurrency), "Currency valuations are quoted in")
	feedTimeout := flag.Duration("feed-timeout", app.EnvDuration("FEED_TIMEOUT", ingestion.DefaultFetchTimeout), "Timeout of one upstream request")
	feedRetries := flag.Int("feed-retries", app.EnvInt("FEED_RETRIES", 0), "Retries of transient upstream failures within one request")

	requestInterval := flag.Duration("request-interval", app.EnvDuration("REQUEST_INTERVAL", ingestion.DefaultRequestInterval), "Minimum gap between price history requests")
	penaltyStep := flag.Duration("penalty-step", app.EnvDuration("PENALTY_STEP", ingestion.DefaultPenaltyStep), "Staleness added per failed refresh")
	catalogInterval := flag.Duration("catalog-interval", app.EnvDuration("CATALOG_INTERVAL", ingestion.DefaultCatalogInterval), "Catalog refresh interval")
	fxInterval := flag.Duration("fx-interval", app.EnvDuration("FX_INTERVAL", ingestion.DefaultFXInterval), "FX rate refresh interval")

	metricsAddr := flag.String("metrics-addr", app.Env("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address (empty to disable)")
	logLevel := flag.String("log-level", app.Env("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	logPretty := flag.Bool("log-pretty", app.EnvBool("LOG_PRETTY", false), "Human-readable console logs")

	flag.Parse()

	// Setup logger
	logger := observability.NewLogger(*logLevel, *logPretty)
	logger = logger.With().Str("service", "ingest").Logger()
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("Failed to load .env")
	}

	if *mode != "live" && *mode != "backfill" {
		logger.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}
	backfillIDs := splitList(*assets)
	if *mode == "backfill" && len(backfillIDs) == 0 {
		logger.Fatal().Msg("--asset is required in backfill mode")
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()

		sig = <-sigCh
		logger.Warn().Str("signal", sig.String()).Msg("Second signal, forcing immediate shutdown")
		os.Exit(1)
	}()

	stores, err := app.OpenStores(ctx, app.StoreConfig{
		UseMemory:     *useMemory,
		PostgresDSN:   *postgresDSN,
		ClickhouseDSN: *clickhouseDSN,
		PriceStore:    *priceStore,
		Migrate:       *migrate,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create stores")
	}
	defer stores.Close()

	cat := catalog.New(strings.ToUpper(*currency))
	app.WarmStart(ctx, cat, stores, logger)

	in := app.NewIngestion(app.IngestionConfig{
		Feed: app.FeedConfig{
			TickerURL:  *tickerURL,
			HistoryURL: *historyURL,
			FXURL:      *fxURL,
			Currency:   *currency,
			Timeout:    *feedTimeout,
			MaxRetries: *feedRetries,
		},
		RequestInterval: *requestInterval,
		PenaltyStep:     *penaltyStep,
		CatalogInterval: *catalogInterval,
		FXInterval:      *fxInterval,
	}, stores, cat, &logger)

	if *metricsAddr != "" {
		startMetricsServer(*metricsAddr, logger)
	}

	switch *mode {
	case "live":
		err = in.Runner.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("Ingestion failed")
		}
	case "backfill":
		if err := runBackfill(ctx, in, backfillIDs, *refreshCatalog, logger); err != nil {
			logger.Fatal().Err(err).Msg("Backfill failed")
		}
	}

	logger.Info().Msg("Ingestion stopped")
}

// runBackfill refreshes each asset once. Upstream failures are logged and the
// remaining assets still run; storage failures abort.
func runBackfill(ctx context.Context, in *app.Ingestion, assetIDs []string, refreshCatalog bool, logger zerolog.Logger) error {
	if refreshCatalog {
		if _, err := in.Catalog.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("Catalog refresh failed, using stored assets")
		}
	}

	var failed int
	for _, id := range assetIDs {
		res, err := in.Scheduler.RefreshAsset(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ingestion.ErrAssetNotFound) || domain.KindOf(err).Upstream() {
				logger.Warn().Err(err).Str("asset_id", id).Msg("Backfill failed for asset")
				failed++
				continue
			}
			return err
		}
		logger.Info().
			Str("asset_id", res.AssetID).
			Int64("window_from", res.From).
			Int64("window_to", res.To).
			Int("fetched", res.Fetched).
			Int("inserted", res.Inserted).
			Msg("Asset backfilled")
	}

	if failed > 0 {
		return errors.New("some assets could not be backfilled")
	}
	return nil
}

func startMetricsServer(addr string, logger zerolog.Logger) {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
