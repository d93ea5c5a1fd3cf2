// Package main runs the portfolio tracker service:
// - Ingestion (continuous): price history scheduler, catalog and FX refreshers
// - HTTP API: valuation queries, holdings CRUD, asset catalog, /status and /metrics
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

	"portfolio-tracker/internal/api"
	"portfolio-tracker/internal/app"
	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/holdings"
	"portfolio-tracker/internal/ingestion"
	"portfolio-tracker/internal/observability"
	"portfolio-tracker/internal/valuation"
)

func main() {
	// Load .env file if exists
	envErr := app.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
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
	noIngest := flag.Bool("no-ingest", app.EnvBool("NO_INGEST", false), "Serve queries only; ingestion runs in cmd/ingest")

	points := flag.Int("points", app.EnvInt("VALUATION_POINTS", valuation.DefaultPoints), "Target number of points per valuation series")
	leftPad := flag.Float64("left-pad", app.EnvFloat("VALUATION_LEFT_PAD", valuation.DefaultLeftPadRatio), "Left padding of price queries as a fraction of points")

	httpAddr := flag.String("http-addr", app.Env("HTTP_ADDR", api.DefaultAddr), "HTTP listen address")
	corsOrigins := flag.String("cors-origins", os.Getenv("CORS_ORIGINS"), "Comma-separated allowed CORS origins (default all)")
	logLevel := flag.String("log-level", app.Env("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	logPretty := flag.Bool("log-pretty", app.EnvBool("LOG_PRETTY", false), "Human-readable console logs")

	flag.Parse()

	// Setup logger
	logger := observability.NewLogger(*logLevel, *logPretty)
	logger = logger.With().Str("service", "server").Logger()
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("Failed to load .env")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores
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

	// Shared catalog, restored from the cache before the first refresh
	cat := catalog.New(strings.ToUpper(*currency))
	app.WarmStart(ctx, cat, stores, logger)

	holdingService := holdings.NewService(stores.Holdings)
	engine := valuation.NewEngine(valuation.Options{
		Prices:       stores.Prices,
		Holdings:     holdingService,
		Catalog:      cat,
		Points:       *points,
		LeftPadRatio: *leftPad,
		Logger:       &logger,
	})

	var in *app.Ingestion
	if !*noIngest {
		in = app.NewIngestion(app.IngestionConfig{
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
	}

	apiCfg := api.Config{
		Addr:           *httpAddr,
		AllowedOrigins: splitList(*corsOrigins),
		Logger:         logger,
		Holdings:       holdingService,
		Valuation:      engine,
		Assets:         stores.Assets,
		Catalog:        cat,
	}
	if in != nil {
		apiCfg.Scheduler = in.Scheduler
	}
	server := api.New(apiCfg)

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("Second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	httpErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	ingestDone := make(chan error, 1)
	ingesting := in != nil
	if ingesting {
		go func() {
			ingestDone <- in.Runner.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		logger.Error().Err(err).Msg("HTTP server failed, shutting down")
		cancel()
	case err := <-ingestDone:
		if !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Ingestion failed, shutting down")
		}
		ingesting = false
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}

	if ingesting {
		<-ingestDone
	}

	if err := cat.Save(shutdownCtx, stores.Cache); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist catalog snapshot")
	}

	close(done)
	logger.Info().Msg("Shutdown complete")
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
