package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"portfolio-tracker/internal/storage"
	chstore "portfolio-tracker/internal/storage/clickhouse"
	"portfolio-tracker/internal/storage/memory"
	"portfolio-tracker/internal/storage/migrations"
	pgstore "portfolio-tracker/internal/storage/postgres"
)

// Price store backends.
const (
	PriceStorePostgres   = "postgres"
	PriceStoreClickhouse = "clickhouse"
)

// StoreConfig selects and configures the storage backends.
type StoreConfig struct {
	UseMemory     bool
	PostgresDSN   string
	ClickhouseDSN string
	PriceStore    string // Default: "postgres"
	Migrate       bool   // apply embedded migrations on startup
}

// Stores holds all storage implementations.
type Stores struct {
	Assets   storage.AssetStore
	Prices   storage.PriceStore
	Holdings storage.HoldingStore
	Cache    storage.CacheStore

	closers []func()
}

// Close releases all connections.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Validate checks that the configuration names a usable backend.
func (c StoreConfig) Validate() error {
	if c.UseMemory {
		return nil
	}
	if c.PostgresDSN == "" {
		return errors.New("postgres DSN is required (use in-memory storage otherwise)")
	}
	switch c.priceStore() {
	case PriceStorePostgres:
	case PriceStoreClickhouse:
		if c.ClickhouseDSN == "" {
			return errors.New("clickhouse DSN is required for the clickhouse price store")
		}
	default:
		return fmt.Errorf("unknown price store %q", c.PriceStore)
	}
	return nil
}

func (c StoreConfig) priceStore() string {
	if c.PriceStore == "" {
		return PriceStorePostgres
	}
	return c.PriceStore
}

// OpenStores creates the configured stores. Metadata, holdings and the cache
// always live in PostgreSQL; prices go to PostgreSQL or ClickHouse.
func OpenStores(ctx context.Context, cfg StoreConfig, logger zerolog.Logger) (*Stores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.UseMemory {
		logger.Info().Msg("Using in-memory storage")
		return &Stores{
			Assets:   memory.NewAssetStore(),
			Prices:   memory.NewPriceStore(),
			Holdings: memory.NewHoldingStore(),
			Cache:    memory.NewCacheStore(),
		}, nil
	}

	stores := &Stores{}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	stores.closers = append(stores.closers, pool.Close)

	if cfg.Migrate {
		if err := migrations.ApplyPostgres(ctx, pool); err != nil {
			stores.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info().Msg("PostgreSQL migrations applied")
	}

	stores.Assets = pgstore.NewAssetStore(pool)
	stores.Holdings = pgstore.NewHoldingStore(pool)
	stores.Cache = pgstore.NewCacheStore(pool)

	if cfg.priceStore() == PriceStoreClickhouse {
		conn, err := openClickhouse(ctx, cfg.ClickhouseDSN, cfg.Migrate)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		stores.closers = append(stores.closers, func() { _ = conn.Close() })
		stores.Prices = chstore.NewPriceStore(conn)
	} else {
		stores.Prices = pgstore.NewPriceStore(pool)
	}

	logger.Info().Str("price_store", cfg.priceStore()).Msg("Connected to storage")
	return stores, nil
}

// openClickhouse connects to the DSN's database. With migrate it first creates
// the database through a server-default connection and applies the schema.
func openClickhouse(ctx context.Context, dsn string, migrate bool) (*chstore.Conn, error) {
	if !migrate {
		return chstore.NewConn(ctx, dsn)
	}

	dbName, err := migrations.DatabaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, err
	}
	err = migrations.CreateClickhouseDatabase(ctx, admin, dbName)
	_ = admin.Close()
	if err != nil {
		return nil, err
	}

	conn, err := chstore.NewConn(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := migrations.ApplyClickhouse(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	return conn, nil
}
