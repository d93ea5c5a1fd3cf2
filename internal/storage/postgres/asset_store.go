package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// AssetStore implements storage.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *Pool
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(pool *Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetStore = (*AssetStore)(nil)

const assetColumns = `
	asset_id, name, symbol, rank, available_supply, total_supply, max_supply,
	price_usd, price_btc, price_alt, volume_24h_usd, market_cap_usd,
	metadata_updated, last_updated, priority_score
`

// UpsertBulk inserts or updates catalog metadata in a single transaction.
// The conflict clause leaves last_updated and priority_score untouched.
func (s *AssetStore) UpsertBulk(ctx context.Context, assets []*domain.Asset) (err error) {
	if len(assets) == 0 {
		return nil
	}
	for _, a := range assets {
		if a == nil || a.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observe("upsert_assets", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO assets (
			asset_id, name, symbol, rank, available_supply, total_supply, max_supply,
			price_usd, price_btc, price_alt, volume_24h_usd, market_cap_usd, metadata_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (asset_id) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			rank = EXCLUDED.rank,
			available_supply = EXCLUDED.available_supply,
			total_supply = EXCLUDED.total_supply,
			max_supply = EXCLUDED.max_supply,
			price_usd = EXCLUDED.price_usd,
			price_btc = EXCLUDED.price_btc,
			price_alt = EXCLUDED.price_alt,
			volume_24h_usd = EXCLUDED.volume_24h_usd,
			market_cap_usd = EXCLUDED.market_cap_usd,
			metadata_updated = EXCLUDED.metadata_updated
	`

	batch := &pgx.Batch{}
	for _, a := range assets {
		batch.Queue(query,
			a.ID, a.Name, a.Symbol, a.Rank, a.AvailableSupply, a.TotalSupply, a.MaxSupply,
			a.PriceUSD, a.PriceBTC, a.PriceAlt, a.Volume24hUSD, a.MarketCapUSD, a.MetadataUpdated,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range assets {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert asset: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves an asset by its ID. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(ctx context.Context, assetID string) (*domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE asset_id = $1`

	a, err := scanAsset(s.pool.QueryRow(ctx, query, assetID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset by id: %w", err)
	}
	return a, nil
}

// GetAll retrieves all assets, ordered by rank ASC.
func (s *AssetStore) GetAll(ctx context.Context) ([]*domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets ORDER BY rank ASC, asset_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all assets: %w", err)
	}
	defer rows.Close()

	var assets []*domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetRefreshStates retrieves scheduler bookkeeping for all assets.
func (s *AssetStore) GetRefreshStates(ctx context.Context) ([]domain.RefreshState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, last_updated, priority_score
		FROM assets
		ORDER BY asset_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get refresh states: %w", err)
	}
	defer rows.Close()

	var states []domain.RefreshState
	for rows.Next() {
		var st domain.RefreshState
		if err := rows.Scan(&st.AssetID, &st.LastUpdated, &st.PriorityScore); err != nil {
			return nil, fmt.Errorf("scan refresh state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// MarkRefreshed sets last_updated and resets priority_score to 0.
func (s *AssetStore) MarkRefreshed(ctx context.Context, assetID string, lastUpdated int64) (err error) {
	start := time.Now()
	defer func() { observe("mark_refreshed", start, err) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE assets SET last_updated = $2, priority_score = 0
		WHERE asset_id = $1
	`, assetID, lastUpdated)
	if err != nil {
		return fmt.Errorf("mark refreshed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DecrementPriority lowers priority_score by one and returns the new score.
func (s *AssetStore) DecrementPriority(ctx context.Context, assetID string) (int, error) {
	var score int
	err := s.pool.QueryRow(ctx, `
		UPDATE assets SET priority_score = priority_score - 1
		WHERE asset_id = $1
		RETURNING priority_score
	`, assetID).Scan(&score)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("decrement priority: %w", err)
	}
	return score, nil
}

// scanAsset scans a single row into Asset.
func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var a domain.Asset

	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Symbol,
		&a.Rank,
		&a.AvailableSupply,
		&a.TotalSupply,
		&a.MaxSupply,
		&a.PriceUSD,
		&a.PriceBTC,
		&a.PriceAlt,
		&a.Volume24hUSD,
		&a.MarketCapUSD,
		&a.MetadataUpdated,
		&a.LastUpdated,
		&a.PriorityScore,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}
