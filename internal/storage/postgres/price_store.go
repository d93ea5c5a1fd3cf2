package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// InsertBulk adds multiple points in a single transaction.
// Rows whose (asset_id, ts) already exist are skipped.
func (s *PriceStore) InsertBulk(ctx context.Context, points []*domain.PricePoint) (inserted int, err error) {
	if len(points) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() { observe("insert_prices", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prices (asset_id, ts, price_usd, volume_usd, price_btc, price_alt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id, ts) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(query, p.AssetID, p.Timestamp, p.PriceUSD, p.VolumeUSD, p.PriceBTC, p.PriceAlt)
	}

	br := tx.SendBatch(ctx, batch)
	for range points {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("insert price: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by ts ASC.
func (s *PriceStore) GetByTimeRange(ctx context.Context, assetID string, start, end int64) ([]*domain.PricePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, ts, price_usd, volume_usd, price_btc, price_alt
		FROM prices
		WHERE asset_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
	`, assetID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get prices by time range: %w", err)
	}
	defer rows.Close()

	var points []*domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.AssetID, &p.Timestamp, &p.PriceUSD, &p.VolumeUSD, &p.PriceBTC, &p.PriceAlt); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		points = append(points, &p)
	}
	return points, rows.Err()
}

// BucketAverages returns AVG(price_usd) grouped by floor(ts / bucketSize)
// for points with ts > since, ordered by bucket ASC.
func (s *PriceStore) BucketAverages(ctx context.Context, assetID string, since, bucketSize int64) (_ []domain.BucketPrice, err error) {
	if bucketSize <= 0 {
		return nil, storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("bucket_averages", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT floor(ts::numeric / $3)::BIGINT AS bucket, AVG(price_usd)
		FROM prices
		WHERE asset_id = $1 AND ts > $2
		GROUP BY bucket
		ORDER BY bucket ASC
	`, assetID, since, bucketSize)
	if err != nil {
		return nil, fmt.Errorf("bucket averages: %w", err)
	}
	defer rows.Close()

	var buckets []domain.BucketPrice
	for rows.Next() {
		var b domain.BucketPrice
		if err := rows.Scan(&b.Bucket, &b.AvgPrice); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// LatestTimestamp returns the newest stored ts for an asset, or 0 if none.
func (s *PriceStore) LatestTimestamp(ctx context.Context, assetID string) (int64, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(ts), 0) FROM prices WHERE asset_id = $1
	`, assetID).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("latest price timestamp: %w", err)
	}
	return ts, nil
}
