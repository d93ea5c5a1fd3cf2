package clickhouse

import (
	"context"
	"fmt"
	"time"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// PriceStore implements storage.PriceStore using ClickHouse.
type PriceStore struct {
	conn *Conn
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(conn *Conn) *PriceStore {
	return &PriceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// InsertBulk adds multiple points. MergeTree does not enforce uniqueness, so
// points whose (asset_id, ts) already exist, in the table or earlier in the
// batch, are filtered out before the batch is sent.
func (s *PriceStore) InsertBulk(ctx context.Context, points []*domain.PricePoint) (inserted int, err error) {
	if len(points) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() { observe("insert_prices", start, err) }()

	type key struct {
		assetID string
		ts      int64
	}

	// Per-asset timestamp range of the batch
	type span struct{ min, max int64 }
	spans := make(map[string]*span)
	for _, p := range points {
		sp, ok := spans[p.AssetID]
		if !ok {
			spans[p.AssetID] = &span{min: p.Timestamp, max: p.Timestamp}
			continue
		}
		if p.Timestamp < sp.min {
			sp.min = p.Timestamp
		}
		if p.Timestamp > sp.max {
			sp.max = p.Timestamp
		}
	}

	seen := make(map[key]struct{})
	for assetID, sp := range spans {
		existing, err := s.existingTimestamps(ctx, assetID, sp.min, sp.max)
		if err != nil {
			return 0, fmt.Errorf("check existing: %w", err)
		}
		for _, ts := range existing {
			seen[key{assetID, ts}] = struct{}{}
		}
	}

	var fresh []*domain.PricePoint
	for _, p := range points {
		k := key{p.AssetID, p.Timestamp}
		if _, exists := seen[k]; exists {
			continue
		}
		seen[k] = struct{}{}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_points (
			asset_id, ts, price_usd, volume_usd, price_btc, price_alt
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range fresh {
		err = batch.Append(p.AssetID, p.Timestamp, p.PriceUSD, p.VolumeUSD, p.PriceBTC, p.PriceAlt)
		if err != nil {
			return 0, fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}

	return len(fresh), nil
}

// GetByTimeRange retrieves points for an asset within [start, end] (inclusive).
func (s *PriceStore) GetByTimeRange(ctx context.Context, assetID string, start, end int64) ([]*domain.PricePoint, error) {
	query := `
		SELECT asset_id, ts, price_usd, volume_usd, price_btc, price_alt
		FROM price_points FINAL
		WHERE asset_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, assetID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// BucketAverages returns AVG(price_usd) grouped by floor(ts / bucketSize)
// for points with ts > since, ordered by bucket ASC.
// Stored timestamps are positive, so intDiv matches floor division.
func (s *PriceStore) BucketAverages(ctx context.Context, assetID string, since, bucketSize int64) (_ []domain.BucketPrice, err error) {
	if bucketSize <= 0 {
		return nil, storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("bucket_averages", start, err) }()

	query := `
		SELECT intDiv(ts, ?) AS bucket, avg(price_usd) AS avg_price
		FROM price_points FINAL
		WHERE asset_id = ? AND ts > ?
		GROUP BY bucket
		ORDER BY bucket ASC
	`

	rows, err := s.conn.Query(ctx, query, bucketSize, assetID, since)
	if err != nil {
		return nil, fmt.Errorf("query bucket averages: %w", err)
	}
	defer rows.Close()

	var buckets []domain.BucketPrice
	for rows.Next() {
		var b domain.BucketPrice
		if err := rows.Scan(&b.Bucket, &b.AvgPrice); err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bucket rows: %w", err)
	}

	return buckets, nil
}

// LatestTimestamp returns the newest stored ts for an asset, or 0 if none.
func (s *PriceStore) LatestTimestamp(ctx context.Context, assetID string) (int64, error) {
	var ts int64
	err := s.conn.QueryRow(ctx, `
		SELECT max(ts) FROM price_points WHERE asset_id = ?
	`, assetID).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("query latest timestamp: %w", err)
	}
	return ts, nil
}

// existingTimestamps returns stored timestamps of an asset within [start, end].
func (s *PriceStore) existingTimestamps(ctx context.Context, assetID string, start, end int64) ([]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT ts FROM price_points
		WHERE asset_id = ? AND ts >= ? AND ts <= ?
	`, assetID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// scanPricePoints scans multiple rows.
func scanPricePoints(rows chRows) ([]*domain.PricePoint, error) {
	var points []*domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		err := rows.Scan(&p.AssetID, &p.Timestamp, &p.PriceUSD, &p.VolumeUSD, &p.PriceBTC, &p.PriceAlt)
		if err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}

	return points, nil
}
