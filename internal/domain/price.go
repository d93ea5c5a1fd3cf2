package domain

import "math"

// PricePoint is one upstream price sample for an asset.
// Corresponds to prices table in PostgreSQL and price_points table in ClickHouse.
type PricePoint struct {
	AssetID   string   // FK to assets
	Timestamp int64    // unix seconds, aligned to the upstream granularity
	PriceUSD  float64  // price in USD
	VolumeUSD float64  // volume in USD, 0 when upstream omitted it
	PriceBTC  float64  // price in BTC, 0 when upstream omitted it
	PriceAlt  *float64 // price in the alternate currency (nullable)
}

// IsValid reports whether the sample can be stored.
// Zero, negative and non-finite prices are rejected.
func (p *PricePoint) IsValid() bool {
	if p == nil || p.AssetID == "" || p.Timestamp <= 0 {
		return false
	}
	return p.PriceUSD > 0 && !math.IsInf(p.PriceUSD, 0) && !math.IsNaN(p.PriceUSD)
}

// BucketPrice is the average USD price of one time bucket.
type BucketPrice struct {
	Bucket   int64   // floor(timestamp / bucket_size)
	AvgPrice float64 // AVG(price_usd) within the bucket
}
