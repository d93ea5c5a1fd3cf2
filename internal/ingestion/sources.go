package ingestion

import (
	"context"

	"portfolio-tracker/internal/domain"
)

// TickerSource provides the full asset catalog from an external feed.
type TickerSource interface {
	// FetchTickerSnapshot returns metadata for every listed asset.
	FetchTickerSnapshot(ctx context.Context) ([]domain.Asset, error)
}

// HistorySource provides per-asset price history from an external feed.
type HistorySource interface {
	// FetchPriceHistory returns samples of assetID between from and to (unix seconds).
	// Samples may include garbage and timestamps outside the window; Scheduler filters them.
	FetchPriceHistory(ctx context.Context, assetID string, from, to int64) ([]domain.PricePoint, error)
}

// FXSource provides the USD to target currency rate.
type FXSource interface {
	// FetchRate returns the current rate. Callers reject non-finite or non-positive values.
	FetchRate(ctx context.Context) (float64, error)
}
