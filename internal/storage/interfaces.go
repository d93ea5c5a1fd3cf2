package storage

import (
	"context"

	"github.com/google/uuid"

	"portfolio-tracker/internal/domain"
)

// AssetStore provides access to assets storage.
type AssetStore interface {
	// UpsertBulk inserts or updates catalog metadata atomically.
	// Existing rows keep their last_updated and priority_score.
	UpsertBulk(ctx context.Context, assets []*domain.Asset) error

	// GetByID retrieves an asset by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, assetID string) (*domain.Asset, error)

	// GetAll retrieves all assets, ordered by rank ASC.
	GetAll(ctx context.Context) ([]*domain.Asset, error)

	// GetRefreshStates retrieves scheduler bookkeeping for all assets.
	GetRefreshStates(ctx context.Context) ([]domain.RefreshState, error)

	// MarkRefreshed sets last_updated and resets priority_score to 0.
	// Returns ErrNotFound if the asset does not exist.
	MarkRefreshed(ctx context.Context, assetID string, lastUpdated int64) error

	// DecrementPriority lowers priority_score by one and returns the new score.
	// Returns ErrNotFound if the asset does not exist.
	DecrementPriority(ctx context.Context, assetID string) (int, error)
}

// PriceStore provides access to price history storage.
type PriceStore interface {
	// InsertBulk adds multiple points. Points whose (asset_id, timestamp) already
	// exist are skipped. Returns the number of points actually inserted.
	InsertBulk(ctx context.Context, points []*domain.PricePoint) (int, error)

	// GetByTimeRange retrieves points for an asset within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, assetID string, start, end int64) ([]*domain.PricePoint, error)

	// BucketAverages returns AVG(price_usd) grouped by floor(timestamp / bucketSize)
	// for points with timestamp > since, ordered by bucket ASC.
	BucketAverages(ctx context.Context, assetID string, since, bucketSize int64) ([]domain.BucketPrice, error)

	// LatestTimestamp returns the newest stored timestamp for an asset, or 0 if none.
	LatestTimestamp(ctx context.Context, assetID string) (int64, error)
}

// HoldingStore provides access to holding_events storage.
type HoldingStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.HoldingEvent) error

	// Update replaces timestamp and amount of an event owned by e.UserID.
	// Returns ErrNotFound if the user has no such event.
	Update(ctx context.Context, e *domain.HoldingEvent) error

	// Delete removes an event owned by userID. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, userID string, eventID uuid.UUID) error

	// GetByID retrieves an event owned by userID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, userID string, eventID uuid.UUID) (*domain.HoldingEvent, error)

	// GetByUser retrieves all events of a user, ordered by (asset_id, timestamp, event_id).
	GetByUser(ctx context.Context, userID string) ([]*domain.HoldingEvent, error)

	// GetByUserAsset retrieves events of a user for one asset, ordered by (timestamp, event_id).
	GetByUserAsset(ctx context.Context, userID, assetID string) ([]*domain.HoldingEvent, error)
}

// CacheStore persists small opaque blobs used to warm-start in-memory state.
type CacheStore interface {
	// Get returns the value stored under key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
}
