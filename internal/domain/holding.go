package domain

import "github.com/google/uuid"

// HoldingEvent records the absolute amount of an asset a user holds from Timestamp on,
// until the next event of the same (UserID, AssetID).
// Corresponds to holding_events table in PostgreSQL.
type HoldingEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	UserID    string    `json:"user_id"`
	AssetID   string    `json:"asset_id"`
	Timestamp int64     `json:"timestamp"`  // unix seconds
	Amount    float64   `json:"amount"`     // absolute amount, not a delta
	CreatedAt int64     `json:"created_at"` // record creation timestamp (unix seconds)
}

// HoldingValue is the current amount and value of one held asset.
// Value is nil when the asset is missing from the catalog.
type HoldingValue struct {
	AssetID  string   `json:"asset_id"`
	Symbol   string   `json:"symbol"`
	Amount   float64  `json:"amount"`
	PriceUSD *float64 `json:"price_usd"`
	Value    *float64 `json:"value"` // in the snapshot currency
}
