package domain

// Asset represents a tracked asset and its latest catalog metadata.
// Corresponds to assets table in PostgreSQL.
type Asset struct {
	ID              string   `json:"id"`               // stable upstream key, e.g. "bitcoin"
	Name            string   `json:"name"`             // display name
	Symbol          string   `json:"symbol"`           // ticker symbol
	Rank            int      `json:"rank"`             // market cap rank
	AvailableSupply float64  `json:"available_supply"` // circulating supply
	TotalSupply     float64  `json:"total_supply"`     // total supply
	MaxSupply       *float64 `json:"max_supply"`       // max supply (nullable)
	PriceUSD        float64  `json:"price_usd"`        // last known price in USD
	PriceBTC        float64  `json:"price_btc"`        // last known price in BTC
	PriceAlt        *float64 `json:"price_alt"`        // last known price in the configured alternate currency (nullable)
	Volume24hUSD    float64  `json:"volume_24h_usd"`   // 24h volume in USD
	MarketCapUSD    float64  `json:"market_cap_usd"`   // market cap in USD
	MetadataUpdated int64    `json:"metadata_updated"` // upstream ticker timestamp (unix seconds)
	LastUpdated     int64    `json:"last_updated"`     // price history refreshed up to this time (unix seconds)
	PriorityScore   int      `json:"priority_score"`   // refresh priority, decremented on failed refreshes
}

// RefreshState is the scheduler bookkeeping for one asset.
type RefreshState struct {
	AssetID       string
	LastUpdated   int64 // unix seconds; 0 when history was never fetched
	PriorityScore int
}

// RefreshState returns the scheduler bookkeeping of the asset.
func (a *Asset) RefreshState() RefreshState {
	return RefreshState{
		AssetID:       a.ID,
		LastUpdated:   a.LastUpdated,
		PriorityScore: a.PriorityScore,
	}
}
