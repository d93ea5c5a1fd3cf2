package domain

// DefaultCurrency is the quote currency used before any FX rate is known.
const DefaultCurrency = "USD"

// Snapshot is an immutable view of the asset catalog and the FX rate.
// A published snapshot is never modified; refreshers build and publish a new one.
type Snapshot struct {
	Version     uint64            `json:"version"`
	FetchedAt   int64             `json:"fetched_at"` // catalog fetch time (unix seconds)
	Assets      map[string]*Asset `json:"assets"`
	Currency    string            `json:"currency"`      // FX target currency
	FXRate      float64           `json:"fx_rate"`       // USD -> Currency
	FXUpdatedAt int64             `json:"fx_updated_at"` // unix seconds
}

// EmptySnapshot returns a snapshot with no assets and a 1:1 USD rate.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Assets:   make(map[string]*Asset),
		Currency: DefaultCurrency,
		FXRate:   1,
	}
}

// Asset returns the asset with the given ID.
func (s *Snapshot) Asset(id string) (*Asset, bool) {
	if s == nil {
		return nil, false
	}
	a, ok := s.Assets[id]
	return a, ok
}

// Rate returns the FX rate, falling back to 1 when none is set.
func (s *Snapshot) Rate() float64 {
	if s == nil || s.FXRate <= 0 {
		return 1
	}
	return s.FXRate
}
