package domain

// ValuationPoint is one point of a derived portfolio value series.
type ValuationPoint struct {
	Timestamp int64   `json:"timestamp"` // bucket start, unix seconds
	Value     float64 `json:"value"`     // value in the snapshot's FX currency
}
