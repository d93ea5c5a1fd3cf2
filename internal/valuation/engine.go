// Package valuation computes a user's portfolio value over time by aligning
// irregular price samples and holding events onto a common bucket grid.
package valuation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/holdings"
	"portfolio-tracker/internal/observability"
	"portfolio-tracker/internal/storage"
)

// Default engine configuration.
const (
	DefaultPoints       = 100
	DefaultLeftPadRatio = 0.1
)

// TimelineReader provides a user's holding timelines.
type TimelineReader interface {
	Timelines(ctx context.Context, userID, assetID string) ([]*holdings.Timeline, error)
}

// Series is a valuation series quoted in Currency.
type Series struct {
	UserID     string                  `json:"user_id"`
	AssetID    string                  `json:"asset_id,omitempty"`
	Currency   string                  `json:"currency"`
	FXRate     float64                 `json:"fx_rate"`
	Origin     int64                   `json:"origin"`
	End        int64                   `json:"end"`
	BucketSize int64                   `json:"bucket_size"`
	Points     []domain.ValuationPoint `json:"points"`
}

// Balance is the current total value of a user's holdings.
type Balance struct {
	UserID   string   `json:"user_id"`
	Currency string   `json:"currency"`
	Value    float64  `json:"value"`
	Missing  []string `json:"missing,omitempty"` // held assets absent from the catalog
}

// Engine answers valuation queries. It reads holdings, prices and the catalog
// and never calls upstream feeds.
type Engine struct {
	prices   storage.PriceStore
	holdings TimelineReader
	catalog  *catalog.Catalog
	points   int64
	leftPad  int64 // buckets queried before the first holding bucket
	now      func() time.Time
	logger   zerolog.Logger
}

// Options contains configuration for creating an Engine.
type Options struct {
	Prices       storage.PriceStore
	Holdings     TimelineReader
	Catalog      *catalog.Catalog
	Points       int     // Default: 100 - target number of points per series
	LeftPadRatio float64 // Default: 0.1 - left padding as a fraction of Points
	Now          func() time.Time
	Logger       *zerolog.Logger
}

// NewEngine creates a new valuation engine.
func NewEngine(opts Options) *Engine {
	points := opts.Points
	if points <= 0 {
		points = DefaultPoints
	}
	ratio := opts.LeftPadRatio
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		ratio = DefaultLeftPadRatio
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "valuation").Logger()
	} else {
		logger = zerolog.Nop()
	}

	return &Engine{
		prices:   opts.Prices,
		holdings: opts.Holdings,
		catalog:  opts.Catalog,
		points:   int64(points),
		leftPad:  int64(math.Ceil(float64(points) * ratio)),
		now:      now,
		logger:   logger,
	}
}

// Series returns the value of userID's holdings from the first holding event
// until now, summed across assets, or for assetID only when it is non-empty.
func (e *Engine) Series(ctx context.Context, userID, assetID string) (*Series, error) {
	start := time.Now()
	defer func() { observability.RecordValuation("series", time.Since(start).Seconds()) }()

	// The grid is anchored on the user's first event even when filtering by asset.
	all, err := e.holdings.Timelines(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	timelines := all
	if assetID != "" {
		timelines = nil
		for _, tl := range all {
			if tl.AssetID == assetID {
				timelines = append(timelines, tl)
			}
		}
	}

	snap := e.catalog.Snapshot()
	s := &Series{
		UserID:   userID,
		AssetID:  assetID,
		Currency: snap.Currency,
		FXRate:   snap.Rate(),
		End:      e.now().Unix(),
		Points:   []domain.ValuationPoint{},
	}
	if len(timelines) == 0 {
		return s, nil
	}

	s.Origin = originOf(all)
	s.BucketSize, s.Points, err = e.compute(ctx, timelines, s.Origin, s.End, s.FXRate)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// compute builds the merged series over [origin, end).
func (e *Engine) compute(ctx context.Context, timelines []*holdings.Timeline, origin, end int64, rate float64) (int64, []domain.ValuationPoint, error) {
	bucketSize := BucketSize(origin, end, e.points)
	count := (end - origin) / bucketSize
	if count <= 0 {
		return bucketSize, []domain.ValuationPoint{}, nil
	}
	first := holdings.FloorDiv(origin, bucketSize)

	totals := make([]float64, count)
	present := make([]bool, count)
	for _, tl := range timelines {
		values, ok, err := e.assetValues(ctx, tl, first, count, bucketSize)
		if err != nil {
			return 0, nil, err
		}
		for k := range values {
			if ok[k] {
				totals[k] += values[k] * rate
				present[k] = true
			}
		}
	}

	points := make([]domain.ValuationPoint, 0, count)
	for k := int64(0); k < count; k++ {
		if present[k] {
			points = append(points, domain.ValuationPoint{
				Timestamp: (first + k) * bucketSize,
				Value:     totals[k],
			})
		}
	}
	return bucketSize, points, nil
}

// assetValues returns price*amount of one asset for bucket indices
// first..first+count-1. ok[k] is false when no price or no holding is known yet.
func (e *Engine) assetValues(ctx context.Context, tl *holdings.Timeline, first, count, bucketSize int64) ([]float64, []bool, error) {
	values := make([]float64, count)
	ok := make([]bool, count)

	ev, found := tl.First()
	if !found {
		return values, ok, nil
	}
	firstBucket := holdings.FloorDiv(ev.Timestamp, bucketSize)
	since := (firstBucket - e.leftPad) * bucketSize

	buckets, err := e.prices.BucketAverages(ctx, tl.AssetID, since, bucketSize)
	if err != nil {
		return nil, nil, storage.Wrap("bucket averages", err)
	}

	fill := newForwardFill(buckets, firstBucket)
	for k := int64(0); k < count; k++ {
		idx := first + k
		price, known := fill.At(idx)
		if !known {
			continue
		}
		amount, held := tl.AmountAtBucket(idx, bucketSize)
		if !held {
			continue
		}
		values[k] = price * amount
		ok[k] = true
	}
	return values, ok, nil
}

// CurrentHoldings returns the amount held now of every asset with events,
// valued at the catalog price. Assets missing from the catalog have a nil value.
func (e *Engine) CurrentHoldings(ctx context.Context, userID string) ([]domain.HoldingValue, error) {
	start := time.Now()
	defer func() { observability.RecordValuation("holdings", time.Since(start).Seconds()) }()

	timelines, err := e.holdings.Timelines(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	snap := e.catalog.Snapshot()
	rate := snap.Rate()
	now := e.now().Unix()

	result := make([]domain.HoldingValue, 0, len(timelines))
	for _, tl := range timelines {
		amount, ok := tl.AmountAt(now)
		if !ok {
			continue
		}

		hv := domain.HoldingValue{AssetID: tl.AssetID, Amount: amount}
		if a, found := snap.Asset(tl.AssetID); found {
			price := a.PriceUSD
			value := amount * price * rate
			hv.Symbol = a.Symbol
			hv.PriceUSD = &price
			hv.Value = &value
		} else {
			err := domain.Errorf(domain.KindInconsistent, "current holdings", "asset not in catalog").WithAsset(tl.AssetID)
			e.logger.Warn().Err(err).Str("user_id", userID).Msg("Holding without catalog entry")
		}
		result = append(result, hv)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetID < result[j].AssetID
	})
	return result, nil
}

// CurrentBalance returns the sum of current holding values. Assets missing
// from the catalog are listed in Missing and excluded from the sum.
func (e *Engine) CurrentBalance(ctx context.Context, userID string) (*Balance, error) {
	values, err := e.CurrentHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("current balance: %w", err)
	}

	b := &Balance{UserID: userID, Currency: e.catalog.Snapshot().Currency}
	for _, hv := range values {
		if hv.Value == nil {
			b.Missing = append(b.Missing, hv.AssetID)
			continue
		}
		b.Value += *hv.Value
	}
	return b, nil
}

func originOf(timelines []*holdings.Timeline) int64 {
	origin := int64(math.MaxInt64)
	for _, tl := range timelines {
		if ev, ok := tl.First(); ok && ev.Timestamp < origin {
			origin = ev.Timestamp
		}
	}
	return origin
}
