package memory

import (
	"context"
	"sort"
	"sync"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// PriceStore is an in-memory implementation of storage.PriceStore.
type PriceStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.PricePoint // asset_id -> timestamp -> point
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		data: make(map[string]map[int64]*domain.PricePoint),
	}
}

// InsertBulk adds multiple points, skipping existing (asset_id, timestamp) keys.
func (s *PriceStore) InsertBulk(_ context.Context, points []*domain.PricePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	// Validate the whole batch before touching state
	for _, p := range points {
		if p == nil || p.AssetID == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, p := range points {
		byTs, ok := s.data[p.AssetID]
		if !ok {
			byTs = make(map[int64]*domain.PricePoint)
			s.data[p.AssetID] = byTs
		}
		if _, exists := byTs[p.Timestamp]; exists {
			continue
		}
		pointCopy := *p
		byTs[p.Timestamp] = &pointCopy
		inserted++
	}
	return inserted, nil
}

// GetByTimeRange retrieves points for an asset within [start, end] (inclusive).
func (s *PriceStore) GetByTimeRange(_ context.Context, assetID string, start, end int64) ([]*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePoint
	for ts, p := range s.data[assetID] {
		if ts >= start && ts <= end {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result, nil
}

// BucketAverages returns AVG(price_usd) per bucket for points with timestamp > since.
func (s *PriceStore) BucketAverages(_ context.Context, assetID string, since, bucketSize int64) ([]domain.BucketPrice, error) {
	if bucketSize <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		sum   float64
		count int
	}
	buckets := make(map[int64]*acc)
	for ts, p := range s.data[assetID] {
		if ts <= since {
			continue
		}
		b := floorDiv(ts, bucketSize)
		a, ok := buckets[b]
		if !ok {
			a = &acc{}
			buckets[b] = a
		}
		a.sum += p.PriceUSD
		a.count++
	}

	result := make([]domain.BucketPrice, 0, len(buckets))
	for b, a := range buckets {
		result = append(result, domain.BucketPrice{Bucket: b, AvgPrice: a.sum / float64(a.count)})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Bucket < result[j].Bucket
	})
	return result, nil
}

// LatestTimestamp returns the newest stored timestamp for an asset, or 0 if none.
func (s *PriceStore) LatestTimestamp(_ context.Context, assetID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	for ts := range s.data[assetID] {
		if ts > latest {
			latest = ts
		}
	}
	return latest, nil
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

var _ storage.PriceStore = (*PriceStore)(nil)
