package memory

import (
	"context"
	"sort"
	"sync"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// AssetStore is an in-memory implementation of storage.AssetStore.
type AssetStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Asset // keyed by asset_id
}

// NewAssetStore creates a new in-memory asset store.
func NewAssetStore() *AssetStore {
	return &AssetStore{
		data: make(map[string]*domain.Asset),
	}
}

// UpsertBulk inserts or updates catalog metadata atomically.
func (s *AssetStore) UpsertBulk(_ context.Context, assets []*domain.Asset) error {
	for _, a := range assets {
		if a == nil || a.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range assets {
		assetCopy := *a
		if existing, ok := s.data[a.ID]; ok {
			assetCopy.LastUpdated = existing.LastUpdated
			assetCopy.PriorityScore = existing.PriorityScore
		} else {
			assetCopy.LastUpdated = 0
			assetCopy.PriorityScore = 0
		}
		s.data[a.ID] = &assetCopy
	}
	return nil
}

// GetByID retrieves an asset by its ID. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(_ context.Context, assetID string) (*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[assetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	assetCopy := *a
	return &assetCopy, nil
}

// GetAll retrieves all assets, ordered by rank ASC.
func (s *AssetStore) GetAll(_ context.Context) ([]*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Asset, 0, len(s.data))
	for _, a := range s.data {
		assetCopy := *a
		result = append(result, &assetCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Rank != result[j].Rank {
			return result[i].Rank < result[j].Rank
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetRefreshStates retrieves scheduler bookkeeping for all assets.
func (s *AssetStore) GetRefreshStates(_ context.Context) ([]domain.RefreshState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]domain.RefreshState, 0, len(s.data))
	for _, a := range s.data {
		states = append(states, a.RefreshState())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].AssetID < states[j].AssetID
	})
	return states, nil
}

// MarkRefreshed sets last_updated and resets priority_score to 0.
func (s *AssetStore) MarkRefreshed(_ context.Context, assetID string, lastUpdated int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[assetID]
	if !ok {
		return storage.ErrNotFound
	}
	a.LastUpdated = lastUpdated
	a.PriorityScore = 0
	return nil
}

// DecrementPriority lowers priority_score by one and returns the new score.
func (s *AssetStore) DecrementPriority(_ context.Context, assetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[assetID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	a.PriorityScore--
	return a.PriorityScore, nil
}

var _ storage.AssetStore = (*AssetStore)(nil)
