package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// HoldingStore is an in-memory implementation of storage.HoldingStore.
type HoldingStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*domain.HoldingEvent // keyed by event_id
}

// NewHoldingStore creates a new in-memory holding store.
func NewHoldingStore() *HoldingStore {
	return &HoldingStore{
		data: make(map[uuid.UUID]*domain.HoldingEvent),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *HoldingStore) Insert(_ context.Context, e *domain.HoldingEvent) error {
	if e == nil || e.UserID == "" || e.AssetID == "" || e.EventID == uuid.Nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}
	eventCopy := *e
	s.data[e.EventID] = &eventCopy
	return nil
}

// Update replaces timestamp and amount of an event owned by e.UserID.
func (s *HoldingStore) Update(_ context.Context, e *domain.HoldingEvent) error {
	if e == nil || e.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[e.EventID]
	if !ok || existing.UserID != e.UserID {
		return storage.ErrNotFound
	}
	existing.Timestamp = e.Timestamp
	existing.Amount = e.Amount
	return nil
}

// Delete removes an event owned by userID.
func (s *HoldingStore) Delete(_ context.Context, userID string, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[eventID]
	if !ok || existing.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.data, eventID)
	return nil
}

// GetByID retrieves an event owned by userID.
func (s *HoldingStore) GetByID(_ context.Context, userID string, eventID uuid.UUID) (*domain.HoldingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[eventID]
	if !ok || e.UserID != userID {
		return nil, storage.ErrNotFound
	}
	eventCopy := *e
	return &eventCopy, nil
}

// GetByUser retrieves all events of a user, ordered by (asset_id, timestamp, event_id).
func (s *HoldingStore) GetByUser(_ context.Context, userID string) ([]*domain.HoldingEvent, error) {
	return s.filter(func(e *domain.HoldingEvent) bool {
		return e.UserID == userID
	}), nil
}

// GetByUserAsset retrieves events of a user for one asset, ordered by (timestamp, event_id).
func (s *HoldingStore) GetByUserAsset(_ context.Context, userID, assetID string) ([]*domain.HoldingEvent, error) {
	return s.filter(func(e *domain.HoldingEvent) bool {
		return e.UserID == userID && e.AssetID == assetID
	}), nil
}

func (s *HoldingStore) filter(match func(*domain.HoldingEvent) bool) []*domain.HoldingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HoldingEvent
	for _, e := range s.data {
		if match(e) {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.EventID.String() < b.EventID.String()
	})
	return result
}

var _ storage.HoldingStore = (*HoldingStore)(nil)
