// Package catalog holds the in-memory asset catalog: an immutable snapshot of
// asset metadata and the FX rate, swapped atomically by background refreshers.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// CacheKey is the CacheStore key under which the snapshot is persisted.
const CacheKey = "catalog_snapshot"

// Catalog publishes immutable snapshots. Readers hold the lock only to copy the
// pointer; writers hold it only to swap in a fully built snapshot.
type Catalog struct {
	mu       sync.RWMutex
	snapshot *domain.Snapshot
}

// New creates a catalog with an empty snapshot quoted in currency.
func New(currency string) *Catalog {
	s := domain.EmptySnapshot()
	if currency != "" {
		s.Currency = currency
	}
	return &Catalog{snapshot: s}
}

// Snapshot returns the current snapshot. The result must not be modified.
func (c *Catalog) Snapshot() *domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Update builds the next snapshot from the current one and publishes it with an
// incremented version. build runs under the write lock and must not block; it
// returns nil to leave the catalog unchanged.
func (c *Catalog) Update(build func(prev *domain.Snapshot) *domain.Snapshot) *domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := build(c.snapshot)
	if next == nil || next == c.snapshot {
		return c.snapshot
	}
	next.Version = c.snapshot.Version + 1
	c.snapshot = next
	return next
}

// ReplaceAssets publishes a snapshot with the given assets and the current FX fields.
func (c *Catalog) ReplaceAssets(assets []domain.Asset, fetchedAt int64) *domain.Snapshot {
	byID := make(map[string]*domain.Asset, len(assets))
	for i := range assets {
		a := assets[i]
		byID[a.ID] = &a
	}

	return c.Update(func(prev *domain.Snapshot) *domain.Snapshot {
		return &domain.Snapshot{
			FetchedAt:   fetchedAt,
			Assets:      byID,
			Currency:    prev.Currency,
			FXRate:      prev.FXRate,
			FXUpdatedAt: prev.FXUpdatedAt,
		}
	})
}

// SetRate publishes a snapshot with a new FX rate and the current assets.
func (c *Catalog) SetRate(currency string, rate float64, updatedAt int64) *domain.Snapshot {
	return c.Update(func(prev *domain.Snapshot) *domain.Snapshot {
		return &domain.Snapshot{
			FetchedAt:   prev.FetchedAt,
			Assets:      prev.Assets,
			Currency:    currency,
			FXRate:      rate,
			FXUpdatedAt: updatedAt,
		}
	})
}

// Load restores the snapshot persisted in cache. A missing entry is not an error.
// A cached snapshot quoted in another currency keeps its assets but resets the rate.
func (c *Catalog) Load(ctx context.Context, cache storage.CacheStore) (bool, error) {
	data, err := cache.Get(ctx, CacheKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load catalog cache: %w", err)
	}

	var cached domain.Snapshot
	if err := json.Unmarshal(data, &cached); err != nil {
		return false, fmt.Errorf("decode catalog cache: %w", err)
	}
	if cached.Assets == nil {
		cached.Assets = make(map[string]*domain.Asset)
	}

	c.Update(func(prev *domain.Snapshot) *domain.Snapshot {
		if cached.Currency != prev.Currency {
			cached.Currency = prev.Currency
			cached.FXRate = prev.FXRate
			cached.FXUpdatedAt = 0
		}
		return &cached
	})
	return true, nil
}

// Save persists the current snapshot into cache.
func (c *Catalog) Save(ctx context.Context, cache storage.CacheStore) error {
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("encode catalog cache: %w", err)
	}
	if err := cache.Put(ctx, CacheKey, data); err != nil {
		return fmt.Errorf("save catalog cache: %w", err)
	}
	return nil
}
