// Package stub provides in-memory ingestion sources for tests and offline runs.
package stub

import (
	"context"
	"sync"

	"portfolio-tracker/internal/domain"
)

// TickerSource returns a fixed catalog.
// Implements ingestion.TickerSource interface.
type TickerSource struct {
	mu     sync.Mutex
	assets []domain.Asset
	err    error
	calls  int
}

// NewTickerSource creates a ticker source returning assets.
func NewTickerSource(assets []domain.Asset) *TickerSource {
	return &TickerSource{assets: assets}
}

// SetAssets replaces the returned catalog.
func (s *TickerSource) SetAssets(assets []domain.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = assets
}

// SetError makes subsequent fetches fail with err (nil to clear).
func (s *TickerSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the number of fetches.
func (s *TickerSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FetchTickerSnapshot returns copies of the configured assets.
func (s *TickerSource) FetchTickerSnapshot(_ context.Context) ([]domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.Asset(nil), s.assets...), nil
}

// HistoryCall records one FetchPriceHistory invocation.
type HistoryCall struct {
	AssetID string
	From    int64
	To      int64
}

// HistorySource returns in-memory samples.
// Implements ingestion.HistorySource interface.
type HistorySource struct {
	mu       sync.Mutex
	points   map[string][]domain.PricePoint
	failures map[string]error
	fn       func(assetID string, from, to int64) ([]domain.PricePoint, error)
	calls    []HistoryCall
}

// NewHistorySource creates a source returning the given samples.
// Fetches return samples with from <= timestamp <= to; the lower bound is
// inclusive on purpose so callers must filter it.
func NewHistorySource(points []domain.PricePoint) *HistorySource {
	s := &HistorySource{
		points:   make(map[string][]domain.PricePoint),
		failures: make(map[string]error),
	}
	for _, p := range points {
		s.points[p.AssetID] = append(s.points[p.AssetID], p)
	}
	return s
}

// NewHistoryFunc creates a source backed by fn.
func NewHistoryFunc(fn func(assetID string, from, to int64) ([]domain.PricePoint, error)) *HistorySource {
	s := NewHistorySource(nil)
	s.fn = fn
	return s
}

// Add appends samples.
func (s *HistorySource) Add(points ...domain.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.AssetID] = append(s.points[p.AssetID], p)
	}
}

// Fail makes fetches of assetID return err (nil to clear).
func (s *HistorySource) Fail(assetID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, assetID)
		return
	}
	s.failures[assetID] = err
}

// Calls returns all recorded fetches in order.
func (s *HistorySource) Calls() []HistoryCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryCall(nil), s.calls...)
}

// FetchPriceHistory returns samples of assetID within [from, to].
func (s *HistorySource) FetchPriceHistory(_ context.Context, assetID string, from, to int64) ([]domain.PricePoint, error) {
	s.mu.Lock()
	s.calls = append(s.calls, HistoryCall{AssetID: assetID, From: from, To: to})
	fn := s.fn
	err := s.failures[assetID]
	var result []domain.PricePoint
	for _, p := range s.points[assetID] {
		if p.Timestamp >= from && p.Timestamp <= to {
			result = append(result, p)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(assetID, from, to)
	}
	return result, nil
}

// FXSource returns a fixed rate.
// Implements ingestion.FXSource interface.
type FXSource struct {
	mu   sync.Mutex
	rate float64
	err  error
}

// NewFXSource creates an FX source returning rate.
func NewFXSource(rate float64) *FXSource {
	return &FXSource{rate: rate}
}

// Set replaces the returned rate and error.
func (s *FXSource) Set(rate float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate, s.err = rate, err
}

// FetchRate returns the configured rate.
func (s *FXSource) FetchRate(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.rate, nil
}
