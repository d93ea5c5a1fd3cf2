package holdings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// ErrInvalidEvent is returned for events that fail validation.
var ErrInvalidEvent = errors.New("invalid holding event")

// Service manages a user's holding events.
type Service struct {
	store storage.HoldingStore
	now   func() time.Time
	newID func() uuid.UUID
}

// NewService creates a new holdings service.
func NewService(store storage.HoldingStore) *Service {
	return &Service{store: store, now: time.Now, newID: uuid.New}
}

// Validate checks the user-supplied fields of an event.
func Validate(userID, assetID string, ts int64, amount float64) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	case assetID == "":
		return fmt.Errorf("%w: asset_id is required", ErrInvalidEvent)
	case ts <= 0:
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidEvent)
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		return fmt.Errorf("%w: amount must be finite", ErrInvalidEvent)
	case amount < 0:
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidEvent)
	}
	return nil
}

// Add records that userID holds amount of assetID from ts on.
func (s *Service) Add(ctx context.Context, userID, assetID string, ts int64, amount float64) (*domain.HoldingEvent, error) {
	if err := Validate(userID, assetID, ts, amount); err != nil {
		return nil, err
	}

	e := &domain.HoldingEvent{
		EventID:   s.newID(),
		UserID:    userID,
		AssetID:   assetID,
		Timestamp: ts,
		Amount:    amount,
		CreatedAt: s.now().Unix(),
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return nil, storage.Wrap("add holding event", err)
	}
	return e, nil
}

// Edit changes timestamp and amount of an existing event of userID.
// Returns storage.ErrNotFound if userID has no such event.
func (s *Service) Edit(ctx context.Context, userID string, eventID uuid.UUID, ts int64, amount float64) (*domain.HoldingEvent, error) {
	existing, err := s.store.GetByID(ctx, userID, eventID)
	if err != nil {
		return nil, storage.Wrap("get holding event", err)
	}
	if err := Validate(userID, existing.AssetID, ts, amount); err != nil {
		return nil, err
	}

	existing.Timestamp = ts
	existing.Amount = amount
	if err := s.store.Update(ctx, existing); err != nil {
		return nil, storage.Wrap("edit holding event", err)
	}
	return existing, nil
}

// Delete removes an event of userID.
func (s *Service) Delete(ctx context.Context, userID string, eventID uuid.UUID) error {
	if err := s.store.Delete(ctx, userID, eventID); err != nil {
		return storage.Wrap("delete holding event", err)
	}
	return nil
}

// List returns events of userID, optionally restricted to assetID.
func (s *Service) List(ctx context.Context, userID, assetID string) ([]*domain.HoldingEvent, error) {
	var (
		events []*domain.HoldingEvent
		err    error
	)
	if assetID == "" {
		events, err = s.store.GetByUser(ctx, userID)
	} else {
		events, err = s.store.GetByUserAsset(ctx, userID, assetID)
	}
	if err != nil {
		return nil, storage.Wrap("list holding events", err)
	}
	return events, nil
}

// Timelines returns one timeline per held asset, optionally restricted to assetID.
func (s *Service) Timelines(ctx context.Context, userID, assetID string) ([]*Timeline, error) {
	events, err := s.List(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	return GroupByAsset(events), nil
}
