package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

// HoldingStore implements storage.HoldingStore using PostgreSQL.
type HoldingStore struct {
	pool *Pool
}

// NewHoldingStore creates a new HoldingStore.
func NewHoldingStore(pool *Pool) *HoldingStore {
	return &HoldingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HoldingStore = (*HoldingStore)(nil)

const holdingColumns = `event_id, user_id, asset_id, ts, amount, created_at`

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *HoldingStore) Insert(ctx context.Context, e *domain.HoldingEvent) error {
	query := `
		INSERT INTO holding_events (event_id, user_id, asset_id, ts, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query, e.EventID, e.UserID, e.AssetID, e.Timestamp, e.Amount, e.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert holding event: %w", err)
	}
	return nil
}

// Update replaces ts and amount of an event owned by e.UserID.
func (s *HoldingStore) Update(ctx context.Context, e *domain.HoldingEvent) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE holding_events SET ts = $3, amount = $4
		WHERE event_id = $1 AND user_id = $2
	`, e.EventID, e.UserID, e.Timestamp, e.Amount)
	if err != nil {
		return fmt.Errorf("update holding event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes an event owned by userID.
func (s *HoldingStore) Delete(ctx context.Context, userID string, eventID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM holding_events WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
	if err != nil {
		return fmt.Errorf("delete holding event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an event owned by userID.
func (s *HoldingStore) GetByID(ctx context.Context, userID string, eventID uuid.UUID) (*domain.HoldingEvent, error) {
	query := `SELECT ` + holdingColumns + ` FROM holding_events WHERE event_id = $1 AND user_id = $2`

	var e domain.HoldingEvent
	err := s.pool.QueryRow(ctx, query, eventID, userID).Scan(
		&e.EventID, &e.UserID, &e.AssetID, &e.Timestamp, &e.Amount, &e.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get holding event: %w", err)
	}
	return &e, nil
}

// GetByUser retrieves all events of a user, ordered by (asset_id, ts, event_id).
func (s *HoldingStore) GetByUser(ctx context.Context, userID string) ([]*domain.HoldingEvent, error) {
	query := `
		SELECT ` + holdingColumns + `
		FROM holding_events
		WHERE user_id = $1
		ORDER BY asset_id ASC, ts ASC, event_id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get holding events by user: %w", err)
	}
	defer rows.Close()

	return scanHoldingEvents(rows)
}

// GetByUserAsset retrieves events of a user for one asset, ordered by (ts, event_id).
func (s *HoldingStore) GetByUserAsset(ctx context.Context, userID, assetID string) ([]*domain.HoldingEvent, error) {
	query := `
		SELECT ` + holdingColumns + `
		FROM holding_events
		WHERE user_id = $1 AND asset_id = $2
		ORDER BY ts ASC, event_id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID, assetID)
	if err != nil {
		return nil, fmt.Errorf("get holding events by user asset: %w", err)
	}
	defer rows.Close()

	return scanHoldingEvents(rows)
}

// scanHoldingEvents scans rows into HoldingEvent slice.
func scanHoldingEvents(rows pgx.Rows) ([]*domain.HoldingEvent, error) {
	var events []*domain.HoldingEvent
	for rows.Next() {
		var e domain.HoldingEvent
		if err := rows.Scan(&e.EventID, &e.UserID, &e.AssetID, &e.Timestamp, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan holding event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
