package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// eventRepo implements EventRepo for PostgreSQL
type eventRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventRepo creates a PostgreSQL price event repository
func NewEventRepo(db *sqlx.DB, timeout time.Duration) persistence.EventRepo {
	return &eventRepo{db: db, timeout: timeout}
}

// Insert adds a new immutable price event
func (r *eventRepo) Insert(ctx context.Context, event persistence.PriceEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO price_events
		(id, symbol, market, change_pct, window_minutes, detected_at, exchange_timezone, session_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.Symbol, event.Market, event.ChangePct,
		event.WindowMinutes, event.DetectedAt, event.ExchangeTimezone, event.SessionLabel)
	if err != nil {
		return fmt.Errorf("failed to insert price event: %w", err)
	}
	return nil
}

// GetByID retrieves a single event, nil when absent
func (r *eventRepo) GetByID(ctx context.Context, id string) (*persistence.PriceEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var event persistence.PriceEvent
	query := `
		SELECT id, symbol, market, change_pct, window_minutes, detected_at,
		       exchange_timezone, session_label, created_at
		FROM price_events WHERE id = $1`

	err := r.db.GetContext(ctx, &event, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price event %s: %w", id, err)
	}
	return &event, nil
}

// ListBySymbol retrieves events for a symbol within a time range, newest first
func (r *eventRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.PriceEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var events []persistence.PriceEvent
	query := `
		SELECT id, symbol, market, change_pct, window_minutes, detected_at,
		       exchange_timezone, session_label, created_at
		FROM price_events
		WHERE symbol = $1 AND detected_at >= $2 AND detected_at <= $3
		ORDER BY detected_at DESC
		LIMIT $4`

	if err := r.db.SelectContext(ctx, &events, query, symbol, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to list price events for %s: %w", symbol, err)
	}
	return events, nil
}
