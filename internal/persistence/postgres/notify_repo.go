package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// snapshotRepo implements SnapshotRepo for PostgreSQL
type snapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotRepo creates a PostgreSQL delta snapshot repository
func NewSnapshotRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotRepo {
	return &snapshotRepo{db: db, timeout: timeout}
}

// Get retrieves the latest snapshot for an event, nil when absent
func (r *snapshotRepo) Get(ctx context.Context, eventID string) (*persistence.DeltaSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT event_id, source_urls, confidence_score, snapshot_at, version
		FROM delta_snapshots WHERE event_id = $1`

	var snapshot persistence.DeltaSnapshot
	var urlsJSON []byte
	err := r.db.QueryRowxContext(ctx, query, eventID).
		Scan(&snapshot.EventID, &urlsJSON, &snapshot.Confidence, &snapshot.SnapshotAt, &snapshot.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for event %s: %w", eventID, err)
	}
	if err := json.Unmarshal(urlsJSON, &snapshot.SourceURLs); err != nil {
		// Legacy rows stored embedded reason objects instead of a flat list.
		if jsonErr := json.Unmarshal(urlsJSON, &snapshot.Reasons); jsonErr != nil {
			return nil, fmt.Errorf("failed to decode snapshot sources: %w", err)
		}
	}
	return &snapshot, nil
}

// Save persists a snapshot iff the stored version matches snapshot.Version.
// Version 0 inserts; a concurrent writer surfaces as ErrSnapshotConflict so
// racing detections of the same event cannot both notify.
func (r *snapshotRepo) Save(ctx context.Context, snapshot persistence.DeltaSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	urlsJSON, err := json.Marshal(snapshot.SourceURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot sources: %w", err)
	}

	if snapshot.Version == 0 {
		query := `
			INSERT INTO delta_snapshots (event_id, source_urls, confidence_score, snapshot_at, version)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (event_id) DO NOTHING`
		result, err := r.db.ExecContext(ctx, query,
			snapshot.EventID, urlsJSON, snapshot.Confidence, snapshot.SnapshotAt)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot for event %s: %w", snapshot.EventID, err)
		}
		return checkAffected(result, snapshot.EventID)
	}

	query := `
		UPDATE delta_snapshots
		SET source_urls = $2, confidence_score = $3, snapshot_at = $4, version = version + 1
		WHERE event_id = $1 AND version = $5`
	result, err := r.db.ExecContext(ctx, query,
		snapshot.EventID, urlsJSON, snapshot.Confidence, snapshot.SnapshotAt, snapshot.Version)
	if err != nil {
		return fmt.Errorf("failed to update snapshot for event %s: %w", snapshot.EventID, err)
	}
	return checkAffected(result, snapshot.EventID)
}

func checkAffected(result sql.Result, eventID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("event %s: %w", eventID, persistence.ErrSnapshotConflict)
	}
	return nil
}

// cooldownRepo implements CooldownRepo for PostgreSQL
type cooldownRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCooldownRepo creates a PostgreSQL cooldown state repository
func NewCooldownRepo(db *sqlx.DB, timeout time.Duration) persistence.CooldownRepo {
	return &cooldownRepo{db: db, timeout: timeout}
}

// Get retrieves cooldown state for an event, nil when absent
func (r *cooldownRepo) Get(ctx context.Context, eventID string) (*persistence.CooldownState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var state persistence.CooldownState
	query := `SELECT event_id, last_sent_at, cooldown_until FROM notification_cooldowns WHERE event_id = $1`

	err := r.db.GetContext(ctx, &state, query, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cooldown for event %s: %w", eventID, err)
	}
	return &state, nil
}

// Save upserts cooldown state after a send decision
func (r *cooldownRepo) Save(ctx context.Context, state persistence.CooldownState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO notification_cooldowns (event_id, last_sent_at, cooldown_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE SET
			last_sent_at = EXCLUDED.last_sent_at,
			cooldown_until = EXCLUDED.cooldown_until`

	if _, err := r.db.ExecContext(ctx, query, state.EventID, state.LastSentAt, state.CooldownUntil); err != nil {
		return fmt.Errorf("failed to save cooldown for event %s: %w", state.EventID, err)
	}
	return nil
}
