package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// reasonRepo implements ReasonRepo for PostgreSQL
type reasonRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReasonRepo creates a PostgreSQL ranked reason repository
func NewReasonRepo(db *sqlx.DB, timeout time.Duration) persistence.ReasonRepo {
	return &reasonRepo{db: db, timeout: timeout}
}

// ReplaceForEvent atomically swaps the full reason set for an event. The
// delete and inserts share one transaction so readers never observe a
// partial set.
func (r *reasonRepo) ReplaceForEvent(ctx context.Context, eventID string, reasons []persistence.RankedReason) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ranked_reasons WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to clear reasons for event %s: %w", eventID, err)
	}

	query := `
		INSERT INTO ranked_reasons
		(id, event_id, rank, reason_type, confidence_score, summary, source_url, published_at, explanation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, reason := range reasons {
		explanationJSON, err := json.Marshal(reason.Explanation)
		if err != nil {
			return fmt.Errorf("failed to marshal explanation: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			reason.ID, eventID, reason.Rank, reason.ReasonType, reason.Confidence,
			reason.Summary, reason.SourceURL, reason.PublishedAt, explanationJSON)
		if err != nil {
			return fmt.Errorf("failed to insert reason rank %d: %w", reason.Rank, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reason set for event %s: %w", eventID, err)
	}
	return nil
}

// ListByEvent retrieves the current reason set ordered by rank
func (r *reasonRepo) ListByEvent(ctx context.Context, eventID string) ([]persistence.RankedReason, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, event_id, rank, reason_type, confidence_score, summary,
		       source_url, published_at, explanation, created_at
		FROM ranked_reasons
		WHERE event_id = $1
		ORDER BY rank ASC`

	rows, err := r.db.QueryxContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reasons for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var reasons []persistence.RankedReason
	for rows.Next() {
		var reason persistence.RankedReason
		var explanationJSON []byte
		err := rows.Scan(&reason.ID, &reason.EventID, &reason.Rank, &reason.ReasonType,
			&reason.Confidence, &reason.Summary, &reason.SourceURL, &reason.PublishedAt,
			&explanationJSON, &reason.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reason row: %w", err)
		}
		if err := json.Unmarshal(explanationJSON, &reason.Explanation); err != nil {
			return nil, fmt.Errorf("failed to unmarshal explanation: %w", err)
		}
		reasons = append(reasons, reason)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reason rows: %w", err)
	}
	return reasons, nil
}
