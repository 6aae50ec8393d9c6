package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrSnapshotConflict is returned by SnapshotRepo.Save when the stored
// snapshot version no longer matches the version the caller read. The
// caller lost the race for this event and must not send a notification.
var ErrSnapshotConflict = errors.New("delta snapshot version conflict")

// TimeRange represents a time window for data queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// PriceEvent represents a detected significant price move. Events are
// immutable once created; identity is owned by the detector.
type PriceEvent struct {
	ID               string    `json:"id" db:"id"`
	Symbol           string    `json:"symbol" db:"symbol"`
	Market           string    `json:"market" db:"market"`
	ChangePct        float64   `json:"change_pct" db:"change_pct"`
	WindowMinutes    int       `json:"window_minutes" db:"window_minutes"`
	DetectedAt       time.Time `json:"detected_at" db:"detected_at"`
	ExchangeTimezone string    `json:"exchange_timezone" db:"exchange_timezone"`
	SessionLabel     string    `json:"session_label,omitempty" db:"session_label"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ReasonExplanation is the auditable breakdown attached to every ranked
// reason. Weights, Signals and ScoreBreakdown must all be present and
// ScoreBreakdown must carry a "total" entry; the ranker enforces this
// before anything is persisted.
type ReasonExplanation struct {
	Weights        map[string]float64 `json:"weights"`
	Signals        map[string]float64 `json:"signals"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown"`
}

// RankedReason is the persisted explanation artifact other systems read.
// The full set for an event is replaced wholesale on every re-rank.
type RankedReason struct {
	ID          string            `json:"id" db:"id"`
	EventID     string            `json:"event_id" db:"event_id"`
	Rank        int               `json:"rank" db:"rank"`
	ReasonType  string            `json:"reason_type" db:"reason_type"`
	Confidence  float64           `json:"confidence_score" db:"confidence_score"`
	Summary     string            `json:"summary" db:"summary"`
	SourceURL   *string           `json:"source_url,omitempty" db:"source_url"`
	PublishedAt *time.Time        `json:"published_at,omitempty" db:"published_at"`
	Explanation ReasonExplanation `json:"explanation" db:"-"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// SnapshotReason is the legacy embedded-reason shape some older snapshots
// were written with. Only the source URL is read from it.
type SnapshotReason struct {
	SourceURL *string `json:"source_url"`
}

// DeltaSnapshot records the last notified state for an event: which
// sources the user has already seen and at what confidence. Version backs
// the compare-and-swap in SnapshotRepo.Save.
type DeltaSnapshot struct {
	EventID    string           `json:"event_id" db:"event_id"`
	SourceURLs []string         `json:"source_urls"`
	Reasons    []SnapshotReason `json:"reasons,omitempty"`
	Confidence *float64         `json:"confidence_score" db:"confidence_score"`
	SnapshotAt time.Time        `json:"snapshot_at" db:"snapshot_at"`
	Version    int64            `json:"version" db:"version"`
}

// CooldownState tracks when an event was last notified. CooldownUntil, if
// set, wins over LastSentAt plus the configured cooldown.
type CooldownState struct {
	EventID       string     `json:"event_id" db:"event_id"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty" db:"last_sent_at"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
}

// EventRepo provides price event persistence
type EventRepo interface {
	// Insert adds a new immutable price event
	Insert(ctx context.Context, event PriceEvent) error

	// GetByID retrieves a single event, nil when absent
	GetByID(ctx context.Context, id string) (*PriceEvent, error)

	// ListBySymbol retrieves events for a symbol within a time range, newest first
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]PriceEvent, error)
}

// ReasonRepo provides ranked reason persistence with replace-by-event semantics
type ReasonRepo interface {
	// ReplaceForEvent atomically swaps the full reason set for an event
	ReplaceForEvent(ctx context.Context, eventID string, reasons []RankedReason) error

	// ListByEvent retrieves the current reason set ordered by rank
	ListByEvent(ctx context.Context, eventID string) ([]RankedReason, error)
}

// SnapshotRepo provides delta snapshot persistence with optimistic concurrency
type SnapshotRepo interface {
	// Get retrieves the latest snapshot for an event, nil when absent
	Get(ctx context.Context, eventID string) (*DeltaSnapshot, error)

	// Save persists a snapshot iff the stored version matches
	// snapshot.Version; on mismatch it returns ErrSnapshotConflict.
	// Version 0 means the caller saw no prior snapshot.
	Save(ctx context.Context, snapshot DeltaSnapshot) error
}

// CooldownRepo provides notification cooldown persistence
type CooldownRepo interface {
	// Get retrieves cooldown state for an event, nil when absent
	Get(ctx context.Context, eventID string) (*CooldownState, error)

	// Save upserts cooldown state after a send decision
	Save(ctx context.Context, state CooldownState) error
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Events    EventRepo
	Reasons   ReasonRepo
	Snapshots SnapshotRepo
	Cooldowns CooldownRepo
}
