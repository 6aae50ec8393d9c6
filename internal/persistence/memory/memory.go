// Package memory provides map-backed repositories for local runs and
// tests. Semantics match the Postgres implementations, including the
// snapshot compare-and-swap.
package memory

import (
	"context"
	"sync"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// Store holds all repository state behind one mutex.
type Store struct {
	mu        sync.Mutex
	events    []persistence.PriceEvent
	reasons   map[string][]persistence.RankedReason
	snapshots map[string]persistence.DeltaSnapshot
	cooldowns map[string]persistence.CooldownState
}

func NewStore() *Store {
	return &Store{
		reasons:   map[string][]persistence.RankedReason{},
		snapshots: map[string]persistence.DeltaSnapshot{},
		cooldowns: map[string]persistence.CooldownState{},
	}
}

// Repository exposes the store as the standard repository aggregate.
func (s *Store) Repository() persistence.Repository {
	return persistence.Repository{
		Events:    (*eventRepo)(s),
		Reasons:   (*reasonRepo)(s),
		Snapshots: (*snapshotRepo)(s),
		Cooldowns: (*cooldownRepo)(s),
	}
}

type eventRepo Store

func (r *eventRepo) Insert(_ context.Context, event persistence.PriceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRepo) GetByID(_ context.Context, id string) (*persistence.PriceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			event := r.events[i]
			return &event, nil
		}
	}
	return nil, nil
}

func (r *eventRepo) ListBySymbol(_ context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.PriceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []persistence.PriceEvent
	// Events append in detection order, so walk backwards for newest first.
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.Symbol != symbol {
			continue
		}
		if !tr.From.IsZero() && e.DetectedAt.Before(tr.From) {
			continue
		}
		if !tr.To.IsZero() && e.DetectedAt.After(tr.To) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type reasonRepo Store

func (r *reasonRepo) ReplaceForEvent(_ context.Context, eventID string, reasons []persistence.RankedReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons[eventID] = append([]persistence.RankedReason(nil), reasons...)
	return nil
}

func (r *reasonRepo) ListByEvent(_ context.Context, eventID string) ([]persistence.RankedReason, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persistence.RankedReason(nil), r.reasons[eventID]...), nil
}

type snapshotRepo Store

func (r *snapshotRepo) Get(_ context.Context, eventID string) (*persistence.DeltaSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[eventID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (r *snapshotRepo) Save(_ context.Context, snapshot persistence.DeltaSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.snapshots[snapshot.EventID]
	if !ok {
		if snapshot.Version != 0 {
			return persistence.ErrSnapshotConflict
		}
	} else if existing.Version != snapshot.Version {
		return persistence.ErrSnapshotConflict
	}
	snapshot.Version++
	r.snapshots[snapshot.EventID] = snapshot
	return nil
}

type cooldownRepo Store

func (r *cooldownRepo) Get(_ context.Context, eventID string) (*persistence.CooldownState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.cooldowns[eventID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (r *cooldownRepo) Save(_ context.Context, state persistence.CooldownState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[state.EventID] = state
	return nil
}
