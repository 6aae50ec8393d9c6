package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwatch/tickwatch/internal/cache"
)

// Direction is the sign of a price move. Up and down moves debounce
// independently.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// DebounceKey identifies one logical alert stream. A hit on the exact key
// within its window suppresses the duplicate firing.
type DebounceKey struct {
	Symbol        string
	Market        string
	WindowMinutes int
	Direction     Direction
}

// CacheKey renders the key for the backing TTL cache.
func (k DebounceKey) CacheKey() string {
	return fmt.Sprintf("debounce:%s:%s:%d:%s", k.Market, k.Symbol, k.WindowMinutes, k.Direction)
}

// TTL is the suppression window: the detection window scaled to real time.
func (k DebounceKey) TTL() time.Duration {
	return time.Duration(k.WindowMinutes) * time.Minute
}

// DebounceGate suppresses duplicate firings of the same logical event.
// Check-and-mark is a single atomic SetIfAbsent so two concurrent
// detections for the same key cannot both pass.
type DebounceGate struct {
	cache  cache.TTLCache
	logger zerolog.Logger
}

// NewDebounceGate creates a gate on the given TTL cache.
func NewDebounceGate(c cache.TTLCache, logger zerolog.Logger) *DebounceGate {
	return &DebounceGate{cache: c, logger: logger}
}

// Allow reports whether the key may fire now, marking it for the key's TTL
// when it does. When the cache backend is unavailable the gate fails open:
// a duplicate alert is preferred over a silently dropped one.
func (g *DebounceGate) Allow(ctx context.Context, key DebounceKey) bool {
	created, err := g.cache.SetIfAbsent(ctx, key.CacheKey(), key.TTL())
	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("key", key.CacheKey()).
			Msg("debounce cache unavailable, failing open")
		return true
	}
	return created
}
