package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/tickwatch/tickwatch/internal/cache"
)

type brokenCache struct{}

func (brokenCache) SetIfAbsent(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestDebounceGateFailsOpen(t *testing.T) {
	gate := NewDebounceGate(brokenCache{}, zerolog.Nop())
	key := DebounceKey{Symbol: "BTC", Market: "crypto", WindowMinutes: 5, Direction: DirectionUp}

	assert.True(t, gate.Allow(context.Background(), key))
	assert.True(t, gate.Allow(context.Background(), key), "backend errors must not suppress ticks")
}

func TestDebounceKeyIndependence(t *testing.T) {
	gate := NewDebounceGate(cache.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	up := DebounceKey{Symbol: "BTC", Market: "crypto", WindowMinutes: 5, Direction: DirectionUp}
	down := DebounceKey{Symbol: "BTC", Market: "crypto", WindowMinutes: 5, Direction: DirectionDown}
	daily := DebounceKey{Symbol: "BTC", Market: "crypto", WindowMinutes: 1440, Direction: DirectionUp}
	other := DebounceKey{Symbol: "ETH", Market: "crypto", WindowMinutes: 5, Direction: DirectionUp}

	assert.True(t, gate.Allow(ctx, up))
	assert.False(t, gate.Allow(ctx, up))
	assert.True(t, gate.Allow(ctx, down), "opposite direction is tracked independently")
	assert.True(t, gate.Allow(ctx, daily), "different window is tracked independently")
	assert.True(t, gate.Allow(ctx, other), "different symbol is tracked independently")
}

func TestDebounceKeyTTL(t *testing.T) {
	key := DebounceKey{Symbol: "BTC", Market: "crypto", WindowMinutes: 5, Direction: DirectionUp}
	assert.Equal(t, 5*time.Minute, key.TTL())

	key.WindowMinutes = 1440
	assert.Equal(t, 24*time.Hour, key.TTL())
}
