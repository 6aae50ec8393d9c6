package detect

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwatch/tickwatch/internal/cache"
	"github.com/tickwatch/tickwatch/internal/persistence"
)

type memEventRepo struct {
	events []persistence.PriceEvent
}

func (r *memEventRepo) Insert(_ context.Context, event persistence.PriceEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *memEventRepo) GetByID(_ context.Context, id string) (*persistence.PriceEvent, error) {
	for i := range r.events {
		if r.events[i].ID == id {
			return &r.events[i], nil
		}
	}
	return nil, nil
}

func (r *memEventRepo) ListBySymbol(_ context.Context, symbol string, _ persistence.TimeRange, _ int) ([]persistence.PriceEvent, error) {
	var out []persistence.PriceEvent
	for _, e := range r.events {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestDetector(t *testing.T, now func() time.Time) (*Detector, *memEventRepo) {
	t.Helper()
	repo := &memEventRepo{}
	gate := NewDebounceGate(cache.NewMemoryWithClock(now), zerolog.Nop())
	return NewDetector(nil, gate, repo, zerolog.Nop()), repo
}

func tick(symbol string, baseline, current float64, window int, at time.Time) TickInput {
	return TickInput{
		Symbol:        symbol,
		Market:        "us",
		BaselinePrice: baseline,
		CurrentPrice:  current,
		WindowMinutes: window,
		DetectedAt:    at,
	}
}

func TestDetectValidation(t *testing.T) {
	at := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	d, _ := newTestDetector(t, time.Now)

	testCases := []struct {
		name  string
		in    TickInput
		field string
	}{
		{"empty symbol", tick("", 100, 110, 5, at), "symbol"},
		{"unknown market", TickInput{Symbol: "AAPL", Market: "mars", BaselinePrice: 100, CurrentPrice: 110, WindowMinutes: 5, DetectedAt: at}, "market"},
		{"unsupported window", tick("AAPL", 100, 110, 15, at), "window_minutes"},
		{"zero baseline", tick("AAPL", 0, 110, 5, at), "baseline_price"},
		{"negative baseline", tick("AAPL", -4, 110, 5, at), "baseline_price"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := d.Detect(context.Background(), tc.in)
			assert.Nil(t, event)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestDetectBelowThresholdIsNotAnError(t *testing.T) {
	at := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	d, repo := newTestDetector(t, time.Now)

	// 2% on the 5-minute window, default threshold is 3%
	event, err := d.Detect(context.Background(), tick("AAPL", 100, 102, 5, at))
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Empty(t, repo.events)

	// 4% on the daily window, default threshold is 5%
	event, err = d.Detect(context.Background(), tick("AAPL", 100, 104, 1440, at))
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Empty(t, repo.events)
}

func TestDetectEventFields(t *testing.T) {
	at := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	d, repo := newTestDetector(t, time.Now)

	in := tick("AAPL", 100, 104, 5, at)
	in.SessionLabel = "regular"
	event, err := d.Detect(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "AAPL", event.Symbol)
	assert.Equal(t, "us", event.Market)
	assert.InDelta(t, 4.0, event.ChangePct, 1e-9)
	assert.Equal(t, 5, event.WindowMinutes)
	assert.Equal(t, at, event.DetectedAt)
	assert.Equal(t, "America/New_York", event.ExchangeTimezone)
	assert.Equal(t, "regular", event.SessionLabel)
	require.Len(t, repo.events, 1)
	assert.Equal(t, event.ID, repo.events[0].ID)
}

func TestDetectThresholdOverride(t *testing.T) {
	at := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	d, _ := newTestDetector(t, time.Now)

	override := 1.5
	in := tick("AAPL", 100, 102, 5, at)
	in.ThresholdOverride = &override

	event, err := d.Detect(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, event, "2%% move should fire with a 1.5%% override")

	// A tighter override suppresses a move the default would have fired on
	strict := 10.0
	in = tick("MSFT", 100, 104, 5, at)
	in.ThresholdOverride = &strict
	event, err = d.Detect(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestDetectNegativeMoveFires(t *testing.T) {
	at := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	d, _ := newTestDetector(t, time.Now)

	event, err := d.Detect(context.Background(), tick("AAPL", 100, 96, 5, at))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.InDelta(t, -4.0, event.ChangePct, 1e-9)
}

func TestDetectDebounceEndToEnd(t *testing.T) {
	// baseline=100, current=104 fires; +2min at 103 is suppressed;
	// +6min at 90 fires again because the down direction is independent.
	start := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	now := start
	d, repo := newTestDetector(t, func() time.Time { return now })
	ctx := context.Background()

	event, err := d.Detect(ctx, tick("AAPL", 100, 104, 5, now))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.InDelta(t, 4.0, event.ChangePct, 1e-9)

	now = start.Add(2 * time.Minute)
	event, err = d.Detect(ctx, tick("AAPL", 100, 103, 5, now))
	require.NoError(t, err)
	assert.Nil(t, event, "same-direction move inside the window must be suppressed")

	now = start.Add(6 * time.Minute)
	event, err = d.Detect(ctx, tick("AAPL", 100, 90, 5, now))
	require.NoError(t, err)
	require.NotNil(t, event, "down move uses an independent debounce key")
	assert.InDelta(t, -10.0, event.ChangePct, 1e-9)

	assert.Len(t, repo.events, 2)
}

func TestDetectDebounceExpiry(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	now := start
	d, _ := newTestDetector(t, func() time.Time { return now })
	ctx := context.Background()

	event, err := d.Detect(ctx, tick("AAPL", 100, 104, 5, now))
	require.NoError(t, err)
	require.NotNil(t, event)

	now = start.Add(5*time.Minute + time.Second)
	event, err = d.Detect(ctx, tick("AAPL", 100, 104, 5, now))
	require.NoError(t, err)
	require.NotNil(t, event, "firing is allowed again once the window elapses")
}
