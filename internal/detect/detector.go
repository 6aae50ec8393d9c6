package detect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// ValidationError rejects malformed tick input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DetectorConfig contains move thresholds and the market catalog
type DetectorConfig struct {
	// Default move thresholds in percent by window length in minutes
	Thresholds map[int]float64 `yaml:"thresholds"`

	// Markets maps recognized market codes to their exchange timezones
	Markets map[string]string `yaml:"markets"`
}

// DefaultDetectorConfig returns production thresholds: 3% on the 5-minute
// window, 5% on the daily window.
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		Thresholds: map[int]float64{
			5:    3.0,
			1440: 5.0,
		},
		Markets: map[string]string{
			"us":     "America/New_York",
			"kr":     "Asia/Seoul",
			"crypto": "UTC",
		},
	}
}

// TickInput is a single observed price tick for a watched symbol.
type TickInput struct {
	Symbol            string
	Market            string
	BaselinePrice     float64
	CurrentPrice      float64
	WindowMinutes     int
	DetectedAt        time.Time
	SessionLabel      string
	ThresholdOverride *float64 // per-user threshold, percent
}

// Detector decides whether a tick crosses the move threshold and, after
// the debounce gate clears it, persists the resulting event.
type Detector struct {
	config *DetectorConfig
	gate   *DebounceGate
	events persistence.EventRepo
	logger zerolog.Logger
}

// NewDetector creates a detector. A nil config selects defaults.
func NewDetector(config *DetectorConfig, gate *DebounceGate, events persistence.EventRepo, logger zerolog.Logger) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &Detector{
		config: config,
		gate:   gate,
		events: events,
		logger: logger,
	}
}

// Detect evaluates one tick. It returns (nil, nil) when the move is below
// threshold or debounced, the persisted event when a new one fires, and an
// error only for invalid input or a failed persist.
func (d *Detector) Detect(ctx context.Context, in TickInput) (*persistence.PriceEvent, error) {
	if in.Symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	tz, ok := d.config.Markets[in.Market]
	if !ok {
		return nil, &ValidationError{Field: "market", Reason: fmt.Sprintf("unrecognized market %q", in.Market)}
	}
	threshold, ok := d.effectiveThreshold(in)
	if !ok {
		return nil, &ValidationError{Field: "window_minutes", Reason: fmt.Sprintf("unsupported window %d", in.WindowMinutes)}
	}
	if in.BaselinePrice <= 0 {
		return nil, &ValidationError{Field: "baseline_price", Reason: "must be positive"}
	}

	changePct := (in.CurrentPrice - in.BaselinePrice) / in.BaselinePrice * 100.0
	if math.Abs(changePct) < threshold {
		return nil, nil
	}

	key := DebounceKey{
		Symbol:        in.Symbol,
		Market:        in.Market,
		WindowMinutes: in.WindowMinutes,
		Direction:     directionOf(changePct),
	}
	if !d.gate.Allow(ctx, key) {
		d.logger.Debug().
			Str("symbol", in.Symbol).
			Str("direction", string(key.Direction)).
			Int("window_minutes", in.WindowMinutes).
			Msg("move debounced")
		return nil, nil
	}

	event := persistence.PriceEvent{
		ID:               uuid.NewString(),
		Symbol:           in.Symbol,
		Market:           in.Market,
		ChangePct:        changePct,
		WindowMinutes:    in.WindowMinutes,
		DetectedAt:       in.DetectedAt.UTC(),
		ExchangeTimezone: tz,
		SessionLabel:     in.SessionLabel,
	}
	if err := d.events.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist price event: %w", err)
	}

	d.logger.Info().
		Str("event_id", event.ID).
		Str("symbol", event.Symbol).
		Float64("change_pct", event.ChangePct).
		Int("window_minutes", event.WindowMinutes).
		Msg("price event detected")

	return &event, nil
}

// effectiveThreshold resolves the per-user override else the window default.
func (d *Detector) effectiveThreshold(in TickInput) (float64, bool) {
	def, ok := d.config.Thresholds[in.WindowMinutes]
	if !ok {
		return 0, false
	}
	if in.ThresholdOverride != nil {
		return *in.ThresholdOverride, true
	}
	return def, true
}

func directionOf(changePct float64) Direction {
	if changePct < 0 {
		return DirectionDown
	}
	return DirectionUp
}
