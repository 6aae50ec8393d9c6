package rank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tickwatch/tickwatch/internal/evidence"
	"github.com/tickwatch/tickwatch/internal/persistence"
)

// Fixed confidence weights. The explanation attached to every reason
// repeats these so a persisted record is auditable on its own.
const (
	WeightSourceReliability = 0.45
	WeightTopicMatch        = 0.35
	WeightTimeProximity     = 0.20
)

// MaxReasons is how many reasons survive ranking.
const MaxReasons = 3

// TypeFallback marks the synthetic reason emitted when no evidence
// candidate survived the quality gate.
const TypeFallback = "fallback"

// defaultSignal stands in for reliability and topic match when a source
// did not provide them.
const defaultSignal = 0.5

// proximityDecayMinutes is the linear time decay horizon: evidence 24h
// away from the detection contributes zero proximity.
const proximityDecayMinutes = 1440.0

// breakdownTolerance bounds the drift allowed between score_breakdown
// total and the weighted component sum.
const breakdownTolerance = 1e-4

// SchemaError rejects a malformed explanation at the storage boundary. A
// reason without valid weights/signals/score_breakdown is never persisted.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid explanation schema: %s", e.Field)
}

// ValidateExplanation enforces the explanation invariants: weights,
// signals and score_breakdown all present, score_breakdown carrying a
// total that matches the sum of its parts.
func ValidateExplanation(e persistence.ReasonExplanation) error {
	if e.Weights == nil {
		return &SchemaError{Field: "weights missing"}
	}
	if e.Signals == nil {
		return &SchemaError{Field: "signals missing"}
	}
	if e.ScoreBreakdown == nil {
		return &SchemaError{Field: "score_breakdown missing"}
	}
	total, ok := e.ScoreBreakdown["total"]
	if !ok {
		return &SchemaError{Field: "score_breakdown.total missing"}
	}
	sum := 0.0
	for key, v := range e.ScoreBreakdown {
		if key != "total" {
			sum += v
		}
	}
	if math.Abs(total-sum) > breakdownTolerance {
		return &SchemaError{Field: fmt.Sprintf("score_breakdown.total %.4f does not match component sum %.4f", total, sum)}
	}
	return nil
}

// Ranker scores accepted candidates, keeps the top ones with an auditable
// explanation, and replaces the persisted reason set for the event.
type Ranker struct {
	reasons persistence.ReasonRepo
	logger  zerolog.Logger
}

// NewRanker creates a ranker persisting through the given repository.
func NewRanker(reasons persistence.ReasonRepo, logger zerolog.Logger) *Ranker {
	return &Ranker{reasons: reasons, logger: logger}
}

// Rank scores the candidates, selects the top ranked reasons and persists
// them, replacing any prior set for the event. With zero candidates it
// emits exactly one fallback reason so the event always has a readable
// explanation state.
func (r *Ranker) Rank(ctx context.Context, eventID string, detectedAt time.Time, candidates []evidence.AcceptedCandidate) ([]persistence.RankedReason, error) {
	reasons := r.Score(eventID, detectedAt, candidates)

	for i := range reasons {
		if err := ValidateExplanation(reasons[i].Explanation); err != nil {
			return nil, fmt.Errorf("refusing to persist reason %d for event %s: %w", i+1, eventID, err)
		}
	}

	if err := r.reasons.ReplaceForEvent(ctx, eventID, reasons); err != nil {
		return nil, fmt.Errorf("failed to replace reasons for event %s: %w", eventID, err)
	}

	r.logger.Info().
		Str("event_id", eventID).
		Int("reasons", len(reasons)).
		Bool("fallback", len(candidates) == 0).
		Msg("reason set replaced")

	return reasons, nil
}

// Score is the pure ranking computation, exposed for callers that persist
// elsewhere.
func (r *Ranker) Score(eventID string, detectedAt time.Time, candidates []evidence.AcceptedCandidate) []persistence.RankedReason {
	if len(candidates) == 0 {
		return []persistence.RankedReason{fallbackReason(eventID)}
	}

	scored := make([]persistence.RankedReason, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, scoreCandidate(eventID, detectedAt, c))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return derefURL(scored[i].SourceURL) < derefURL(scored[j].SourceURL)
	})

	if len(scored) > MaxReasons {
		scored = scored[:MaxReasons]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored
}

func scoreCandidate(eventID string, detectedAt time.Time, c evidence.AcceptedCandidate) persistence.RankedReason {
	reliability := clamp01(orDefault(c.SourceReliability))
	topicMatch := clamp01(orDefault(c.TopicMatchScore))
	proximity := timeProximity(detectedAt, c.PublishedAt)

	partReliability := WeightSourceReliability * reliability
	partTopic := WeightTopicMatch * topicMatch
	partProximity := WeightTimeProximity * proximity
	total := round4(partReliability + partTopic + partProximity)

	summary := c.Summary
	if summary == "" {
		summary = c.Title
	}

	sourceURL := c.SourceURL
	publishedAt := c.PublishedAt

	return persistence.RankedReason{
		ID:          uuid.NewString(),
		EventID:     eventID,
		ReasonType:  c.ReasonType,
		Confidence:  total,
		Summary:     summary,
		SourceURL:   &sourceURL,
		PublishedAt: &publishedAt,
		Explanation: persistence.ReasonExplanation{
			Weights: map[string]float64{
				"source_reliability": WeightSourceReliability,
				"topic_match":        WeightTopicMatch,
				"time_proximity":     WeightTimeProximity,
			},
			Signals: map[string]float64{
				"source_reliability": round4(reliability),
				"topic_match":        round4(topicMatch),
				"time_proximity":     round4(proximity),
			},
			ScoreBreakdown: map[string]float64{
				"source_reliability": round4(partReliability),
				"topic_match":        round4(partTopic),
				"time_proximity":     round4(partProximity),
				"total":              total,
			},
		},
	}
}

// fallbackReason is the single synthetic reason emitted when nothing
// passed the gate. Its event stays in collecting_evidence status.
func fallbackReason(eventID string) persistence.RankedReason {
	return persistence.RankedReason{
		ID:         uuid.NewString(),
		EventID:    eventID,
		Rank:       1,
		ReasonType: TypeFallback,
		Confidence: 0.0,
		Summary:    "collecting evidence",
		Explanation: persistence.ReasonExplanation{
			Weights:        map[string]float64{},
			Signals:        map[string]float64{},
			ScoreBreakdown: map[string]float64{"total": 0.0},
		},
	}
}

// timeProximity decays linearly from 1 at the detection instant to 0 at
// 24 hours away in either direction. Evidence without a publish time
// contributes nothing.
func timeProximity(detectedAt, publishedAt time.Time) float64 {
	if publishedAt.IsZero() {
		return 0.0
	}
	minutes := math.Abs(detectedAt.Sub(publishedAt).Minutes())
	return clamp01(1.0 - minutes/proximityDecayMinutes)
}

func orDefault(v *float64) float64 {
	if v == nil {
		return defaultSignal
	}
	return *v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func derefURL(u *string) string {
	if u == nil {
		return ""
	}
	return *u
}
