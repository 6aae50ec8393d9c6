package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwatch/tickwatch/internal/detect"
	"github.com/tickwatch/tickwatch/internal/evidence"
	"github.com/tickwatch/tickwatch/internal/metrics"
	"github.com/tickwatch/tickwatch/internal/notify"
	"github.com/tickwatch/tickwatch/internal/persistence"
	"github.com/tickwatch/tickwatch/internal/rank"
)

// Dispatcher delivers an approved notification. Implementations own the
// channel (push, email, webhook); the pipeline only decides whether to call.
type Dispatcher interface {
	Dispatch(ctx context.Context, event persistence.PriceEvent, payload notify.DeltaPayload, reasons []persistence.RankedReason) error
}

// TickOutcome is everything one tick produced: nil Event when the move was
// suppressed, otherwise the ranked reasons and the notification decision.
type TickOutcome struct {
	Event             *persistence.PriceEvent   `json:"event,omitempty"`
	Reasons           []persistence.RankedReason `json:"reasons,omitempty"`
	ReasonStatus      string                    `json:"reason_status,omitempty"`
	RetryAfterSeconds *int                      `json:"retry_after_seconds,omitempty"`
	Decision          *notify.PolicyDecision    `json:"decision,omitempty"`
	Notified          bool                      `json:"notified"`
	FetchErrors       []evidence.SourceError    `json:"-"`
}

// Pipeline runs the full decision chain for a tick: detect, collect and
// dedupe evidence, gate it, rank reasons, compute the notification delta
// and apply policy. Each stage is pure or repo-backed; the pipeline owns
// ordering and metrics.
type Pipeline struct {
	detector   *detect.Detector
	adapters   []evidence.SourceAdapter
	dedup      *evidence.Deduplicator
	gate       *evidence.QualityGate
	ranker     *rank.Ranker
	repos      persistence.Repository
	dispatcher Dispatcher
	policy     notify.PolicyConfig
	metrics    *metrics.Registry
	logger     zerolog.Logger
	now        func() time.Time
}

// New wires a pipeline. dispatcher may be nil, in which case approved
// notifications are logged and recorded but not delivered anywhere.
func New(
	detector *detect.Detector,
	adapters []evidence.SourceAdapter,
	dedup *evidence.Deduplicator,
	gate *evidence.QualityGate,
	ranker *rank.Ranker,
	repos persistence.Repository,
	dispatcher Dispatcher,
	policy notify.PolicyConfig,
	reg *metrics.Registry,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		detector:   detector,
		adapters:   adapters,
		dedup:      dedup,
		gate:       gate,
		ranker:     ranker,
		repos:      repos,
		dispatcher: dispatcher,
		policy:     policy,
		metrics:    reg,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessTick runs one tick end to end. A suppressed or invalid tick
// returns early with a partial outcome; a detected event always runs the
// full chain so reasons are persisted even when no notification goes out.
func (p *Pipeline) ProcessTick(ctx context.Context, in detect.TickInput) (TickOutcome, error) {
	var out TickOutcome

	event, err := p.timedDetect(ctx, in)
	if err != nil {
		var ve *detect.ValidationError
		if errors.As(err, &ve) {
			p.metrics.TicksProcessed.WithLabelValues("invalid").Inc()
			return out, err
		}
		return out, fmt.Errorf("detect: %w", err)
	}
	if event == nil {
		p.metrics.TicksProcessed.WithLabelValues("suppressed").Inc()
		return out, nil
	}
	p.metrics.TicksProcessed.WithLabelValues("event").Inc()
	out.Event = event

	gateResult := p.collectEvidence(ctx, event, &out)
	out.ReasonStatus = gateResult.ReasonStatus
	out.RetryAfterSeconds = gateResult.RetryAfterSeconds

	reasons, err := p.timedRank(ctx, event, gateResult.Accepted)
	if err != nil {
		return out, fmt.Errorf("rank event %s: %w", event.ID, err)
	}
	out.Reasons = reasons
	p.metrics.ReasonsRanked.Add(float64(len(reasons)))
	if len(reasons) == 1 && reasons[0].ReasonType == rank.TypeFallback {
		p.metrics.FallbackReasons.Inc()
	}

	decision, notified, err := p.decideAndNotify(ctx, event, reasons)
	if err != nil {
		return out, err
	}
	out.Decision = decision
	out.Notified = notified
	return out, nil
}

func (p *Pipeline) timedDetect(ctx context.Context, in detect.TickInput) (*persistence.PriceEvent, error) {
	defer p.observe("detect")()
	return p.detector.Detect(ctx, in)
}

// collectEvidence fetches, dedupes and gates evidence for an event. Fetch
// failures degrade to partial evidence and are reported on the outcome.
func (p *Pipeline) collectEvidence(ctx context.Context, event *persistence.PriceEvent, out *TickOutcome) evidence.GateResult {
	window := evidence.TimeRange{
		From: event.DetectedAt.Add(-time.Duration(event.WindowMinutes) * time.Minute),
		To:   event.DetectedAt,
	}

	stop := p.observe("fetch")
	raw, fetchErrs := evidence.FetchAll(ctx, p.adapters, event.Symbol, window, p.logger)
	stop()
	out.FetchErrors = fetchErrs
	for _, fe := range fetchErrs {
		p.metrics.SourceFetchFailures.WithLabelValues(fe.Source, strconv.FormatBool(fe.Retryable)).Inc()
	}

	stop = p.observe("dedup")
	canonical := p.dedup.Dedup(raw)
	stop()
	if merged := len(raw) - len(canonical); merged > 0 {
		p.metrics.CandidatesMerged.Add(float64(merged))
	}

	stop = p.observe("gate")
	gateResult := p.gate.Evaluate(ctx, canonical)
	stop()
	for _, ex := range gateResult.Excluded {
		p.metrics.GateExclusions.WithLabelValues(string(ex.Reason)).Inc()
	}

	return gateResult
}

func (p *Pipeline) timedRank(ctx context.Context, event *persistence.PriceEvent, accepted []evidence.AcceptedCandidate) ([]persistence.RankedReason, error) {
	defer p.observe("rank")()
	return p.ranker.Rank(ctx, event.ID, event.DetectedAt, accepted)
}

// decideAndNotify computes the delta against the last notified snapshot,
// applies policy, and on approval claims the snapshot before dispatching.
// The compare-and-swap snapshot write is the serialization point: two
// workers racing on the same event resolve to exactly one send.
func (p *Pipeline) decideAndNotify(ctx context.Context, event *persistence.PriceEvent, reasons []persistence.RankedReason) (*notify.PolicyDecision, bool, error) {
	defer p.observe("notify")()
	now := p.now().UTC()

	prev, err := p.repos.Snapshots.Get(ctx, event.ID)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot for event %s: %w", event.ID, err)
	}
	delta := notify.ComputeDelta(event.ID, prev, reasons, now)
	payload := notify.PayloadFromDelta(delta)

	cooldown, err := p.repos.Cooldowns.Get(ctx, event.ID)
	if err != nil {
		return nil, false, fmt.Errorf("load cooldown for event %s: %w", event.ID, err)
	}
	decision := notify.EvaluatePolicy(payload, cooldown, now, p.policy)
	p.metrics.PolicyDecisions.WithLabelValues(decisionLabel(decision), decision.ReasonCode).Inc()

	if !decision.ShouldSend {
		p.logger.Debug().
			Str("event_id", event.ID).
			Str("reason_code", decision.ReasonCode).
			Msg("notification suppressed")
		return &decision, false, nil
	}

	snapshot := persistence.DeltaSnapshot{
		EventID:    event.ID,
		SourceURLs: notify.SourceURLs(reasons),
		Confidence: &delta.ConfidenceAfter,
		SnapshotAt: now,
	}
	if prev != nil {
		snapshot.Version = prev.Version
	}
	if err := p.repos.Snapshots.Save(ctx, snapshot); err != nil {
		if errors.Is(err, persistence.ErrSnapshotConflict) {
			p.metrics.SnapshotConflicts.Inc()
			p.logger.Warn().
				Str("event_id", event.ID).
				Msg("snapshot conflict, another worker notified first")
			lost := decision
			lost.ShouldSend = false
			lost.ReasonCode = notify.ReasonSnapshotConflict
			lost.CooldownUntil = nil
			return &lost, false, nil
		}
		return &decision, false, fmt.Errorf("save snapshot for event %s: %w", event.ID, err)
	}

	if err := p.repos.Cooldowns.Save(ctx, persistence.CooldownState{
		EventID:       event.ID,
		LastSentAt:    &now,
		CooldownUntil: decision.CooldownUntil,
	}); err != nil {
		return &decision, false, fmt.Errorf("save cooldown for event %s: %w", event.ID, err)
	}

	if p.dispatcher != nil {
		if err := p.dispatcher.Dispatch(ctx, *event, payload, reasons); err != nil {
			// The snapshot is already claimed: report the failure but do
			// not retry here, or a flaky channel could double-send.
			return &decision, false, fmt.Errorf("dispatch event %s: %w", event.ID, err)
		}
	}

	p.logger.Info().
		Str("event_id", event.ID).
		Str("reason_code", decision.ReasonCode).
		Float64("confidence_delta", delta.ConfidenceDelta).
		Int("added_sources", len(delta.AddedSources)).
		Msg("notification sent")
	return &decision, true, nil
}

func decisionLabel(d notify.PolicyDecision) string {
	if d.ShouldSend {
		return "send"
	}
	return "suppress"
}

func (p *Pipeline) observe(stage string) func() {
	start := time.Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
