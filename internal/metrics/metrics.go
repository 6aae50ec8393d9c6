package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for the alerting pipeline
type Registry struct {
	// Detection
	TicksProcessed *prometheus.CounterVec // result: event|suppressed|invalid

	// Evidence
	SourceFetchFailures *prometheus.CounterVec // source, retryable
	CandidatesMerged    prometheus.Counter
	GateExclusions      *prometheus.CounterVec // reason

	// Ranking
	ReasonsRanked   prometheus.Counter
	FallbackReasons prometheus.Counter

	// Notification
	PolicyDecisions   *prometheus.CounterVec // decision: send|suppress, reason_code
	SnapshotConflicts prometheus.Counter

	// Pipeline
	StageDuration *prometheus.HistogramVec // stage
}

// NewRegistry creates all pipeline metrics and registers them with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		TicksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_ticks_processed_total",
				Help: "Ticks processed by detection outcome",
			},
			[]string{"result"},
		),
		SourceFetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_source_fetch_failures_total",
				Help: "Evidence adapter failures by source",
			},
			[]string{"source", "retryable"},
		),
		CandidatesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tickwatch_candidates_merged_total",
				Help: "Raw candidates collapsed into an existing canonical group",
			},
		),
		GateExclusions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_gate_exclusions_total",
				Help: "Quality gate exclusions by reason code",
			},
			[]string{"reason"},
		),
		ReasonsRanked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tickwatch_reasons_ranked_total",
				Help: "Ranked reasons persisted",
			},
		),
		FallbackReasons: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tickwatch_fallback_reasons_total",
				Help: "Events that produced only the synthetic fallback reason",
			},
		),
		PolicyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_policy_decisions_total",
				Help: "Notification policy decisions by outcome and reason code",
			},
			[]string{"decision", "reason_code"},
		),
		SnapshotConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tickwatch_snapshot_conflicts_total",
				Help: "Delta snapshot compare-and-swap conflicts (lost races)",
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickwatch_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"stage"},
		),
	}

	reg.MustRegister(
		r.TicksProcessed,
		r.SourceFetchFailures,
		r.CandidatesMerged,
		r.GateExclusions,
		r.ReasonsRanked,
		r.FallbackReasons,
		r.PolicyDecisions,
		r.SnapshotConflicts,
		r.StageDuration,
	)

	return r
}
