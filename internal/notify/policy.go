package notify

import (
	"math"
	"time"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// Policy decision reason codes.
const (
	ReasonCooldownActive      = "cooldown_active"
	ReasonPolicyDataMissing   = "policy_data_missing"
	ReasonPolicyMissing       = "policy_missing"
	ReasonConfidenceDelta     = "confidence_delta"
	ReasonSourceAdded         = "source_added"
	ReasonSourceRemoved       = "source_removed"
	ReasonDeltaBelowThreshold = "delta_below_threshold"
	ReasonSnapshotConflict    = "snapshot_conflict"
)

// PolicyConfig contains the notification thresholds and cooldown
type PolicyConfig struct {
	MinConfidenceDelta float64 `yaml:"min_confidence_delta"`
	MinAddedSources    int     `yaml:"min_added_sources"`
	MinRemovedSources  int     `yaml:"min_removed_sources"`
	CooldownMinutes    int     `yaml:"cooldown_minutes"`
}

// DefaultPolicyConfig returns the production notification policy.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinConfidenceDelta: 0.15,
		MinAddedSources:    1,
		MinRemovedSources:  2,
		CooldownMinutes:    30,
	}
}

// valid rejects configurations that cannot be evaluated safely. A broken
// deployment config resolves to "do not send", never to a raised error.
func (c PolicyConfig) valid() bool {
	if math.IsNaN(c.MinConfidenceDelta) || math.IsInf(c.MinConfidenceDelta, 0) || c.MinConfidenceDelta < 0 {
		return false
	}
	if c.MinAddedSources < 0 || c.MinRemovedSources < 0 {
		return false
	}
	return c.CooldownMinutes > 0
}

// DeltaPayload is the delta shape the policy validates. Nil lists or a
// nil delta mean the payload was malformed upstream.
type DeltaPayload struct {
	AddedSources    []string `json:"added_sources"`
	RemovedSources  []string `json:"removed_sources"`
	ConfidenceDelta *float64 `json:"confidence_delta"`
}

// PayloadFromDelta adapts an engine result for policy evaluation.
func PayloadFromDelta(delta DeltaResult) DeltaPayload {
	cd := delta.ConfidenceDelta
	added := delta.AddedSources
	if added == nil {
		added = []string{}
	}
	removed := delta.RemovedSources
	if removed == nil {
		removed = []string{}
	}
	return DeltaPayload{AddedSources: added, RemovedSources: removed, ConfidenceDelta: &cd}
}

// PolicyDecision is the send/suppress verdict with its reason code. On a
// send, CooldownUntil is the new cooldown for the caller to persist.
type PolicyDecision struct {
	ShouldSend    bool       `json:"should_send"`
	ReasonCode    string     `json:"reason_code"`
	HistoryOnly   bool       `json:"history_only"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// EvaluatePolicy turns a delta into a send/suppress decision. Cooldown is
// checked first and dominates everything; threshold checks run in priority
// order confidence_delta > source_added > source_removed, all inclusive.
func EvaluatePolicy(payload DeltaPayload, cooldown *persistence.CooldownState, now time.Time, config PolicyConfig) PolicyDecision {
	if !config.valid() {
		return PolicyDecision{ShouldSend: false, ReasonCode: ReasonPolicyMissing}
	}

	if cooldownActive(cooldown, now, config) {
		return PolicyDecision{ShouldSend: false, ReasonCode: ReasonCooldownActive, HistoryOnly: true}
	}

	if payload.AddedSources == nil || payload.RemovedSources == nil || payload.ConfidenceDelta == nil {
		return PolicyDecision{ShouldSend: false, ReasonCode: ReasonPolicyDataMissing}
	}

	var matched string
	switch {
	case *payload.ConfidenceDelta >= config.MinConfidenceDelta:
		matched = ReasonConfidenceDelta
	case len(payload.AddedSources) >= config.MinAddedSources:
		matched = ReasonSourceAdded
	case len(payload.RemovedSources) >= config.MinRemovedSources:
		matched = ReasonSourceRemoved
	default:
		return PolicyDecision{ShouldSend: false, ReasonCode: ReasonDeltaBelowThreshold}
	}

	next := now.Add(time.Duration(config.CooldownMinutes) * time.Minute).UTC()
	return PolicyDecision{ShouldSend: true, ReasonCode: matched, CooldownUntil: &next}
}

// cooldownActive resolves the cooldown boundary: an explicit
// cooldown_until wins, else last_sent_at plus the configured cooldown.
func cooldownActive(state *persistence.CooldownState, now time.Time, config PolicyConfig) bool {
	if state == nil {
		return false
	}
	var until time.Time
	switch {
	case state.CooldownUntil != nil:
		until = *state.CooldownUntil
	case state.LastSentAt != nil:
		until = state.LastSentAt.Add(time.Duration(config.CooldownMinutes) * time.Minute)
	default:
		return false
	}
	return now.Before(until)
}
