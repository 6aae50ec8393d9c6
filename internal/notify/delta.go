package notify

import (
	"math"
	"time"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// Fallback reasons explaining why a delta degenerated.
const (
	FallbackMissingSnapshot     = "missing_previous_snapshot"
	FallbackConfidenceUnchanged = "confidence_unchanged"
)

// confidenceEpsilon separates a real confidence move from float noise.
const confidenceEpsilon = 1e-6

// DeltaResult compares newly ranked reasons against the last notified
// snapshot. Pure data; the engine never persists anything.
type DeltaResult struct {
	EventID          string    `json:"event_id"`
	AddedSources     []string  `json:"added_sources"`
	RemovedSources   []string  `json:"removed_sources"`
	ConfidenceBefore float64   `json:"confidence_before"`
	ConfidenceAfter  float64   `json:"confidence_after"`
	ConfidenceDelta  float64   `json:"confidence_delta"`
	HasChanges       bool      `json:"has_changes"`
	FallbackReason   string    `json:"fallback_reason,omitempty"`
	ComputedAt       time.Time `json:"computed_at"`
}

// ComputeDelta diffs the latest reasons against the previous snapshot.
// A missing or unusable previous snapshot forces the delta to zero but
// still reports added sources: that is informational bootstrapping, not a
// resend trigger by itself.
func ComputeDelta(eventID string, prev *persistence.DeltaSnapshot, reasons []persistence.RankedReason, now time.Time) DeltaResult {
	current := SourceURLs(reasons)
	previous := previousSourceURLs(prev)

	result := DeltaResult{
		EventID:        eventID,
		AddedSources:   difference(current, previous),
		RemovedSources: difference(previous, current),
		ComputedAt:     now.UTC(),
	}

	result.ConfidenceAfter = maxConfidence(reasons)

	if prev == nil || prev.Confidence == nil {
		result.FallbackReason = FallbackMissingSnapshot
		result.ConfidenceBefore = result.ConfidenceAfter
	} else {
		result.ConfidenceBefore = *prev.Confidence
	}

	result.ConfidenceDelta = round4(result.ConfidenceAfter - result.ConfidenceBefore)

	sourcesChanged := len(result.AddedSources) > 0 || len(result.RemovedSources) > 0
	result.HasChanges = sourcesChanged || math.Abs(result.ConfidenceDelta) > confidenceEpsilon

	if result.FallbackReason == "" && !result.HasChanges {
		result.FallbackReason = FallbackConfidenceUnchanged
	}

	return result
}

// SourceURLs collects the nonempty source URLs from a reason set, input
// order, de-duplicated. Snapshots persist exactly this set.
func SourceURLs(reasons []persistence.RankedReason) []string {
	var urls []string
	seen := map[string]bool{}
	for _, reason := range reasons {
		if reason.SourceURL == nil || *reason.SourceURL == "" {
			continue
		}
		if !seen[*reason.SourceURL] {
			seen[*reason.SourceURL] = true
			urls = append(urls, *reason.SourceURL)
		}
	}
	return urls
}

// previousSourceURLs reads the snapshot's recorded set, accepting either
// the flat url list or the legacy embedded-reason shape.
func previousSourceURLs(prev *persistence.DeltaSnapshot) []string {
	if prev == nil {
		return nil
	}
	if len(prev.SourceURLs) > 0 {
		return prev.SourceURLs
	}
	var urls []string
	for _, reason := range prev.Reasons {
		if reason.SourceURL != nil && *reason.SourceURL != "" {
			urls = append(urls, *reason.SourceURL)
		}
	}
	return urls
}

func maxConfidence(reasons []persistence.RankedReason) float64 {
	max := 0.0
	for _, reason := range reasons {
		if reason.Confidence > max {
			max = reason.Confidence
		}
	}
	return max
}

// difference returns a minus b, preserving a's order.
func difference(a, b []string) []string {
	inB := map[string]bool{}
	for _, v := range b {
		inB[v] = true
	}
	var out []string
	for _, v := range a {
		if !inB[v] {
			out = append(out, v)
		}
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
