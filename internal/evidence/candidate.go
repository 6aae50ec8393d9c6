package evidence

import (
	"time"
)

// RawEvidenceCandidate is what a source adapter hands us: one potential
// explanation for a price move. Read-only input to the pipeline; optional
// scores are nil when the source did not provide them.
type RawEvidenceCandidate struct {
	ReasonType        string     `json:"reason_type"`
	Title             string     `json:"title"`
	Summary           string     `json:"summary"`
	SourceURL         string     `json:"source_url"`
	PublishedAt       time.Time  `json:"published_at"`
	SourceReliability *float64   `json:"source_reliability,omitempty"`
	TopicMatchScore   *float64   `json:"topic_match_score,omitempty"`
	ConfidenceScore   *float64   `json:"confidence_score,omitempty"`
	Source            string     `json:"source"`
}

// CanonicalCandidate is a raw candidate plus its canonical identity keys.
// Built by the deduplicator; SourceVariants collects every raw URL that
// collapsed into this candidate, first-seen order.
type CanonicalCandidate struct {
	RawEvidenceCandidate

	CanonicalURL   string   `json:"canonical_source_url"`
	SourceHost     string   `json:"source_host"`
	TitleKey       string   `json:"title_key"`
	SourceVariants []string `json:"source_variants"`

	// parsed is false when the raw URL did not parse; such candidates
	// never merge with anything.
	parsed bool
}

// AcceptedCandidate is a canonical candidate that passed the quality gate.
type AcceptedCandidate = CanonicalCandidate
