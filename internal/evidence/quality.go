package evidence

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tickwatch/tickwatch/internal/linkcheck"
)

// ExclusionReason is the closed set of quality gate rejection codes.
type ExclusionReason string

const (
	ReasonMissingSourceURL ExclusionReason = "missing_source_url"
	ReasonInvalidScheme    ExclusionReason = "invalid_scheme"
	ReasonMissingHost      ExclusionReason = "missing_host"
	ReasonDomainNotAllowed ExclusionReason = "domain_not_allowed"
	ReasonCheckTimeout     ExclusionReason = "link_check_timeout"
	ReasonUnresolvable     ExclusionReason = "link_unresolvable"
	ReasonCheckRateLimited ExclusionReason = "link_check_rate_limited"
	ReasonCheckFailed      ExclusionReason = "link_check_failed"
	ReasonInactiveLink     ExclusionReason = "inactive_link"
)

// Evidence collection status for an event.
const (
	StatusVerified   = "verified"
	StatusCollecting = "collecting_evidence"
)

// RetryAfterSeconds is the fixed retry hint surfaced upstream whenever at
// least one exclusion is retryable.
const RetryAfterSeconds = 300

// Exclusion is a rejected candidate with its reason code. Not an error:
// exclusions are first-class data for observability and retry scheduling.
type Exclusion struct {
	Candidate CanonicalCandidate `json:"candidate"`
	Reason    ExclusionReason    `json:"reason"`
	Retryable bool               `json:"retryable"`
}

// GateResult is the quality gate output for one event's candidates.
type GateResult struct {
	Accepted          []AcceptedCandidate `json:"accepted"`
	Excluded          []Exclusion         `json:"excluded"`
	ReasonStatus      string              `json:"reason_status"`
	RetryAfterSeconds *int                `json:"retry_after_seconds,omitempty"`
}

// LinkChecker probes a URL for liveness. An explicit false return with nil
// error means the link answered but is dead.
type LinkChecker interface {
	Check(ctx context.Context, rawURL string) (bool, error)
}

// QualityGateConfig contains the source trust allow-list
type QualityGateConfig struct {
	// AllowedDomains accepts a host exactly or any subdomain of it
	AllowedDomains []string `yaml:"allowed_domains"`
}

// DefaultQualityGateConfig returns the production source allow-list.
func DefaultQualityGateConfig() *QualityGateConfig {
	return &QualityGateConfig{
		AllowedDomains: []string{
			"reuters.com",
			"bloomberg.com",
			"wsj.com",
			"ft.com",
			"cnbc.com",
			"coindesk.com",
			"sec.gov",
		},
	}
}

// QualityGate filters candidates by domain trust and link liveness.
type QualityGate struct {
	config  *QualityGateConfig
	checker LinkChecker // optional; nil skips liveness probing
	logger  zerolog.Logger
}

// NewQualityGate creates a gate. A nil config selects defaults; a nil
// checker disables liveness probing.
func NewQualityGate(config *QualityGateConfig, checker LinkChecker, logger zerolog.Logger) *QualityGate {
	if config == nil {
		config = DefaultQualityGateConfig()
	}
	return &QualityGate{config: config, checker: checker, logger: logger}
}

// Evaluate vets every candidate and splits them into accepted and excluded.
func (g *QualityGate) Evaluate(ctx context.Context, candidates []CanonicalCandidate) GateResult {
	result := GateResult{}

	for _, c := range candidates {
		if reason, retryable, excluded := g.vet(ctx, c); excluded {
			result.Excluded = append(result.Excluded, Exclusion{Candidate: c, Reason: reason, Retryable: retryable})
			g.logger.Debug().
				Str("source_url", c.SourceURL).
				Str("reason", string(reason)).
				Bool("retryable", retryable).
				Msg("evidence candidate excluded")
			continue
		}
		result.Accepted = append(result.Accepted, c)
	}

	result.ReasonStatus = StatusCollecting
	if len(result.Accepted) > 0 {
		result.ReasonStatus = StatusVerified
	}
	for _, ex := range result.Excluded {
		if ex.Retryable {
			retryAfter := RetryAfterSeconds
			result.RetryAfterSeconds = &retryAfter
			break
		}
	}

	return result
}

func (g *QualityGate) vet(ctx context.Context, c CanonicalCandidate) (ExclusionReason, bool, bool) {
	if c.SourceURL == "" {
		return ReasonMissingSourceURL, false, true
	}
	u, err := url.Parse(c.SourceURL)
	if err != nil {
		return ReasonMissingHost, false, true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ReasonInvalidScheme, false, true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ReasonMissingHost, false, true
	}
	if !g.domainAllowed(host) {
		return ReasonDomainNotAllowed, false, true
	}

	if g.checker != nil {
		active, err := g.checker.Check(ctx, c.SourceURL)
		if err != nil {
			kind := linkcheck.Classify(err)
			return reasonForKind(kind), kind.Retryable(), true
		}
		if !active {
			return ReasonInactiveLink, false, true
		}
	}

	return "", false, false
}

func (g *QualityGate) domainAllowed(host string) bool {
	for _, domain := range g.config.AllowedDomains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func reasonForKind(kind linkcheck.ErrorKind) ExclusionReason {
	switch kind {
	case linkcheck.KindTimeout:
		return ReasonCheckTimeout
	case linkcheck.KindUnresolvable:
		return ReasonUnresolvable
	case linkcheck.KindRateLimited:
		return ReasonCheckRateLimited
	default:
		return ReasonCheckFailed
	}
}
