package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrorKind is the closed set of link-check failure classes. The pipeline
// pattern-matches on these instead of inspecting error text at call sites.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindUnresolvable ErrorKind = "unresolvable"
	KindRateLimited  ErrorKind = "rate_limited"
	KindFailed       ErrorKind = "failed"
)

// Retryable reports whether a retry later could plausibly succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindUnresolvable, KindRateLimited:
		return true
	default:
		return false
	}
}

// CheckError is a classified link-check failure.
type CheckError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("link check %s for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// Classify maps any error from a link checker onto an ErrorKind. Errors
// produced by this package carry their kind; foreign errors from injected
// checkers are classified here, once, so callers never sniff error text.
func Classify(err error) ErrorKind {
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnresolvable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return KindRateLimited
	}
	return KindFailed
}

// Config contains link checker tuning
type Config struct {
	Timeout           time.Duration `yaml:"timeout"`             // per-request budget
	RequestsPerSecond float64       `yaml:"requests_per_second"` // global probe rate
	UserAgent         string        `yaml:"user_agent"`
}

// DefaultConfig returns conservative probe settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           5 * time.Second,
		RequestsPerSecond: 4.0,
		UserAgent:         "tickwatch-linkcheck/1.0",
	}
}

// Checker probes evidence URLs for liveness. Requests run behind a rate
// limiter and a circuit breaker so one dead evidence host cannot stall the
// whole quality gate.
type Checker struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// New creates a checker with its own HTTP client.
func New(config Config, logger zerolog.Logger) *Checker {
	settings := gobreaker.Settings{
		Name:        "linkcheck",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Checker{
		client:  &http.Client{Timeout: config.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		config:  config,
		logger:  logger,
	}
}

// Check reports whether the URL answers with a live document. A false
// return with nil error means the link answered but is gone; classified
// errors mean the probe itself failed.
func (c *Checker) Check(ctx context.Context, rawURL string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, &CheckError{Kind: KindTimeout, URL: rawURL, Err: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.probe(ctx, rawURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, &CheckError{Kind: KindFailed, URL: rawURL, Err: err}
		}
		var ce *CheckError
		if errors.As(err, &ce) {
			return false, err
		}
		return false, &CheckError{Kind: Classify(err), URL: rawURL, Err: err}
	}
	return result.(bool), nil
}

func (c *Checker) probe(ctx context.Context, rawURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false, &CheckError{Kind: KindFailed, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, &CheckError{Kind: Classify(err), URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 400:
		return true, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, &CheckError{Kind: KindRateLimited, URL: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 500:
		// The host answered; the document is gone.
		return false, nil
	default:
		return false, &CheckError{Kind: KindFailed, URL: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
}
