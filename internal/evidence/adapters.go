package evidence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TimeRange bounds an evidence search around a detection.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// SourceAdapter fetches evidence candidates for a symbol from one external
// source. Each concrete source is its own type implementing this.
type SourceAdapter interface {
	// Name identifies the adapter in logs and fetch errors
	Name() string

	// Fetch returns candidates for the symbol within the window
	Fetch(ctx context.Context, symbol string, window TimeRange) ([]RawEvidenceCandidate, error)
}

// SourceError is one adapter's classified failure. Collected, never fatal:
// partial evidence is acceptable.
type SourceError struct {
	Source    string
	Retryable bool
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s fetch failed (retryable=%t): %v", e.Source, e.Retryable, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// RetryableFetchError wraps an adapter error that is worth retrying, so
// the collector can classify it without inspecting text.
func RetryableFetchError(err error) error {
	return &retryableError{err: err}
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// FetchAll queries every adapter independently and collects candidates and
// per-adapter failures. A failing adapter never aborts the others.
func FetchAll(ctx context.Context, adapters []SourceAdapter, symbol string, window TimeRange, logger zerolog.Logger) ([]RawEvidenceCandidate, []SourceError) {
	var candidates []RawEvidenceCandidate
	var failures []SourceError

	for _, adapter := range adapters {
		fetched, err := adapter.Fetch(ctx, symbol, window)
		if err != nil {
			retryable := isRetryable(err)
			failures = append(failures, SourceError{Source: adapter.Name(), Retryable: retryable, Err: err})
			logger.Warn().
				Err(err).
				Str("source", adapter.Name()).
				Str("symbol", symbol).
				Bool("retryable", retryable).
				Msg("evidence source fetch failed")
			continue
		}
		candidates = append(candidates, fetched...)
	}

	return candidates, failures
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
