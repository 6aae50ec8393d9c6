package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name       string
	candidates []RawEvidenceCandidate
	err        error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(context.Context, string, TimeRange) ([]RawEvidenceCandidate, error) {
	return a.candidates, a.err
}

func TestFetchAllPartialFailure(t *testing.T) {
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	adapters := []SourceAdapter{
		&stubAdapter{name: "newswire", candidates: []RawEvidenceCandidate{rawCandidate("https://reuters.com/a", "A", at)}},
		&stubAdapter{name: "filings", err: RetryableFetchError(errors.New("upstream 503"))},
		&stubAdapter{name: "social", err: errors.New("bad credentials")},
		&stubAdapter{name: "research", candidates: []RawEvidenceCandidate{rawCandidate("https://reuters.com/b", "B", at)}},
	}

	candidates, failures := FetchAll(context.Background(), adapters, "AAPL", TimeRange{From: at.Add(-24 * time.Hour), To: at}, zerolog.Nop())

	require.Len(t, candidates, 2, "healthy adapters still contribute")
	require.Len(t, failures, 2)

	assert.Equal(t, "filings", failures[0].Source)
	assert.True(t, failures[0].Retryable)
	assert.Equal(t, "social", failures[1].Source)
	assert.False(t, failures[1].Retryable)
}

func TestFetchAllNoAdapters(t *testing.T) {
	candidates, failures := FetchAll(context.Background(), nil, "AAPL", TimeRange{}, zerolog.Nop())
	assert.Empty(t, candidates)
	assert.Empty(t, failures)
}
