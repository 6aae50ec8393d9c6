package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwatch/tickwatch/internal/cache"
	"github.com/tickwatch/tickwatch/internal/detect"
	"github.com/tickwatch/tickwatch/internal/evidence"
	"github.com/tickwatch/tickwatch/internal/metrics"
	"github.com/tickwatch/tickwatch/internal/notify"
	"github.com/tickwatch/tickwatch/internal/persistence"
	"github.com/tickwatch/tickwatch/internal/persistence/memory"
	"github.com/tickwatch/tickwatch/internal/rank"
)

type staticAdapter struct {
	name       string
	candidates []evidence.RawEvidenceCandidate
}

func (a staticAdapter) Name() string { return a.name }

func (a staticAdapter) Fetch(context.Context, string, evidence.TimeRange) ([]evidence.RawEvidenceCandidate, error) {
	return a.candidates, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	payloads []notify.DeltaPayload
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ persistence.PriceEvent, payload notify.DeltaPayload, _ []persistence.RankedReason) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	return nil
}

type conflictSnapshots struct{}

func (conflictSnapshots) Get(context.Context, string) (*persistence.DeltaSnapshot, error) {
	return nil, nil
}

func (conflictSnapshots) Save(context.Context, persistence.DeltaSnapshot) error {
	return persistence.ErrSnapshotConflict
}

type harness struct {
	pipeline   *Pipeline
	repos      persistence.Repository
	dispatcher *recordingDispatcher
	registry   *metrics.Registry
	clock      *time.Time
}

func newHarness(t *testing.T, adapters []evidence.SourceAdapter) *harness {
	t.Helper()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }

	repos := memory.NewStore().Repository()
	dispatcher := &recordingDispatcher{}
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	logger := zerolog.Nop()

	gate := detect.NewDebounceGate(cache.NewMemoryWithClock(nowFn), logger)
	detector := detect.NewDetector(detect.DefaultDetectorConfig(), gate, repos.Events, logger)
	p := New(
		detector,
		adapters,
		evidence.NewDeduplicator(300*time.Second),
		evidence.NewQualityGate(evidence.DefaultQualityGateConfig(), nil, logger),
		rank.NewRanker(repos.Reasons, logger),
		repos,
		dispatcher,
		notify.DefaultPolicyConfig(),
		reg,
		logger,
	)
	p.now = nowFn

	return &harness{pipeline: p, repos: repos, dispatcher: dispatcher, registry: reg, clock: clock}
}

func (h *harness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

func newsCandidate(url string, publishedAt time.Time) evidence.RawEvidenceCandidate {
	reliability := 0.9
	topic := 0.8
	return evidence.RawEvidenceCandidate{
		ReasonType:        "news",
		Title:             "Exchange outage sparks selloff",
		Summary:           "A major venue halted withdrawals.",
		SourceURL:         url,
		PublishedAt:       publishedAt,
		SourceReliability: &reliability,
		TopicMatchScore:   &topic,
		Source:            "newswire",
	}
}

func TestProcessTickDetectNotifyDebounce(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	h := newHarness(t, []evidence.SourceAdapter{
		staticAdapter{name: "newswire", candidates: []evidence.RawEvidenceCandidate{
			newsCandidate("https://www.reuters.com/markets/outage", start.Add(-10*time.Minute)),
		}},
	})
	ctx := context.Background()

	tick := detect.TickInput{
		Symbol:        "BTC",
		Market:        "crypto",
		BaselinePrice: 100,
		CurrentPrice:  104,
		WindowMinutes: 5,
		DetectedAt:    *h.clock,
	}
	out, err := h.pipeline.ProcessTick(ctx, tick)
	require.NoError(t, err)
	require.NotNil(t, out.Event)
	assert.InDelta(t, 4.0, out.Event.ChangePct, 1e-9)
	assert.Equal(t, evidence.StatusVerified, out.ReasonStatus)
	require.Len(t, out.Reasons, 1)
	assert.Equal(t, "news", out.Reasons[0].ReasonType)
	require.NotNil(t, out.Decision)
	assert.True(t, out.Notified)
	assert.Equal(t, notify.ReasonSourceAdded, out.Decision.ReasonCode)
	require.Len(t, h.dispatcher.payloads, 1)

	snap, err := h.repos.Snapshots.Get(ctx, out.Event.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []string{"https://www.reuters.com/markets/outage"}, snap.SourceURLs)
	assert.Equal(t, int64(1), snap.Version)

	// Same direction two minutes later sits inside the debounce window.
	h.advance(2 * time.Minute)
	tick.CurrentPrice = 103
	tick.DetectedAt = *h.clock
	out, err = h.pipeline.ProcessTick(ctx, tick)
	require.NoError(t, err)
	assert.Nil(t, out.Event)
	assert.Len(t, h.dispatcher.payloads, 1)

	// Six minutes after that the drop to 90 is the opposite direction,
	// which debounces independently.
	h.advance(6 * time.Minute)
	tick.CurrentPrice = 90
	tick.DetectedAt = *h.clock
	out, err = h.pipeline.ProcessTick(ctx, tick)
	require.NoError(t, err)
	require.NotNil(t, out.Event)
	assert.InDelta(t, -10.0, out.Event.ChangePct, 1e-9)
	assert.True(t, out.Notified)
	assert.Len(t, h.dispatcher.payloads, 2)
}

func TestProcessTickMergesTrackingVariants(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	published := start.Add(-5 * time.Minute)
	h := newHarness(t, []evidence.SourceAdapter{
		staticAdapter{name: "newswire", candidates: []evidence.RawEvidenceCandidate{
			newsCandidate("https://www.reuters.com/markets/outage", published),
			newsCandidate("https://www.reuters.com/markets/outage?utm_source=feed", published.Add(100*time.Second)),
		}},
	})

	out, err := h.pipeline.ProcessTick(context.Background(), detect.TickInput{
		Symbol:        "BTC",
		Market:        "crypto",
		BaselinePrice: 100,
		CurrentPrice:  104,
		WindowMinutes: 5,
		DetectedAt:    *h.clock,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Event)
	require.Len(t, out.Reasons, 1, "tracking-parameter variants must collapse")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.registry.CandidatesMerged))
}

func TestProcessTickNoEvidenceFallsBack(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.pipeline.ProcessTick(context.Background(), detect.TickInput{
		Symbol:        "BTC",
		Market:        "crypto",
		BaselinePrice: 100,
		CurrentPrice:  104,
		WindowMinutes: 5,
		DetectedAt:    *h.clock,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Event)
	assert.Equal(t, evidence.StatusCollecting, out.ReasonStatus)
	require.Len(t, out.Reasons, 1)
	assert.Equal(t, rank.TypeFallback, out.Reasons[0].ReasonType)
	assert.False(t, out.Notified)
	require.NotNil(t, out.Decision)
	assert.Equal(t, notify.ReasonDeltaBelowThreshold, out.Decision.ReasonCode)
}

func TestProcessTickInvalid(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.pipeline.ProcessTick(context.Background(), detect.TickInput{
		Symbol:        "BTC",
		Market:        "mars",
		BaselinePrice: 100,
		CurrentPrice:  104,
		WindowMinutes: 5,
		DetectedAt:    *h.clock,
	})
	var ve *detect.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "market", ve.Field)
}

func TestProcessTickSnapshotConflictSuppresses(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	h := newHarness(t, []evidence.SourceAdapter{
		staticAdapter{name: "newswire", candidates: []evidence.RawEvidenceCandidate{
			newsCandidate("https://www.reuters.com/markets/outage", start.Add(-time.Minute)),
		}},
	})
	h.pipeline.repos.Snapshots = conflictSnapshots{}

	out, err := h.pipeline.ProcessTick(context.Background(), detect.TickInput{
		Symbol:        "BTC",
		Market:        "crypto",
		BaselinePrice: 100,
		CurrentPrice:  104,
		WindowMinutes: 5,
		DetectedAt:    *h.clock,
	})
	require.NoError(t, err, "losing the snapshot race is not an error")
	require.NotNil(t, out.Decision)
	assert.False(t, out.Notified)
	assert.Equal(t, notify.ReasonSnapshotConflict, out.Decision.ReasonCode)
	assert.Empty(t, h.dispatcher.payloads, "the losing worker must not dispatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.registry.SnapshotConflicts))
}
