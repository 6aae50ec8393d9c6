package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwatch/tickwatch/internal/persistence"
)

// WebhookDispatcher POSTs approved notifications to a single endpoint as
// JSON. Delivery is best effort: the caller has already recorded the send.
type WebhookDispatcher struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewWebhookDispatcher(url string, timeout time.Duration, logger zerolog.Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// webhookBody is the wire shape delivered to the endpoint.
type webhookBody struct {
	Event   persistence.PriceEvent     `json:"event"`
	Delta   DeltaPayload               `json:"delta"`
	Reasons []persistence.RankedReason `json:"reasons"`
	SentAt  time.Time                  `json:"sent_at"`
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, event persistence.PriceEvent, payload DeltaPayload, reasons []persistence.RankedReason) error {
	body, err := json.Marshal(webhookBody{
		Event:   event,
		Delta:   payload,
		Reasons: reasons,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook for event %s: %w", event.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook for event %s rejected with status %d", event.ID, resp.StatusCode)
	}

	d.logger.Debug().
		Str("event_id", event.ID).
		Int("status", resp.StatusCode).
		Msg("webhook delivered")
	return nil
}
