package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	id "brokerguard/pkg/domain"
)

// WebhookSender posts deliveries as JSON to a single endpoint, retrying
// with a linearly growing pause.
type WebhookSender struct {
	url        string
	client     *http.Client
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

type WebhookOption func(*WebhookSender)

func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *WebhookSender) { w.client = c }
}

func WithRetries(n int, delay time.Duration) WebhookOption {
	return func(w *WebhookSender) {
		w.retries = n
		w.retryDelay = delay
	}
}

func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(w *WebhookSender) { w.logger = logger }
}

func NewWebhookSender(url string, opts ...WebhookOption) *WebhookSender {
	w := &WebhookSender{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		retries:    3,
		retryDelay: time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookEnvelope struct {
	Kind     string    `json:"kind"`
	SentAt   time.Time `json:"sent_at"`
	Delivery *Delivery `json:"delivery,omitempty"`
	BrokerID string    `json:"broker_id,omitempty"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
}

func (w *WebhookSender) SendAlert(ctx context.Context, d Delivery) error {
	return w.post(ctx, webhookEnvelope{Kind: "alert", SentAt: time.Now(), Delivery: &d, BrokerID: d.BrokerID})
}

func (w *WebhookSender) SendVerificationResult(ctx context.Context, brokerID id.BrokerID, outcome Outcome) error {
	return w.post(ctx, webhookEnvelope{Kind: "verification_result", SentAt: time.Now(), BrokerID: brokerID.String(), Outcome: &outcome})
}

func (w *WebhookSender) post(ctx context.Context, env webhookEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if lastErr = w.send(ctx, body); lastErr == nil {
			return nil
		}
		w.logger.WarnContext(ctx, "webhook send failed",
			"kind", env.Kind,
			"attempt", attempt+1,
			"error", lastErr,
		)
		if attempt == w.retries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt+1) * w.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("webhook send failed after %d attempts: %w", w.retries+1, lastErr)
}

func (w *WebhookSender) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
