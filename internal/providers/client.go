package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"brokerguard/pkg/platform/circuit"
)

// JSONClient performs authenticated JSON calls against one provider, bounded
// by a per-call timeout and guarded by a circuit breaker. Every failure it
// returns is a *ProviderError.
type JSONClient struct {
	providerID string
	baseURL    string
	httpClient *http.Client
	tokens     *TokenSource
	breaker    *circuit.Breaker
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

type ClientOption func(*JSONClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(j *JSONClient) { j.httpClient = c }
}

func WithTokenSource(t *TokenSource) ClientOption {
	return func(j *JSONClient) { j.tokens = t }
}

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(j *JSONClient) { j.breaker = b }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(j *JSONClient) { j.timeout = d }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(j *JSONClient) { j.logger = l }
}

func WithMetrics(m *Metrics) ClientOption {
	return func(j *JSONClient) { j.metrics = m }
}

func NewJSONClient(providerID, baseURL string, opts ...ClientOption) *JSONClient {
	c := &JSONClient{
		providerID: providerID,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		timeout:    30 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuit.New(providerID)
	}
	return c
}

func (c *JSONClient) ProviderID() string { return c.providerID }

// Post sends in as JSON to path and decodes the response into out.
func (c *JSONClient) Post(ctx context.Context, path, scope string, in, out any) error {
	if !c.breaker.Allow() {
		c.metrics.IncCall(c.providerID, "circuit_open")
		return NewProviderError(ErrorProviderOutage, c.providerID, "circuit open", ErrCircuitOpen)
	}

	start := time.Now()
	err := c.do(ctx, path, scope, in, out)
	c.metrics.ObserveLatency(c.providerID, time.Since(start))

	if err != nil {
		if IsRetryable(err) {
			if _, change := c.breaker.RecordFailure(); change.Opened {
				c.logger.WarnContext(ctx, "provider circuit opened", "provider", c.providerID, "error", err)
			}
		}
		c.metrics.IncCall(c.providerID, string(GetCategory(err)))
		return err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "provider circuit closed", "provider", c.providerID)
	}
	c.metrics.IncCall(c.providerID, "ok")
	return nil
}

func (c *JSONClient) do(ctx context.Context, path, scope string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return NewProviderError(ErrorInternal, c.providerID, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return NewProviderError(ErrorInternal, c.providerID, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token(c.providerID, scope)
	if err != nil {
		return NewProviderError(ErrorAuthentication, c.providerID, "sign service token", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewProviderError(classifyTransport(err), c.providerID, "request failed", err)
	}
	defer resp.Body.Close()

	if category, failed := classifyStatus(resp.StatusCode); failed {
		return NewProviderError(category, c.providerID, resp.Status, nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewProviderError(classifyTransport(err), c.providerID, "read response", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewProviderError(ErrorBadData, c.providerID, "decode response", err)
	}
	return nil
}
