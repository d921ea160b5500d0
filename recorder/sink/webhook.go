package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Webhook POSTs each event as JSON. Network errors, 429 and 5xx answers
// are retried with doubling backoff; other 4xx answers are final.
type Webhook struct {
	url        string
	client     *http.Client
	headers    http.Header
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the number of retries after the first attempt.
// Default 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay. Default 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookHeader adds a header to every request, for example an
// Authorization token.
func WithWebhookHeader(key, value string) WebhookOption {
	return func(w *Webhook) { w.headers.Add(key, value) }
}

// NewWebhook creates a Webhook posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		headers:    make(http.Header),
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

var errPermanent = errors.New("permanent")

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: encode %s: %w", ev.Type, err)
	}

	var last error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		last = w.post(ctx, ev, body)
		if last == nil {
			return nil
		}
		if errors.Is(last, errPermanent) {
			return fmt.Errorf("webhook: %s: %w", ev.Type, last)
		}
		w.logger.Warn("webhook: attempt failed", "attempt", attempt+1, "type", ev.Type, "error", last)
	}
	return fmt.Errorf("webhook: %s: giving up after %d attempts: %w", ev.Type, w.maxRetries+1, last)
}

func (w *Webhook) post(ctx context.Context, ev Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	for k, vs := range w.headers {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sessrec-Event", ev.Type)
	if ev.SessionID != "" {
		req.Header.Set("X-Sessrec-Session", ev.SessionID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
