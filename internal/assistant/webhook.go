package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultSessionID is sent when a request carries no session ID.
	DefaultSessionID = "1"

	// DefaultWebhookTimeout bounds one webhook exchange.
	DefaultWebhookTimeout = 30 * time.Second

	// maxReplyBytes caps the webhook response body.
	maxReplyBytes = 1 << 20
)

// DefaultReplyFields are the reply paths consulted in order.
var DefaultReplyFields = []string{"output", "message"}

// Webhook posts chat messages to an HTTP endpoint.
type Webhook struct {
	url         string
	replyFields []string
	httpClient  *http.Client
}

var _ Assistant = (*Webhook)(nil)

// WebhookOption is a functional option for [Webhook].
type WebhookOption func(*Webhook)

// WithReplyFields sets the gjson paths read from the response, in order.
// The first non-empty value is the reply.
func WithReplyFields(paths ...string) WebhookOption {
	return func(w *Webhook) {
		if len(paths) > 0 {
			w.replyFields = paths
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.httpClient = c
	}
}

// NewWebhook creates a [Webhook] posting to url.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("assistant: webhook url must not be empty")
	}
	w := &Webhook{
		url:         url,
		replyFields: DefaultReplyFields,
		httpClient:  &http.Client{Timeout: DefaultWebhookTimeout},
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

type webhookRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Reply posts req and extracts the reply text. A 2xx JSON response without
// any configured reply field yields [NoResponse].
func (w *Webhook) Reply(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyMessage
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	payload, err := json.Marshal(webhookRequest{Message: req.Text, SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("assistant: webhook: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("assistant: webhook: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("assistant: webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("assistant: webhook: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("assistant: webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("assistant: webhook: response is not valid JSON")
	}
	return extractReply(body, w.replyFields), nil
}

// extractReply returns the first non-empty value among paths.
func extractReply(body []byte, paths []string) string {
	for _, r := range gjson.GetManyBytes(body, paths...) {
		if !r.Exists() || r.Type == gjson.Null || r.Type == gjson.False {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return NoResponse
}
