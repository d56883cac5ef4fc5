// Package pusher is the producer-side client of the relay's push endpoint.
package pusher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one push.
const DefaultTimeout = 2 * time.Second

// request is the push body. The relay matches field names case-insensitively.
type request struct {
	Event   string `json:"Event"`
	Payload any    `json:"Payload"`
}

// Client posts events to a relay.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-push timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the push endpoint at url, e.g.
// http://localhost:6001/push-event.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "pusher")
	return c
}

// Push sends an event. Failures are logged at warn level and dropped.
func (c *Client) Push(ctx context.Context, event string, payload any) {
	if err := c.Send(ctx, event, payload); err != nil {
		c.logger.Warn("push failed", "event", event, "error", err)
	}
}

// Send is Push with the error returned.
func (c *Client) Send(ctx context.Context, event string, payload any) error {
	if event == "" {
		return errors.New("event name is required")
	}
	data, err := json.Marshal(request{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("relay returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.logger.Debug("event pushed", "event", event)
	return nil
}
