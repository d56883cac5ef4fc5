package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client provides access to the business backend's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	caller     *Caller
	callOpts   []CallOption
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. Every request runs through caller.
func NewClient(baseURL string, caller *Caller, opts ...ClientOption) *Client {
	if caller == nil {
		caller = NewCaller(DefaultRetryPolicy(), nil)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		caller: caller,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Caller returns the caller shared by the client's requests.
func (c *Client) Caller() *Caller {
	return c.caller
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallOptions applies opts to every request, before any per-request options.
func WithCallOptions(opts ...CallOption) ClientOption {
	return func(c *Client) {
		c.callOpts = append(c.callOpts, opts...)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
