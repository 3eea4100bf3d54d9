package api

import (
	"log/slog"
	"net/http"
	"time"

	"marketlink/internal/limit"
)

// Client provides access to the venue REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	limiter *limit.Limiter
	policy  limit.RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. Credentials are held for request
// signing only and never logged.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
		policy: limit.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLimiter sets the shared outbound rate limiter.
func WithLimiter(l *limit.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithRetryPolicy sets the retry policy for idempotent calls.
func WithRetryPolicy(p limit.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
