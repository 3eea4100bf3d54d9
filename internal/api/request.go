package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"marketlink/internal/limit"
)

// APIError represents an error response from the venue API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue api error %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status indicates overload or a transient
// server failure, making a retry safe for idempotent calls.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// doRequest performs one HTTP request, acquiring a rate limiter slot first.
// The acquire wait is bounded by the client timeout so a saturated limiter
// cannot hold a caller past the time the request itself would be allowed.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if c.limiter != nil {
		var err error
		if timeout := c.httpClient.Timeout; timeout > 0 {
			err = c.limiter.AcquireTimeout(ctx, timeout)
		} else {
			err = c.limiter.Acquire(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return respBody, nil
}

// doWithRetry performs an idempotent request with backoff per the retry
// policy. Non-transient errors fail immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		body, err := c.doRequest(ctx, method, path, query, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !c.policy.ShouldRetry(attempt, err) {
			if limit.Transient(err) {
				return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
			}
			return nil, err
		}

		c.logger.Debug("retrying request",
			"attempt", attempt,
			"path", path,
			"error", err,
		)
		if err := c.policy.Wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
