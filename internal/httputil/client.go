// Package httputil provides HTTP helpers shared by the API handlers and by the
// outbound clients that talk to third-party services (image hosting, avatar
// lookup).
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Outbound Client
// =============================================================================

// Client is an HTTP client with a base URL and bounded retries for transient
// upstream failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	backoff    time.Duration
}

// ClientConfig configures the client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// NewClient creates a new outbound client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 200 * time.Millisecond
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// RequestFunc builds a fresh request for every attempt so bodies can be
// replayed on retry.
type RequestFunc func(ctx context.Context, url string) (*http.Request, error)

// Do executes the request built by build against baseURL+path, retrying on
// transport errors and 5xx responses.
func (c *Client) Do(ctx context.Context, path string, build RequestFunc) (*http.Response, error) {
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		req, err := build(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode >= 500 && attempt < c.maxRetries {
			resp.Body.Close()
			lastErr = fmt.Errorf("request failed with status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// ReadAllWithLimit reads at most limit bytes and reports whether the body was
// longer than that.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
