// Package feed implements HTTP clients for the upstream market data feeds:
// the ticker snapshot, per-asset price history and the USD FX rate.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 0
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// maxBodySize caps upstream payloads; full-history responses are a few MB.
	maxBodySize = 32 << 20
)

// Client performs GET requests against upstream JSON endpoints.
// Failures are returned as *domain.Error tagged KindTransient or KindMalformed.
type Client struct {
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	userAgent   string
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for transient failures.
// The scheduler already reschedules failed assets, so the default is 0.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a new upstream HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		userAgent:   "portfolio-tracker/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getJSON fetches url and decodes the body into result.
// endpoint labels metrics and errors.
func (c *Client) getJSON(ctx context.Context, endpoint, url string, result interface{}) error {
	start := time.Now()
	body, err := c.get(ctx, endpoint, url)
	if err != nil {
		observability.RecordFeedRequest(endpoint, domain.KindOf(err).String(), time.Since(start).Seconds())
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		observability.RecordFeedRequest(endpoint, domain.KindMalformed.String(), time.Since(start).Seconds())
		return domain.Errorf(domain.KindMalformed, endpoint, "decode response: %w", err)
	}

	observability.RecordFeedRequest(endpoint, "", time.Since(start).Seconds())
	return nil
}

// get performs a GET with retries and exponential backoff.
func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.NewError(domain.KindTransient, endpoint, ctx.Err())
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, domain.Errorf(domain.KindMalformed, endpoint, "create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = errors.New("rate limited (429)")
			continue
		}

		// Other 4xx mean the request itself is wrong; retrying will not help.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, domain.Errorf(domain.KindMalformed, endpoint, "status %d: %s", resp.StatusCode, truncate(body, 200))
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
			continue
		}

		return body, nil
	}

	return nil, domain.NewError(domain.KindTransient, endpoint, lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
