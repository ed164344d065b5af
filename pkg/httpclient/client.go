// Package httpclient provides an outbound HTTP client with bounded retry
// for transient failures and rate limiting. Model provider calls go through
// it so that a single 429 or 503 does not fail an agent cycle.
package httpclient

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:     &http.Client{Timeout: 120 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do performs the request, retrying retryable status codes with exponential
// backoff. A Retry-After header, when present, overrides the computed delay.
// The request must carry GetBody so the body can be replayed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, &RetryableError{Message: "failed to recreate request body for retry", Err: bodyErr}
			}
			req.Body = body
		}

		resp, err = c.client.Do(req)
		if err != nil {
			// Transport errors (connection refused, context deadline) are
			// not retried here; the caller's cycle loop is the retry vehicle.
			return nil, err
		}

		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		if attempt == c.maxRetries {
			break
		}

		delay := c.delayFor(resp, attempt)
		slog.Debug("retrying HTTP request",
			"status", resp.StatusCode, "delay", delay, "attempt", attempt+1)
		drainAndClose(resp)
		time.Sleep(delay)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
		drainAndClose(resp)
	}
	return nil, &RetryableError{
		StatusCode: status,
		Message:    "max HTTP retries exceeded",
	}
}

func (c *Client) delayFor(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(ra); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
}

func drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
}
