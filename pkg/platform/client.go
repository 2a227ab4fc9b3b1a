package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultMaxBody caps how much of a response body GetText reads.
const DefaultMaxBody = 10 << 20

type HTTPClient struct {
	Client  *http.Client
	Retries int
	Timeout time.Duration
	MaxBody int64
	Logger  *slog.Logger

	// backoff returns the pause before retry attempt i (0-based)
	backoff func(i int) time.Duration
}

func NewHTTPClient(retries int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Retries: retries,
		Timeout: timeout,
		MaxBody: DefaultMaxBody,
		Logger:  slog.Default(),
		backoff: func(i int) time.Duration {
			return time.Duration(1<<i) * 200 * time.Millisecond // Exponential backoff
		},
	}
}

// StatusError is returned when the server answered with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// GetText fetches url and returns the body as a string. Network errors and
// 5xx responses are retried; 4xx responses fail immediately.
func (c *HTTPClient) GetText(ctx context.Context, url string) (string, error) {
	var lastErr error

	for i := 0; i <= c.Retries; i++ {
		body, retry, err := c.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}

		if i < c.Retries {
			c.logger().Warn("HTTP request failed, retrying", "url", url, "attempt", i+1, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pause(i)):
			}
		}
	}

	return "", fmt.Errorf("request failed after %d retries: %w", c.Retries, lastErr)
}

func (c *HTTPClient) getOnce(ctx context.Context, url string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", resp.StatusCode >= 500, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	limit := c.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", true, err
	}
	return string(data), false, nil
}

func (c *HTTPClient) pause(i int) time.Duration {
	if c.backoff == nil {
		return 0
	}
	return c.backoff(i)
}

func (c *HTTPClient) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
