package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker checks target health via an HTTP GET.
type HTTPChecker struct {
	url     string // full URL, e.g. "http://localhost:3000/"
	timeout time.Duration
}

// NewHTTPChecker creates an HTTP health checker for url.
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{url: url, timeout: timeout}
}

// Check issues a GET and reports success for 2xx/3xx responses.
func (c *HTTPChecker) Check(ctx context.Context) error {
	client := &http.Client{Timeout: c.timeout}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
}
