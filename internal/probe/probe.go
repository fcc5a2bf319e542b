// Package probe issues the HTTP status checks used to validate external URLs
// and to smoke test a freshly launched server.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultTimeout = 5 * time.Second

type Checker struct {
	client *http.Client
}

func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{client: &http.Client{Timeout: timeout}}
}

// StatusCode performs a GET against url and returns the response status. Any
// transport-level failure is returned as an error.
func (c *Checker) StatusCode(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request %s: %w", url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}
