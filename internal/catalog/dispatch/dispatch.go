// Package dispatch hands queued validation requests to an external worker
// when no local execution backend is usable.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Dispatcher notifies a worker that a request is queued. Only the request
// ID crosses the wire; the worker pulls everything else, secrets included,
// through the API.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID string) error
}

// HTTP posts the request ID to a configured worker endpoint.
type HTTP struct {
	client *http.Client
	url    string
}

// NewHTTP returns a dispatcher that posts to the given URL.
func NewHTTP(url string) *HTTP {
	return &HTTP{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    url,
	}
}

func (d *HTTP) Dispatch(ctx context.Context, requestID string) error {
	payload, err := json.Marshal(map[string]string{"request_id": requestID})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request %s: %w", requestID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch request %s: worker returned %d", requestID, resp.StatusCode)
	}
	return nil
}

// Log is the fallback dispatcher when no worker endpoint is configured:
// the request stays queued and an operator picks it up manually.
type Log struct{}

func (Log) Dispatch(_ context.Context, requestID string) error {
	log.Printf("validation request %s queued; no dispatch endpoint configured", requestID)
	return nil
}
