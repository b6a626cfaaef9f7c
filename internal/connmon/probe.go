package connmon

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober performs one lightweight reachability check. Only success or
// failure matters, never the payload.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProbe checks reachability with a HEAD request against a fixed URL.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe builds a probe with a short timeout so a dead network fails
// fast instead of stalling the probe loop.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Probe issues the HEAD request. Any 2xx/3xx response counts as reachable.
func (p *HTTPProbe) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
