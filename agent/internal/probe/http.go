package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/presencewatch/presencewatch/agent/internal/config"
)

// maxDrain caps how much of a response body is read before closing it.
const maxDrain = 64 << 10

type httpProber struct {
	target config.Target
	client *http.Client
}

// Probe times one request until the response headers arrive. Any status
// code counts as an answer; it is recorded in Extra["http_status"].
func (p *httpProber) Probe(ctx context.Context) (*Sample, error) {
	method := p.target.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, p.target.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("probe %q: build request: %w", p.target.ID, err)
	}

	start := time.Now()
	s := newSample(p.target, start)
	resp, err := p.client.Do(req)
	if err != nil {
		return s.fail("http %s %q: %w", method, p.target.ID, err), nil
	}
	s.RTT = time.Since(start)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()

	s.Extra["http_status"] = float64(resp.StatusCode)
	return s, nil
}
