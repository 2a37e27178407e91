package resilience

import (
	"fmt"
	"net/http"
)

// Transport is an http.RoundTripper guarded by Breaker. Transport errors
// and 5xx responses count as failures; anything else is a success.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
}

// RoundTrip implements http.RoundTripper.
func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Breaker == nil {
		return base.RoundTrip(req)
	}
	ctx := req.Context()
	if !t.Breaker.Allow(ctx) {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, ErrOpenCircuit)
	}
	resp, err := base.RoundTrip(req)
	t.Breaker.Report(ctx, err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}
