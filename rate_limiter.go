package nodescan

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter blocks until a request may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// HostLimit is the request rate and burst allowed towards one upstream host.
type HostLimit struct {
	PerSecond float64
	Burst     int
}

// defaultHostLimits keeps NodeScan under the per-IP quotas of the public
// endpoints it talks to.
var defaultHostLimits = map[string]HostLimit{
	"api.mainnet-beta.solana.com": {PerSecond: 9, Burst: 9},
	"solana-rpc.publicnode.com":   {PerSecond: 9, Burst: 9},
	"solana.drpc.org":             {PerSecond: 9, Burst: 9},
	"api.stakewiz.com":            {PerSecond: 4, Burst: 4},
	"solscan.io":                  {PerSecond: 2, Burst: 2},
	"api.solana.fm":               {PerSecond: 4, Burst: 4},
}

// hostLimiters lazily builds one limiter per configured host.
type hostLimiters struct {
	limits map[string]HostLimit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiters(limits map[string]HostLimit) *hostLimiters {
	return &hostLimiters{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
	}
}

// ForHost returns the shared limiter of host, or nil when host is unlimited.
func (h *hostLimiters) ForHost(host string) Limiter {
	limit, ok := h.limits[host]
	if !ok || limit.PerSecond <= 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	limiter, ok := h.limiters[host]
	if !ok {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
		h.limiters[host] = limiter
	}
	return limiter
}

// RateLimitedTransport wraps a RoundTripper with a limiter. When Limiter is
// nil, ForHost picks one by request host; hosts without a limiter pass through.
type RateLimitedTransport struct {
	Limiter Limiter
	ForHost func(host string) Limiter
	Base    http.RoundTripper
}

// RoundTrip waits for the limiter before delegating to the base transport.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	limiter := t.Limiter
	if limiter == nil && t.ForHost != nil {
		limiter = t.ForHost(req.URL.Hostname())
	}
	if limiter != nil {
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return t.base().RoundTrip(req)
}

func (t *RateLimitedTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
