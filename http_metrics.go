package nodescan

import (
	"net/http"
)

// metricsTransport records upstream HTTP response codes by host.
type metricsTransport struct {
	Base    http.RoundTripper
	Metrics *Metrics
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp != nil {
		t.Metrics.upstreamResponse(req.URL.Hostname(), resp.StatusCode)
	}
	return resp, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

// withResponseMetrics counts every API response by status code.
func withResponseMetrics(next http.Handler, metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		metrics.appResponse(status)
	})
}

// newUpstreamTransport stacks per-host rate limiting under response metrics.
func newUpstreamTransport(metrics *Metrics, limits map[string]HostLimit) http.RoundTripper {
	return &metricsTransport{
		Base: &RateLimitedTransport{
			ForHost: newHostLimiters(limits).ForHost,
			Base:    http.DefaultTransport,
		},
		Metrics: metrics,
	}
}
