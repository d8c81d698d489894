package nodescan

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "nodescan"

// Metrics owns a private Prometheus registry with the NodeScan collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sourceAttempts    *prometheus.CounterVec
	sourceFailures    *prometheus.CounterVec
	syntheticServed   prometheus.Counter
	cacheLookups      *prometheus.CounterVec
	upstreamResponses *prometheus.CounterVec
	appResponses      *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sourceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resolver",
			Name:      "source_attempts_total",
			Help:      "Upstream source attempts per metric",
		}, []string{"metric", "source"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resolver",
			Name:      "source_failures_total",
			Help:      "Upstream source failures per metric and reason",
		}, []string{"metric", "source", "reason"}),
		syntheticServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resolver",
			Name:      "synthetic_history_total",
			Help:      "Stake histories served from the synthetic generator",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		upstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upstream",
			Name:      "http_responses_total",
			Help:      "Upstream HTTP responses by host and status code",
		}, []string{"host", "code"}),
		appResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "http_responses_total",
			Help:      "API responses by status code",
		}, []string{"code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sourceAttempts,
		m.sourceFailures,
		m.syntheticServed,
		m.cacheLookups,
		m.upstreamResponses,
		m.appResponses,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) sourceAttempt(metric, source string) {
	if m == nil {
		return
	}
	m.sourceAttempts.WithLabelValues(metric, source).Inc()
}

func (m *Metrics) sourceFailure(metric, source, reason string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(metric, source, reason).Inc()
}

func (m *Metrics) syntheticHistory() {
	if m == nil {
		return
	}
	m.syntheticServed.Inc()
}

func (m *Metrics) cacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) upstreamResponse(host string, code int) {
	if m == nil {
		return
	}
	m.upstreamResponses.WithLabelValues(host, strconv.Itoa(code)).Inc()
}

func (m *Metrics) appResponse(code int) {
	if m == nil {
		return
	}
	m.appResponses.WithLabelValues(strconv.Itoa(code)).Inc()
}
