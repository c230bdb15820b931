package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the Prometheus collectors exported at /metrics. It
// implements the routing engine's Recorder interface.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	FallbacksTotal *prometheus.CounterVec
	CacheHitsTotal *prometheus.CounterVec
	ProviderState  *prometheus.GaugeVec

	RateLimitedTotal prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_requests_total",
			Help: "Total requests routed through modelmux",
		}, []string{"task", "provider", "outcome"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelmux_request_latency_ms",
			Help:    "Provider dispatch latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"task", "provider"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_fallbacks_total",
			Help: "Requests that succeeded only after falling back",
		}, []string{"task", "provider"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_cache_hits_total",
			Help: "Requests served from the result cache",
		}, []string{"task"}),
		ProviderState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modelmux_provider_state",
			Help: "Provider health state (0=healthy, 1=degraded, 2=down)",
		}, []string{"provider"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelmux_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatency, m.FallbacksTotal, m.CacheHitsTotal, m.ProviderState, m.RateLimitedTotal)
	return m
}

// ObserveRequest records one terminal request outcome.
func (m *Registry) ObserveRequest(task, provider, outcome string, latencyMs float64) {
	m.RequestsTotal.WithLabelValues(task, provider, outcome).Inc()
	if outcome == "success" {
		m.RequestLatency.WithLabelValues(task, provider).Observe(latencyMs)
	}
}

// CountFallback records a request that needed at least one fallback.
func (m *Registry) CountFallback(task, provider string) {
	m.FallbacksTotal.WithLabelValues(task, provider).Inc()
}

// CountCacheHit records a cache-served request.
func (m *Registry) CountCacheHit(task string) {
	m.CacheHitsTotal.WithLabelValues(task).Inc()
}

// SetProviderState updates the health gauge for a provider.
func (m *Registry) SetProviderState(provider string, state float64) {
	m.ProviderState.WithLabelValues(provider).Set(state)
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
