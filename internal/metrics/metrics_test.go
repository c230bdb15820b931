package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.RequestsTotal == nil || r.RequestLatency == nil || r.FallbacksTotal == nil ||
		r.CacheHitsTotal == nil || r.ProviderState == nil {
		t.Fatal("expected all collectors initialized")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	if r.Handler() == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.ObserveRequest("chat", "openai", "success", 150.0)
	r.ObserveRequest("chat", "", "exhausted", 0)
	r.CountFallback("chat", "anthropic")
	r.CountCacheHit("embeddings")
	r.SetProviderState("openai", 0)

	// Gather metrics from the registry; this exercises the full collection path.
	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family after recording values")
	}

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	want := []string{
		"modelmux_requests_total",
		"modelmux_request_latency_ms",
		"modelmux_fallbacks_total",
		"modelmux_cache_hits_total",
		"modelmux_provider_state",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestFailedRequestsSkipLatencyHistogram(t *testing.T) {
	r := New()
	r.ObserveRequest("chat", "", "no_eligible_model", 0)

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "modelmux_request_latency_ms" && len(mf.GetMetric()) > 0 {
			t.Error("failed requests should not record latency observations")
		}
	}
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.ObserveRequest("chat", "openai", "success", 100)

	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
	_ = r1
}

func TestRegisteredMetricDescriptions(t *testing.T) {
	r := New()

	ch := make(chan *prometheus.Desc, 10)
	go func() {
		r.RequestsTotal.Describe(ch)
		r.RequestLatency.Describe(ch)
		r.FallbacksTotal.Describe(ch)
		r.CacheHitsTotal.Describe(ch)
		r.ProviderState.Describe(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	if count != 5 {
		t.Errorf("expected 5 metric descriptors, got %d", count)
	}
}
