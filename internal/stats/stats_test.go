package stats

import (
	"sync"
	"testing"
	"time"
)

func TestAggregatorCounters(t *testing.T) {
	a := NewAggregator()

	a.RecordSuccess(100, 0)
	a.RecordSuccess(200, 2)
	a.RecordFailure(0)
	a.RecordCacheHit()

	s := a.Snapshot()
	if s.TotalRequests != 4 {
		t.Errorf("total = %d, want 4", s.TotalRequests)
	}
	if s.SuccessfulRequests != 3 {
		t.Errorf("successful = %d, want 3", s.SuccessfulRequests)
	}
	if s.FallbacksUsed != 2 {
		t.Errorf("fallbacks = %d, want 2", s.FallbacksUsed)
	}
	if s.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", s.CacheHits)
	}
	if s.SuccessRate != 0.75 {
		t.Errorf("success rate = %.2f, want 0.75", s.SuccessRate)
	}
	// Latency averages dispatched requests only; the cache hit and the
	// failure contribute no samples.
	if s.AverageLatencyMs != 150 {
		t.Errorf("avg latency = %.1f, want 150", s.AverageLatencyMs)
	}
}

func TestAggregatorFailureCountsFallbacks(t *testing.T) {
	a := NewAggregator()

	// A three-attempt chain that never found a winner used two fallback
	// transitions; they count the same as on a successful route.
	a.RecordFailure(2)

	s := a.Snapshot()
	if s.TotalRequests != 1 {
		t.Errorf("total = %d, want 1", s.TotalRequests)
	}
	if s.SuccessfulRequests != 0 {
		t.Errorf("successful = %d, want 0", s.SuccessfulRequests)
	}
	if s.FallbacksUsed != 2 {
		t.Errorf("fallbacks = %d, want 2", s.FallbacksUsed)
	}
	if s.AverageLatencyMs != 0 {
		t.Errorf("avg latency = %.1f, want 0 (failures carry no latency)", s.AverageLatencyMs)
	}
}

func TestAggregatorClear(t *testing.T) {
	a := NewAggregator()
	a.RecordSuccess(100, 1)
	a.RecordCacheHit()
	a.Clear()

	s := a.Snapshot()
	if s.TotalRequests != 0 || s.SuccessfulRequests != 0 || s.CacheHits != 0 ||
		s.FallbacksUsed != 0 || s.AverageLatencyMs != 0 || s.SuccessRate != 0 {
		t.Errorf("snapshot after Clear = %+v, want all zeros", s)
	}
}

func TestAggregatorEmptySnapshot(t *testing.T) {
	s := NewAggregator().Snapshot()
	if s.SuccessRate != 0 || s.AverageLatencyMs != 0 {
		t.Errorf("empty snapshot should have zero rates, got %+v", s)
	}
}

func TestAggregatorConcurrent(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.RecordSuccess(10, 0)
				a.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := a.Snapshot()
	if s.TotalRequests != 800 || s.SuccessfulRequests != 800 {
		t.Errorf("got %d/%d, want 800/800", s.SuccessfulRequests, s.TotalRequests)
	}
}

func TestCollectorGlobal(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "openai", LatencyMs: 100, Success: true})
	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "anthropic", LatencyMs: 200, Success: true})

	global := c.Global()
	if len(global) == 0 {
		t.Fatal("expected global aggregates")
	}
	found := false
	for _, a := range global {
		if a.Window == "1m" {
			found = true
			if a.RequestCount != 2 {
				t.Errorf("expected 2 requests, got %d", a.RequestCount)
			}
			if a.AvgLatencyMs != 150 {
				t.Errorf("expected avg latency 150, got %.1f", a.AvgLatencyMs)
			}
		}
	}
	if !found {
		t.Error("expected 1m window in global stats")
	}
}

func TestCollectorSummaryByFamily(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "openai", LatencyMs: 100, Success: true})
	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "openai", LatencyMs: 200, Success: false})
	c.Record(Sample{Timestamp: now, TaskFamily: "embeddings", Provider: "openai", LatencyMs: 50, Success: true})

	summary := c.SummaryByFamily()
	oneMin, ok := summary["1m"]
	if !ok {
		t.Fatal("expected 1m window")
	}
	if len(oneMin) != 2 {
		t.Fatalf("expected 2 family groups, got %d", len(oneMin))
	}
	for _, a := range oneMin {
		if a.TaskFamily == "chat" {
			if a.RequestCount != 2 {
				t.Errorf("expected 2 chat requests, got %d", a.RequestCount)
			}
			if a.ErrorCount != 1 {
				t.Errorf("expected 1 chat error, got %d", a.ErrorCount)
			}
			if a.ErrorRate != 0.5 {
				t.Errorf("expected 0.5 error rate, got %.2f", a.ErrorRate)
			}
		}
	}
}

func TestCollectorSummaryByProvider(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "openai", LatencyMs: 100, Success: true})
	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "openai", LatencyMs: 200, Success: true})
	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "anthropic", LatencyMs: 50, Success: true})

	byProvider := c.SummaryByProvider()
	oneMin, ok := byProvider["1m"]
	if !ok {
		t.Fatal("expected 1m window")
	}
	if len(oneMin) != 2 {
		t.Fatalf("expected 2 provider groups, got %d", len(oneMin))
	}
}

func TestCollectorCacheHitsCarryNoLatency(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "openai", LatencyMs: 100, Success: true})
	c.Record(Sample{Timestamp: now, TaskFamily: "chat", CacheHit: true, Success: true})

	for _, a := range c.Global() {
		if a.Window == "1m" {
			if a.RequestCount != 2 {
				t.Errorf("expected 2 requests, got %d", a.RequestCount)
			}
			if a.CacheHits != 1 {
				t.Errorf("expected 1 cache hit, got %d", a.CacheHits)
			}
			if a.AvgLatencyMs != 100 {
				t.Errorf("avg latency = %.1f, want 100 (cache hit excluded)", a.AvgLatencyMs)
			}
		}
	}
}

func TestCollectorP95Latency(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	// 20 samples: 19 fast (10ms) + 1 slow (500ms).
	for i := 0; i < 19; i++ {
		c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "p1", LatencyMs: 10, Success: true})
	}
	c.Record(Sample{Timestamp: now, TaskFamily: "chat", Provider: "p1", LatencyMs: 500, Success: true})

	for _, a := range c.Global() {
		if a.Window == "1m" {
			if a.P95LatencyMs != 500 {
				t.Errorf("expected p95=500, got %.1f", a.P95LatencyMs)
			}
		}
	}
}

func TestCollectorClear(t *testing.T) {
	c := NewCollector()
	c.Record(Sample{Timestamp: time.Now(), TaskFamily: "chat", Success: true})
	c.Clear()
	if c.SampleCount() != 0 {
		t.Errorf("expected 0 samples after Clear, got %d", c.SampleCount())
	}
	if len(c.Global()) != 0 {
		t.Error("expected empty global after Clear")
	}
}
