// Package stats tracks request-level telemetry: lifetime counters for the
// routing facade plus rolling windows for the admin dashboard.
package stats

import "sync/atomic"

// Aggregator maintains lifetime counters for routed requests. All fields are
// updated atomically so the hot path never takes a lock.
type Aggregator struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	fallbacksUsed      atomic.Int64
	cacheHits          atomic.Int64

	// Latency is tracked as a sum/count pair over dispatched requests only;
	// cache hits contribute no latency.
	latencySumMs   atomic.Int64
	latencySamples atomic.Int64
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecordSuccess records a dispatched request that produced a result.
// fallbacks is the number of candidates consumed before the winner.
func (a *Aggregator) RecordSuccess(latencyMs int64, fallbacks int) {
	a.totalRequests.Add(1)
	a.successfulRequests.Add(1)
	a.fallbacksUsed.Add(int64(fallbacks))
	a.latencySumMs.Add(latencyMs)
	a.latencySamples.Add(1)
}

// RecordFailure records a request that ended in a routing failure.
// fallbacks is the number of transitions past the first candidate before
// the chain gave up; an exhausted chain still contributes its fallbacks.
// Failed requests contribute no latency samples.
func (a *Aggregator) RecordFailure(fallbacks int) {
	a.totalRequests.Add(1)
	a.fallbacksUsed.Add(int64(fallbacks))
}

// RecordCacheHit records a request served from the result cache. Cache hits
// count as successful requests but contribute no latency.
func (a *Aggregator) RecordCacheHit() {
	a.totalRequests.Add(1)
	a.successfulRequests.Add(1)
	a.cacheHits.Add(1)
}

// Snapshot is a point-in-time view of the lifetime counters.
type Snapshot struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FallbacksUsed      int64   `json:"fallbacks_used"`
	CacheHits          int64   `json:"cache_hits"`
	SuccessRate        float64 `json:"success_rate"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// Snapshot reads the counters. Success is read before total so a concurrent
// writer can never make successful exceed total in the returned view.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		SuccessfulRequests: a.successfulRequests.Load(),
		TotalRequests:      a.totalRequests.Load(),
		FallbacksUsed:      a.fallbacksUsed.Load(),
		CacheHits:          a.cacheHits.Load(),
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	}
	if n := a.latencySamples.Load(); n > 0 {
		s.AverageLatencyMs = float64(a.latencySumMs.Load()) / float64(n)
	}
	return s
}

// Clear resets every counter to zero.
func (a *Aggregator) Clear() {
	a.totalRequests.Store(0)
	a.successfulRequests.Store(0)
	a.fallbacksUsed.Store(0)
	a.cacheHits.Store(0)
	a.latencySumMs.Store(0)
	a.latencySamples.Store(0)
}
