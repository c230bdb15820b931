package stats

import (
	"sort"
	"sync"
	"time"
)

// Sample is a single data point recorded for a routed request.
type Sample struct {
	Timestamp  time.Time
	TaskFamily string
	Provider   string
	ModelID    string
	LatencyMs  float64
	Fallbacks  int
	CacheHit   bool
	Success    bool
}

// Window defines a named time window for aggregation.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows returns the standard set of rolling windows.
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Duration: time.Minute},
		{Name: "5m", Duration: 5 * time.Minute},
		{Name: "1h", Duration: time.Hour},
		{Name: "24h", Duration: 24 * time.Hour},
	}
}

// Aggregate holds computed stats for one time window and grouping key.
type Aggregate struct {
	Window       string  `json:"window"`
	TaskFamily   string  `json:"task_family,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	RequestCount int     `json:"request_count"`
	ErrorCount   int     `json:"error_count"`
	ErrorRate    float64 `json:"error_rate"`
	CacheHits    int     `json:"cache_hits"`
	Fallbacks    int     `json:"fallbacks"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
}

// Collector maintains rolling samples for dashboard aggregation.
type Collector struct {
	mu      sync.RWMutex
	samples []Sample
	maxAge  time.Duration // oldest sample to keep
	windows []Window
}

// NewCollector creates a new rolling collector.
func NewCollector() *Collector {
	return &Collector{
		windows: DefaultWindows(),
		maxAge:  25 * time.Hour, // keep slightly more than largest window
	}
}

// Record adds a new sample.
func (c *Collector) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

// Seed bulk-loads historical samples (e.g. from the request log on startup)
// so the dashboard is not blank after a restart.
func (c *Collector) Seed(samples []Sample) {
	c.mu.Lock()
	c.samples = append(c.samples, samples...)
	c.mu.Unlock()
}

// Clear drops all recorded samples.
func (c *Collector) Clear() {
	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()
}

// pruneLocked removes expired samples. Caller must hold c.mu (write lock).
func (c *Collector) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(c.samples) && c.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = c.samples[i:]
	}
}

// samplesAfterPrune acquires a write lock, prunes expired samples, and
// returns a copy of the remaining data. Pruning and copying under one lock
// avoids the gap a separate Prune call would leave.
func (c *Collector) samplesAfterPrune() []Sample {
	cutoff := time.Now().Add(-c.maxAge)
	c.mu.Lock()
	c.pruneLocked(cutoff)
	cp := make([]Sample, len(c.samples))
	copy(cp, c.samples)
	c.mu.Unlock()
	return cp
}

// SummaryByFamily returns aggregated stats for all windows grouped by task
// family.
func (c *Collector) SummaryByFamily() map[string][]Aggregate {
	return c.summary(func(s Sample) string { return s.TaskFamily }, func(a *Aggregate, key string) {
		a.TaskFamily = key
	})
}

// SummaryByProvider returns aggregated stats for all windows grouped by
// provider.
func (c *Collector) SummaryByProvider() map[string][]Aggregate {
	return c.summary(func(s Sample) string { return s.Provider }, func(a *Aggregate, key string) {
		a.Provider = key
	})
}

func (c *Collector) summary(keyOf func(Sample) string, setKey func(*Aggregate, string)) map[string][]Aggregate {
	samples := c.samplesAfterPrune()

	now := time.Now()
	result := make(map[string][]Aggregate)

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)

		byKey := make(map[string][]Sample)
		for _, s := range samples {
			if s.Timestamp.After(cutoff) {
				byKey[keyOf(s)] = append(byKey[keyOf(s)], s)
			}
		}

		for key, snaps := range byKey {
			a := computeAggregate(w.Name, snaps)
			setKey(&a, key)
			result[w.Name] = append(result[w.Name], a)
		}
	}

	return result
}

// Global returns aggregate stats across all families and providers.
func (c *Collector) Global() []Aggregate {
	samples := c.samplesAfterPrune()

	now := time.Now()
	var result []Aggregate

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)
		var snaps []Sample
		for _, s := range samples {
			if s.Timestamp.After(cutoff) {
				snaps = append(snaps, s)
			}
		}
		if len(snaps) > 0 {
			result = append(result, computeAggregate(w.Name, snaps))
		}
	}

	return result
}

// SampleCount returns the total number of stored samples.
func (c *Collector) SampleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

func computeAggregate(window string, snaps []Sample) Aggregate {
	a := Aggregate{
		Window:       window,
		RequestCount: len(snaps),
	}

	var totalLatency float64
	latencies := make([]float64, 0, len(snaps))

	for _, s := range snaps {
		a.Fallbacks += s.Fallbacks
		if s.CacheHit {
			a.CacheHits++
			continue // cache hits carry no provider latency
		}
		totalLatency += s.LatencyMs
		latencies = append(latencies, s.LatencyMs)
		if !s.Success {
			a.ErrorCount++
		}
	}

	if a.RequestCount > 0 {
		a.ErrorRate = float64(a.ErrorCount) / float64(a.RequestCount)
	}
	if len(latencies) > 0 {
		a.AvgLatencyMs = totalLatency / float64(len(latencies))
	}

	sort.Float64s(latencies)
	if len(latencies) > 0 {
		idx := int(float64(len(latencies)) * 0.95)
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		a.P95LatencyMs = latencies[idx]
	}

	return a
}
