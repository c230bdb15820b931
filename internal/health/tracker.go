// Package health tracks runtime provider health. The routing engine skips
// providers the tracker reports unavailable, so a flapping provider stops
// eating fallback attempts until its cooldown passes.
package health

import (
	"sync"
	"time"

	"github.com/relayforge/modelmux/internal/events"
)

// State represents the health state of a provider.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// ProviderHealth captures runtime health metrics for a single provider.
type ProviderHealth struct {
	Provider      string    `json:"provider"`
	State         State     `json:"state"`
	TotalRequests int64     `json:"total_requests"`
	TotalErrors   int64     `json:"total_errors"`
	ConsecErrors  int       `json:"consec_errors"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// TrackerConfig configures the health tracker thresholds.
type TrackerConfig struct {
	// ConsecErrorsForDegraded: consecutive errors before degraded state.
	ConsecErrorsForDegraded int
	// ConsecErrorsForDown: consecutive errors before down state.
	ConsecErrorsForDown int
	// CooldownDuration: how long a down provider stays out of rotation.
	CooldownDuration time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ConsecErrorsForDegraded: 2,
		ConsecErrorsForDown:     5,
		CooldownDuration:        30 * time.Second,
	}
}

// Tracker tracks runtime health of all providers. It implements the routing
// engine's HealthChecker interface.
type Tracker struct {
	cfg      TrackerConfig
	bus      *events.Bus
	onUpdate func(provider string, state State)

	mu    sync.RWMutex
	stats map[string]*ProviderHealth
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithEventBus publishes health state transitions as health_change events.
func WithEventBus(bus *events.Bus) TrackerOption {
	return func(t *Tracker) {
		t.bus = bus
	}
}

// WithOnUpdate registers a callback invoked on every RecordSuccess and
// RecordError call, not just state transitions. Use this to keep external
// gauges current.
func WithOnUpdate(fn func(provider string, state State)) TrackerOption {
	return func(t *Tracker) {
		t.onUpdate = fn
	}
}

// NewTracker creates a health tracker with the given config.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:   cfg,
		stats: make(map[string]*ProviderHealth),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordSuccess records a successful request to a provider. Any success
// restores the provider to healthy and clears its cooldown.
func (t *Tracker) RecordSuccess(provider string, latencyMs float64) {
	t.mu.Lock()

	s := t.getOrCreate(provider)
	oldState := s.State

	s.TotalRequests++
	s.ConsecErrors = 0
	s.LastSuccessAt = time.Now()
	s.State = StateHealthy
	s.CooldownUntil = time.Time{}

	// Exponentially weighted running average.
	if s.TotalRequests == 1 {
		s.AvgLatencyMs = latencyMs
	} else {
		s.AvgLatencyMs = s.AvgLatencyMs*0.9 + latencyMs*0.1
	}

	newState := s.State
	t.mu.Unlock()

	t.notify(provider, oldState, newState, "success recorded")
}

// RecordError records a failed request to a provider.
func (t *Tracker) RecordError(provider string, errMsg string) {
	t.mu.Lock()

	s := t.getOrCreate(provider)
	oldState := s.State

	s.TotalRequests++
	s.TotalErrors++
	s.ConsecErrors++
	s.LastError = errMsg
	s.LastErrorTime = time.Now()

	if s.ConsecErrors >= t.cfg.ConsecErrorsForDown {
		s.State = StateDown
		s.CooldownUntil = time.Now().Add(t.cfg.CooldownDuration)
	} else if s.ConsecErrors >= t.cfg.ConsecErrorsForDegraded {
		s.State = StateDegraded
	}

	newState := s.State
	t.mu.Unlock()

	t.notify(provider, oldState, newState, errMsg)
}

func (t *Tracker) notify(provider string, oldState, newState State, msg string) {
	if t.onUpdate != nil {
		t.onUpdate(provider, newState)
	}
	if oldState != newState && t.bus != nil {
		t.bus.Publish(events.Event{
			Type:     events.EventHealthChange,
			Provider: provider,
			OldState: string(oldState),
			NewState: string(newState),
			ErrorMsg: msg,
		})
	}
}

// IsAvailable reports whether a provider should receive requests. Unknown
// providers are assumed available; degraded providers still get traffic.
func (t *Tracker) IsAvailable(provider string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[provider]
	if !ok {
		return true
	}
	if s.State == StateDown && time.Now().Before(s.CooldownUntil) {
		return false
	}
	return true
}

// Get returns a copy of the health stats for a provider.
func (t *Tracker) Get(provider string) *ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[provider]
	if !ok {
		return &ProviderHealth{Provider: provider, State: StateHealthy}
	}
	cp := *s
	return &cp
}

// All returns a copy of health stats for all known providers.
func (t *Tracker) All() []ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ProviderHealth, 0, len(t.stats))
	for _, s := range t.stats {
		result = append(result, *s)
	}
	return result
}

func (t *Tracker) getOrCreate(provider string) *ProviderHealth {
	s, ok := t.stats[provider]
	if !ok {
		s = &ProviderHealth{Provider: provider, State: StateHealthy}
		t.stats[provider] = s
	}
	return s
}
