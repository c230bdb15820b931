// Package routing implements the inference routing engine: constraint
// evaluation, ordered fallback execution, result caching, and telemetry,
// behind a single Route entry point.
package routing

import (
	"context"
	"sync"

	"github.com/relayforge/modelmux/internal/cache"
	"github.com/relayforge/modelmux/internal/events"
	"github.com/relayforge/modelmux/internal/registry"
	"github.com/relayforge/modelmux/internal/stats"
)

// Adapter is the interface provider adapters must implement for the engine.
// Defined here to avoid an import cycle with the providers package.
type Adapter interface {
	ID() string
	Invoke(ctx context.Context, modelID string, req ProviderRequest) (Payload, error)
	ClassifyError(err error) *ClassifiedError
}

// HealthChecker is an optional interface for provider health tracking.
// Defined here to avoid import cycles with the health package.
type HealthChecker interface {
	IsAvailable(providerID string) bool
	RecordSuccess(providerID string, latencyMs float64)
	RecordError(providerID string, errMsg string)
}

// Recorder is an optional interface for exporting per-request metrics.
// Defined here to avoid import cycles with the metrics package.
type Recorder interface {
	ObserveRequest(family, provider, outcome string, latencyMs float64)
	CountFallback(family, provider string)
	CountCacheHit(family string)
}

// Engine is the routing facade. All routed traffic flows through Route;
// admin surfaces read through the snapshot accessors.
type Engine struct {
	reg     *registry.Registry
	cache   *cache.Cache
	agg     *stats.Aggregator
	coll    *stats.Collector
	health  HealthChecker
	bus     *events.Bus
	metrics Recorder

	mu       sync.RWMutex
	adapters map[string]Adapter // provider_id -> adapter
}

// NewEngine creates an engine over the given registry, result cache, and
// telemetry sinks. Health tracking, events, and metrics are attached
// separately because they are optional in tests.
func NewEngine(reg *registry.Registry, c *cache.Cache, agg *stats.Aggregator, coll *stats.Collector) *Engine {
	return &Engine{
		reg:      reg,
		cache:    c,
		agg:      agg,
		coll:     coll,
		adapters: make(map[string]Adapter),
	}
}

// SetHealthChecker attaches a provider health tracker.
func (e *Engine) SetHealthChecker(h HealthChecker) {
	e.health = h
}

// SetEventBus attaches the routing event bus.
func (e *Engine) SetEventBus(b *events.Bus) {
	e.bus = b
}

// SetMetrics attaches a metrics recorder.
func (e *Engine) SetMetrics(m Recorder) {
	e.metrics = m
}

// RegisterAdapter registers a provider adapter.
func (e *Engine) RegisterAdapter(a Adapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[a.ID()] = a
}

// Adapter returns the registered adapter with the given ID, or nil.
func (e *Engine) Adapter(id string) Adapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapters[id]
}

// ListAdapterIDs returns the IDs of all registered adapters.
func (e *Engine) ListAdapterIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.adapters))
	for id := range e.adapters {
		ids = append(ids, id)
	}
	return ids
}

// Registry exposes the catalog for admin read paths.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// SwapRegistry publishes a new catalog snapshot. In-flight requests finish
// against the snapshot they started with.
func (e *Engine) SwapRegistry(snap *registry.Snapshot) error {
	if err := e.reg.Swap(snap); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:            events.EventRegistrySwap,
			RegistryVersion: e.reg.Current().Version,
		})
	}
	return nil
}

// Route resolves the task alias, consults the result cache, evaluates the
// candidate chain against the constraints, and executes the fallback chain.
// One call, one outcome: either a Result or one of the routing failure
// errors (UnknownTaskError, NoEligibleModelError, ExhaustedError).
//
// A caller cancellation returns the context error and leaves telemetry
// untouched. On exhaustion the returned Result is non-nil alongside the
// error so callers can surface the per-attempt log.
func (e *Engine) Route(ctx context.Context, task string, input Input, c Constraints) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// One snapshot per request; a concurrent Swap does not affect us.
	snap := e.reg.Current()
	family := snap.Normalize(task)
	cfg, ok := snap.Config(family)
	if !ok {
		if !c.DryRun {
			e.agg.RecordFailure(0)
		}
		return nil, &UnknownTaskError{Alias: task}
	}

	// Cache consult happens before chain evaluation so a hit short-circuits
	// even when every provider is down. Dry runs never touch the cache.
	var fp string
	if cfg.Cacheable && !c.DryRun {
		fp = cache.Fingerprint(family, input, cache.KeyFields{
			Multilingual: c.Multilingual,
			SafetyFilter: c.RequireSafetyFilter,
			Temperature:  c.Temperature,
			MaxNewTokens: c.MaxNewTokens,
		})
		if payload, hit := e.cache.Get(fp); hit {
			return e.serveCacheHit(family, payload), nil
		}
	}

	e.mu.RLock()
	chain := e.buildChain(snap, family, c)
	e.mu.RUnlock()

	if c.DryRun {
		res := &Result{TaskFamily: family}
		for _, entry := range chain {
			res.Candidates = append(res.Candidates, Candidate{
				Provider: entry.Provider,
				ModelID:  entry.ModelID,
				Tier:     entry.Tier,
			})
		}
		if len(chain) == 0 {
			return res, &NoEligibleModelError{Family: family}
		}
		return res, nil
	}

	if len(chain) == 0 {
		e.agg.RecordFailure(0)
		e.recordOutcome(family, "", "no_eligible_model", 0, 0, false)
		return nil, &NoEligibleModelError{Family: family}
	}

	res, err := e.executeChain(ctx, family, chain, cfg, c, input)
	if err != nil {
		if !IsRouteFailure(err) {
			// Caller cancellation: the request never completed, nothing to
			// record.
			return nil, err
		}
		// An exhausted chain still consumed its fallback transitions; the
		// aggregate counts them the same whether or not a candidate won.
		fallbacks := 0
		if res != nil {
			fallbacks = res.FallbacksUsed
		}
		e.agg.RecordFailure(fallbacks)
		e.recordOutcome(family, "", "exhausted", 0, fallbacks, false)
		if e.bus != nil {
			e.bus.Publish(events.Event{
				Type:       events.EventRouteError,
				TaskFamily: family,
				ErrorMsg:   err.Error(),
			})
		}
		return res, err
	}

	if cfg.Cacheable {
		e.cache.Put(fp, res.Payload, cfg.CacheTTL)
	}

	e.agg.RecordSuccess(res.LatencyMs, res.FallbacksUsed)
	if e.coll != nil {
		e.coll.Record(stats.Sample{
			TaskFamily: family,
			Provider:   res.Provider,
			ModelID:    res.ModelID,
			LatencyMs:  float64(res.LatencyMs),
			Fallbacks:  res.FallbacksUsed,
			Success:    true,
		})
	}
	if e.metrics != nil {
		e.metrics.ObserveRequest(family, res.Provider, "success", float64(res.LatencyMs))
		if res.FallbacksUsed > 0 {
			e.metrics.CountFallback(family, res.Provider)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:       events.EventRouteSuccess,
			TaskFamily: family,
			Provider:   res.Provider,
			ModelID:    res.ModelID,
			LatencyMs:  float64(res.LatencyMs),
			Fallbacks:  res.FallbacksUsed,
		})
	}
	return res, nil
}

func (e *Engine) serveCacheHit(family string, payload Payload) *Result {
	e.agg.RecordCacheHit()
	if e.coll != nil {
		e.coll.Record(stats.Sample{
			TaskFamily: family,
			CacheHit:   true,
			Success:    true,
		})
	}
	if e.metrics != nil {
		e.metrics.CountCacheHit(family)
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventCacheHit, TaskFamily: family})
	}
	return &Result{
		TaskFamily: family,
		Payload:    payload,
		CacheHit:   true,
	}
}

func (e *Engine) recordOutcome(family, provider, outcome string, latencyMs float64, fallbacks int, success bool) {
	if e.coll != nil && !success {
		e.coll.Record(stats.Sample{
			TaskFamily: family,
			Provider:   provider,
			Fallbacks:  fallbacks,
			Success:    false,
		})
	}
	if e.metrics != nil {
		e.metrics.ObserveRequest(family, provider, outcome, latencyMs)
	}
}

// EngineStats is the combined telemetry view served by the admin API.
type EngineStats struct {
	stats.Snapshot
	Cache           cache.Stats `json:"cache"`
	RegistryVersion int64       `json:"registry_version"`
}

// StatsSnapshot returns the lifetime counters plus cache state.
func (e *Engine) StatsSnapshot() EngineStats {
	return EngineStats{
		Snapshot:        e.agg.Snapshot(),
		Cache:           e.cache.Snapshot(),
		RegistryVersion: e.reg.Current().Version,
	}
}

// ClearCaches resets the result cache and all telemetry counters together so
// observed hit rates always refer to the current cache contents.
func (e *Engine) ClearCaches() {
	e.cache.Clear()
	e.agg.Clear()
	if e.coll != nil {
		e.coll.Clear()
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventCacheClear})
	}
}
