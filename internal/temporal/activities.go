package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/relayforge/modelmux/internal/events"
	"github.com/relayforge/modelmux/internal/health"
	"github.com/relayforge/modelmux/internal/metrics"
	"github.com/relayforge/modelmux/internal/routing"
	"github.com/relayforge/modelmux/internal/stats"
	"github.com/relayforge/modelmux/internal/store"
	"github.com/relayforge/modelmux/internal/tsdb"
)

// Activities holds dependencies for Temporal activity implementations.
type Activities struct {
	Engine     *routing.Engine
	Store      store.Store
	Health     *health.Tracker
	Metrics    *metrics.Registry
	EventBus   *events.Bus
	Aggregator *stats.Aggregator
	Collector  *stats.Collector
	TSDB       *tsdb.Store
}

// EvaluateChain resolves the task and builds the ranked candidate chain
// via a dry-run route, then derives the attempt budget from the task
// config.
func (a *Activities) EvaluateChain(ctx context.Context, input RouteInput) (ChainPlan, error) {
	c := input.Constraints
	c.DryRun = true
	res, err := a.Engine.Route(ctx, input.Task, routing.Input(input.Input), c)
	if err != nil {
		return ChainPlan{}, fmt.Errorf("evaluate chain: %w", err)
	}

	plan := ChainPlan{
		Family:      res.TaskFamily,
		Candidates:  res.Candidates,
		MaxAttempts: len(res.Candidates),
	}
	if cfg, ok := a.Engine.Registry().Current().Config(res.TaskFamily); ok {
		plan.AttemptTimeoutMs = cfg.Timeout.Milliseconds()
		if max := cfg.MaxRetries + 1; plan.MaxAttempts > max {
			plan.MaxAttempts = max
		}
	}
	if input.Constraints.DisableFallback && plan.MaxAttempts > 1 {
		plan.MaxAttempts = 1
	}
	return plan, nil
}

// InvokeModel calls a single provider adapter and records health.
func (a *Activities) InvokeModel(ctx context.Context, input InvokeInput) (InvokeOutput, error) {
	adapter := a.Engine.Adapter(input.Provider)
	if adapter == nil {
		return InvokeOutput{}, fmt.Errorf("no adapter for provider %q", input.Provider)
	}

	callCtx := ctx
	if input.TimeoutMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(input.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	activity.RecordHeartbeat(ctx, "invoking")
	payload, err := adapter.Invoke(callCtx, input.ModelID, input.Request)
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		if a.Health != nil {
			a.Health.RecordError(input.Provider, err.Error())
		}
		errClass := string(routing.ErrFatal)
		if callCtx.Err() != nil && ctx.Err() == nil {
			errClass = string(routing.ErrTimeout)
		} else if classified := adapter.ClassifyError(err); classified != nil {
			errClass = string(classified.Class)
		}
		return InvokeOutput{LatencyMs: latencyMs, ErrorClass: errClass}, err
	}

	if a.Health != nil {
		a.Health.RecordSuccess(input.Provider, float64(latencyMs))
	}
	return InvokeOutput{Payload: json.RawMessage(payload), LatencyMs: latencyMs}, nil
}

// RecordOutcome persists the routed request across the observability
// sinks: request log, aggregate stats, rolling windows, Prometheus,
// TSDB, and the event bus.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordInput) error {
	now := time.Now().UTC()

	if a.Store != nil {
		if err := a.Store.LogRequest(ctx, store.RequestLog{
			Timestamp:  now,
			TaskFamily: input.TaskFamily,
			Provider:   input.Provider,
			ModelID:    input.ModelID,
			LatencyMs:  input.LatencyMs,
			Fallbacks:  input.Fallbacks,
			Outcome:    input.Outcome,
			ErrorClass: input.ErrorClass,
			RequestID:  input.RequestID,
		}); err != nil {
			slog.Warn("log_request failed",
				slog.String("error", err.Error()),
				slog.String("request_id", input.RequestID))
		}
	}

	if a.Aggregator != nil {
		if input.Success {
			a.Aggregator.RecordSuccess(input.LatencyMs, input.Fallbacks)
		} else {
			a.Aggregator.RecordFailure(input.Fallbacks)
		}
	}

	if a.Collector != nil {
		a.Collector.Record(stats.Sample{
			Timestamp:  now,
			TaskFamily: input.TaskFamily,
			Provider:   input.Provider,
			ModelID:    input.ModelID,
			LatencyMs:  float64(input.LatencyMs),
			Fallbacks:  input.Fallbacks,
			Success:    input.Success,
		})
	}

	if a.Metrics != nil {
		a.Metrics.ObserveRequest(input.TaskFamily, input.Provider, input.Outcome, float64(input.LatencyMs))
		// At most one fallback count per request, and only for requests that
		// succeeded after falling back, matching the in-process route path.
		if input.Success && input.Fallbacks > 0 {
			a.Metrics.CountFallback(input.TaskFamily, input.Provider)
		}
	}

	if a.TSDB != nil && input.Success {
		a.TSDB.Write(tsdb.Point{Timestamp: now, Metric: "latency", TaskFamily: input.TaskFamily, Provider: input.Provider, Value: float64(input.LatencyMs)})
		a.TSDB.Write(tsdb.Point{Timestamp: now, Metric: "fallbacks", TaskFamily: input.TaskFamily, Provider: input.Provider, Value: float64(input.Fallbacks)})
	}

	if a.EventBus != nil {
		evType := events.EventRouteSuccess
		if !input.Success {
			evType = events.EventRouteError
		}
		a.EventBus.Publish(events.Event{
			Type:       evType,
			Timestamp:  now,
			TaskFamily: input.TaskFamily,
			Provider:   input.Provider,
			ModelID:    input.ModelID,
			LatencyMs:  float64(input.LatencyMs),
			Fallbacks:  input.Fallbacks,
			ErrorClass: input.ErrorClass,
		})
	}

	return nil
}
