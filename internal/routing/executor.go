package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relayforge/modelmux/internal/events"
	"github.com/relayforge/modelmux/internal/registry"
)

// executeChain drives ordered attempts against the candidate chain. Each
// attempt gets its own deadline of cfg.Timeout (never cumulative across
// attempts). Candidates are attempted strictly in chain order, one at a
// time. Per-attempt provider failures are absorbed here; only the terminal
// outcome crosses the facade boundary.
//
// A caller cancellation aborts the chain immediately and is returned as the
// context error so the facade can skip telemetry for the request.
func (e *Engine) executeChain(ctx context.Context, family string, chain []registry.Entry, cfg registry.TaskConfig, c Constraints, input Input) (*Result, error) {
	maxAttempts := len(chain)
	if maxAttempts > cfg.MaxRetries+1 {
		maxAttempts = cfg.MaxRetries + 1
	}
	if c.DisableFallback {
		maxAttempts = 1
	}

	req := ProviderRequest{
		Task:         family,
		Input:        input,
		Temperature:  c.Temperature,
		MaxNewTokens: c.MaxNewTokens,
		SafetyFilter: c.RequireSafetyFilter,
	}
	return e.runAttempts(ctx, family, chain[:maxAttempts], cfg, req)
}

func (e *Engine) runAttempts(ctx context.Context, family string, chain []registry.Entry, cfg registry.TaskConfig, req ProviderRequest) (*Result, error) {
	var attempts []Attempt
	var lastErr error

	for i, entry := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.mu.RLock()
		adapter := e.adapters[entry.Provider]
		e.mu.RUnlock()

		slog.Info("dispatching candidate",
			slog.String("task", family),
			slog.String("provider", entry.Provider),
			slog.String("model", entry.ModelID),
			slog.Int("attempt", i),
			slog.Int("chain_len", len(chain)),
		)

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		start := time.Now()
		payload, err := adapter.Invoke(attemptCtx, entry.ModelID, req)
		latencyMs := time.Since(start).Milliseconds()
		timedOut := attemptCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if err == nil {
			attempts = append(attempts, Attempt{
				Provider: entry.Provider, ModelID: entry.ModelID,
				AttemptIndex: i, LatencyMs: latencyMs, OK: true,
			})
			if e.health != nil {
				e.health.RecordSuccess(entry.Provider, float64(latencyMs))
			}
			return &Result{
				TaskFamily:    family,
				Provider:      entry.Provider,
				ModelID:       entry.ModelID,
				Payload:       payload,
				LatencyMs:     latencyMs,
				AttemptIndex:  i,
				FallbacksUsed: i,
				Attempts:      attempts,
			}, nil
		}

		// Caller cancellation: no further candidates, no failure recorded.
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}

		class := classify(adapter, err, timedOut)
		attempts = append(attempts, Attempt{
			Provider: entry.Provider, ModelID: entry.ModelID,
			AttemptIndex: i, LatencyMs: latencyMs,
			ErrorClass: class, Error: err.Error(),
		})
		lastErr = err

		if e.health != nil {
			e.health.RecordError(entry.Provider, err.Error())
		}
		slog.Warn("candidate failed",
			slog.String("task", family),
			slog.String("provider", entry.Provider),
			slog.String("model", entry.ModelID),
			slog.String("class", string(class)),
			slog.String("error", err.Error()),
		)

		if i+1 < len(chain) && e.bus != nil {
			e.bus.Publish(events.Event{
				Type:       events.EventFallback,
				TaskFamily: family,
				Provider:   entry.Provider,
				ModelID:    entry.ModelID,
				ErrorClass: string(class),
			})
		}
	}

	exhausted := &ExhaustedError{Family: family, Attempts: len(attempts), LastErr: lastErr}
	return &Result{TaskFamily: family, Attempts: attempts, FallbacksUsed: len(attempts) - 1}, exhausted
}

// classify maps an attempt error to its routing class. A fired per-attempt
// deadline always classifies as timeout regardless of what the adapter
// reports.
func classify(adapter Adapter, err error, timedOut bool) ErrorClass {
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if ce := adapter.ClassifyError(err); ce != nil {
		return ce.Class
	}
	return ErrFatal
}
