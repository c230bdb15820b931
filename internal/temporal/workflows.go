// Package temporal provides a durable execution path for routing: the
// fallback chain runs as a Temporal workflow so attempts survive process
// restarts and remain visible in workflow history.
package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/relayforge/modelmux/internal/routing"
)

const (
	activityTimeout = 60 * time.Second
)

// RouteWorkflow is the durable equivalent of Engine.Route: evaluate the
// candidate chain, walk it attempt by attempt, and record the outcome.
// Cache consultation stays on the HTTP path; the workflow only runs for
// cache misses.
func RouteWorkflow(ctx workflow.Context, input RouteInput) (RouteOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // the chain walk is the retry logic
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	start := workflow.Now(ctx)

	var plan ChainPlan
	if err := workflow.ExecuteActivity(ctx, (*Activities).EvaluateChain, input).Get(ctx, &plan); err != nil {
		return RouteOutput{Error: err.Error()}, err
	}

	req := routing.ProviderRequest{
		Task:         plan.Family,
		Input:        routing.Input(input.Input),
		Temperature:  input.Constraints.Temperature,
		MaxNewTokens: input.Constraints.MaxNewTokens,
		SafetyFilter: input.Constraints.RequireSafetyFilter,
	}

	var out InvokeOutput
	var attempts []routing.Attempt
	winner := -1
	var lastErr error

	for i, cand := range plan.Candidates {
		if i >= plan.MaxAttempts {
			break
		}

		invokeErr := workflow.ExecuteActivity(ctx, (*Activities).InvokeModel, InvokeInput{
			Provider:  cand.Provider,
			ModelID:   cand.ModelID,
			Request:   req,
			TimeoutMs: plan.AttemptTimeoutMs,
		}).Get(ctx, &out)

		attempt := routing.Attempt{
			Provider:     cand.Provider,
			ModelID:      cand.ModelID,
			AttemptIndex: i,
			LatencyMs:    out.LatencyMs,
			OK:           invokeErr == nil,
			ErrorClass:   routing.ErrorClass(out.ErrorClass),
		}
		if invokeErr != nil {
			attempt.Error = invokeErr.Error()
			lastErr = invokeErr
		}
		attempts = append(attempts, attempt)

		if invokeErr == nil {
			winner = i
			break
		}
	}

	latencyMs := workflow.Now(ctx).Sub(start).Milliseconds()

	record := RecordInput{
		RequestID:  input.RequestID,
		TaskFamily: plan.Family,
		LatencyMs:  latencyMs,
		Success:    winner >= 0,
	}
	if winner >= 0 {
		record.Provider = plan.Candidates[winner].Provider
		record.ModelID = plan.Candidates[winner].ModelID
		record.Fallbacks = winner
		record.Outcome = "success"
	} else {
		// Fallbacks count transitions past the first candidate, so an
		// exhausted n-attempt chain used n-1, same as the in-process path.
		if len(attempts) > 0 {
			record.Fallbacks = len(attempts) - 1
		}
		record.Outcome = "exhausted"
		if len(attempts) > 0 {
			record.ErrorClass = string(attempts[len(attempts)-1].ErrorClass)
		}
	}
	_ = workflow.ExecuteActivity(ctx, (*Activities).RecordOutcome, record).Get(ctx, nil)

	if winner < 0 {
		err := fmt.Errorf("all %d candidates exhausted for %s", len(attempts), plan.Family)
		if lastErr != nil {
			err = fmt.Errorf("all %d candidates exhausted for %s: %s", len(attempts), plan.Family, lastErr.Error())
		}
		return RouteOutput{
			TaskFamily: plan.Family,
			LatencyMs:  latencyMs,
			Attempts:   attempts,
			Error:      err.Error(),
		}, err
	}

	return RouteOutput{
		TaskFamily:    plan.Family,
		Provider:      plan.Candidates[winner].Provider,
		ModelID:       plan.Candidates[winner].ModelID,
		Payload:       out.Payload,
		LatencyMs:     latencyMs,
		AttemptIndex:  winner,
		FallbacksUsed: winner,
		Attempts:      attempts,
	}, nil
}
