package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/relayforge/modelmux/internal/providers"
	"github.com/relayforge/modelmux/internal/routing"
	temporalpkg "github.com/relayforge/modelmux/internal/temporal"
)

// RouteRequest is the JSON body for the /v1/route endpoint.
type RouteRequest struct {
	// Task is the surface task name or alias, e.g. "chat" or "zero-shot".
	Task string `json:"task"`

	// Input is the opaque task payload forwarded to the provider adapter.
	Input json.RawMessage `json:"input"`

	Constraints routing.Constraints `json:"constraints"`
}

// RouteResponse is the JSON body returned by /v1/route.
type RouteResponse struct {
	RequestID string `json:"request_id"`

	// Durable is true when the request was executed as a workflow.
	Durable bool `json:"durable,omitempty"`

	routing.Result
}

// RouteHandler serves POST /v1/route. When Temporal is wired and the circuit
// breaker allows it, the request runs as a durable workflow; otherwise it
// goes through the in-process engine directly. Dry runs always stay
// in-process since they dispatch nothing.
func RouteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Task == "" {
			jsonError(w, "task required", http.StatusBadRequest)
			return
		}
		if len(req.Input) == 0 {
			req.Input = json.RawMessage(`{}`)
		}

		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := providers.WithRequestID(r.Context(), reqID)

		if !req.Constraints.DryRun && d.TemporalClient != nil && d.Breaker != nil && d.Breaker.Allow() {
			if routeViaWorkflow(w, r, d, reqID, req) {
				return
			}
			// Workflow backend unavailable; the breaker has recorded the
			// failure and we fall through to the direct path.
		}

		res, err := d.Engine.Route(ctx, req.Task, routing.Input(req.Input), req.Constraints)
		if err != nil {
			if !routing.IsRouteFailure(err) {
				// Caller cancellation or deadline; nothing was recorded.
				jsonError(w, err.Error(), http.StatusRequestTimeout)
				return
			}
			status, outcome := routeFailureStatus(err)
			if !req.Constraints.DryRun {
				recordRequestLog(d, observeParams{
					Ctx:        r.Context(),
					TaskFamily: failureFamily(res, req.Task),
					LatencyMs:  lastAttemptLatency(res),
					Outcome:    outcome,
					ErrorClass: lastAttemptClass(res),
					RequestID:  reqID,
				})
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			body := map[string]any{"error": err.Error(), "request_id": reqID}
			if res != nil && len(res.Attempts) > 0 {
				body["attempts"] = res.Attempts
			}
			_ = json.NewEncoder(w).Encode(body)
			return
		}

		if !req.Constraints.DryRun {
			recordRequestLog(d, observeParams{
				Ctx:        r.Context(),
				TaskFamily: res.TaskFamily,
				Provider:   res.Provider,
				ModelID:    res.ModelID,
				LatencyMs:  res.LatencyMs,
				Fallbacks:  res.FallbacksUsed,
				CacheHit:   res.CacheHit,
				Success:    true,
				Outcome:    "success",
				RequestID:  reqID,
			})
		}

		_ = json.NewEncoder(w).Encode(RouteResponse{RequestID: reqID, Result: *res})
	}
}

// routeViaWorkflow dispatches the request as a durable workflow. It returns
// true when the response has been written; false means the backend was
// unreachable and the caller should route directly.
func routeViaWorkflow(w http.ResponseWriter, r *http.Request, d Dependencies, reqID string, req RouteRequest) bool {
	ctx := r.Context()

	run, err := d.TemporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "route-" + reqID,
		TaskQueue: d.TemporalTaskQueue,
	}, temporalpkg.RouteWorkflow, temporalpkg.RouteInput{
		RequestID:   reqID,
		Task:        req.Task,
		Input:       req.Input,
		Constraints: req.Constraints,
	})
	if err != nil {
		d.Breaker.RecordFailure()
		return false
	}

	var out temporalpkg.RouteOutput
	if err := run.Get(ctx, &out); err != nil {
		var appErr *sdktemporal.ApplicationError
		if !errors.As(err, &appErr) {
			// Infrastructure failure, not a routing outcome.
			d.Breaker.RecordFailure()
			return false
		}
		// The workflow ran to completion and reported a routing failure;
		// the backend itself is healthy. The RecordOutcome activity has
		// already persisted the exhausted outcome.
		d.Breaker.RecordSuccess()
		msg := err.Error()
		status := http.StatusBadGateway
		switch {
		case strings.Contains(msg, "unknown task"):
			status = http.StatusNotFound
		case strings.Contains(msg, "no eligible"):
			status = http.StatusBadRequest
		}
		jsonError(w, msg, status)
		return true
	}

	d.Breaker.RecordSuccess()
	_ = json.NewEncoder(w).Encode(RouteResponse{
		RequestID: reqID,
		Durable:   true,
		Result: routing.Result{
			TaskFamily:    out.TaskFamily,
			Provider:      out.Provider,
			ModelID:       out.ModelID,
			Payload:       routing.Payload(out.Payload),
			LatencyMs:     out.LatencyMs,
			AttemptIndex:  out.AttemptIndex,
			FallbacksUsed: out.FallbacksUsed,
			Attempts:      out.Attempts,
		},
	})
	return true
}

// routeFailureStatus maps the routing failure taxonomy onto HTTP status
// codes and request log outcomes.
func routeFailureStatus(err error) (int, string) {
	var ut *routing.UnknownTaskError
	var ne *routing.NoEligibleModelError
	switch {
	case errors.As(err, &ut):
		return http.StatusNotFound, "unknown_task"
	case errors.As(err, &ne):
		return http.StatusBadRequest, "no_eligible_model"
	default:
		return http.StatusBadGateway, "exhausted"
	}
}

func failureFamily(res *routing.Result, task string) string {
	if res != nil && res.TaskFamily != "" {
		return res.TaskFamily
	}
	return task
}

func lastAttemptClass(res *routing.Result) string {
	if res == nil || len(res.Attempts) == 0 {
		return ""
	}
	return string(res.Attempts[len(res.Attempts)-1].ErrorClass)
}

func lastAttemptLatency(res *routing.Result) int64 {
	if res == nil {
		return 0
	}
	var total int64
	for _, a := range res.Attempts {
		total += a.LatencyMs
	}
	return total
}
