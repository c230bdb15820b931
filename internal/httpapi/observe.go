package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/relayforge/modelmux/internal/store"
	"github.com/relayforge/modelmux/internal/tsdb"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// warnOnErr logs a warning if a background store operation fails. Audit and
// request logs must not block the response but their failures must be
// visible.
func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// observeParams captures the fields persisted for a request routed on the
// direct (non-workflow) path. The engine already feeds the aggregator,
// rolling stats, Prometheus, and the event bus from inside Route; only the
// request log and the time-series history live out here.
type observeParams struct {
	Ctx        context.Context
	TaskFamily string
	Provider   string
	ModelID    string
	LatencyMs  int64
	Fallbacks  int
	CacheHit   bool
	Success    bool
	Outcome    string // success, exhausted, no_eligible_model, unknown_task
	ErrorClass string
	RequestID  string
}

// recordRequestLog persists a completed direct-path request to the request
// log and the TSDB. The workflow path records through the RecordOutcome
// activity instead.
func recordRequestLog(d Dependencies, p observeParams) {
	now := time.Now().UTC()

	if d.Store != nil {
		warnOnErr("log_request", d.Store.LogRequest(p.Ctx, store.RequestLog{
			Timestamp:  now,
			TaskFamily: p.TaskFamily,
			Provider:   p.Provider,
			ModelID:    p.ModelID,
			LatencyMs:  p.LatencyMs,
			Fallbacks:  p.Fallbacks,
			CacheHit:   p.CacheHit,
			Outcome:    p.Outcome,
			ErrorClass: p.ErrorClass,
			RequestID:  p.RequestID,
		}))
	}

	// Cache hits carry no provider latency; only dispatched successes
	// contribute history points.
	if d.TSDB != nil && p.Success && !p.CacheHit {
		d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: "latency", TaskFamily: p.TaskFamily, Provider: p.Provider, Value: float64(p.LatencyMs)})
		d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: "fallbacks", TaskFamily: p.TaskFamily, Provider: p.Provider, Value: float64(p.Fallbacks)})
	}
}
