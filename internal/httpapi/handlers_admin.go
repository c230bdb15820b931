package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relayforge/modelmux/internal/registry"
	"github.com/relayforge/modelmux/internal/store"
)

// StatsResponse is returned by /admin/v1/stats: the lifetime counters plus
// rolling-window aggregates for the dashboard.
type StatsResponse struct {
	Engine     any `json:"engine"`
	Global     any `json:"global"`
	ByFamily   any `json:"by_family"`
	ByProvider any `json:"by_provider"`
}

func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatsResponse{
			Engine:     d.Engine.StatsSnapshot(),
			Global:     []any{},
			ByFamily:   map[string]any{},
			ByProvider: map[string]any{},
		}
		if d.Stats != nil {
			resp.Global = d.Stats.Global()
			resp.ByFamily = d.Stats.SummaryByFamily()
			resp.ByProvider = d.Stats.SummaryByProvider()
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func HealthStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if d.Health == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"providers": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"providers": d.Health.All()})
	}
}

// ClearCachesHandler resets the result cache and all telemetry counters in
// one operation, so hit rates always refer to the current cache contents.
func ClearCachesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Engine.ClearCaches()
		if d.Store != nil {
			warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
				Timestamp: time.Now().UTC(),
				Action:    "caches.clear",
				RequestID: middleware.GetReqID(r.Context()),
			}))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

// RegistryHandler returns the active catalog snapshot.
func RegistryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := d.Engine.Registry().Current()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":      snap.Version,
			"families":     snap.Families,
			"configs":      snap.Configs,
			"aliases":      snap.Aliases,
			"capabilities": snap.Capabilities,
		})
	}
}

// RegistryReloadHandler rebuilds the registry from built-in defaults plus
// stored overrides and swaps it in atomically.
func RegistryReloadHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reload == nil {
			jsonError(w, "reload not configured", http.StatusNotImplemented)
			return
		}
		if err := d.Reload(r.Context()); err != nil {
			jsonError(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if d.Store != nil {
			warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
				Timestamp: time.Now().UTC(),
				Action:    "registry.reload",
				RequestID: middleware.GetReqID(r.Context()),
			}))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"version": d.Engine.Registry().Current().Version,
		})
	}
}

func ModelsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}, "total": 0})
			return
		}
		models, err := d.Store.ListModels(r.Context())
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if models == nil {
			models = []store.ModelRecord{}
		}
		total := len(models)
		limit, offset := parsePagination(r)
		models = paginateSlice(models, offset, limit)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":  models,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// ModelsUpsertHandler persists a catalog override and reloads the registry
// so the change takes effect immediately.
func ModelsUpsertHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m store.ModelRecord
		m.Enabled = true
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if m.Provider == "" || m.ModelID == "" {
			jsonError(w, "provider and model_id required", http.StatusBadRequest)
			return
		}
		if m.Family == "" {
			jsonError(w, "family required", http.StatusBadRequest)
			return
		}
		if len(m.Capabilities) == 0 {
			jsonError(w, "capabilities must be non-empty", http.StatusBadRequest)
			return
		}
		if !registry.Tier(m.Tier).Valid() {
			jsonError(w, "unknown tier", http.StatusBadRequest)
			return
		}
		if !registry.CostTier(m.CostTier).Valid() {
			jsonError(w, "unknown cost_tier", http.StatusBadRequest)
			return
		}
		if m.MaxInputTokens < 0 {
			jsonError(w, "max_input_tokens must be >= 0", http.StatusBadRequest)
			return
		}

		if d.Store == nil {
			jsonError(w, "no store configured", http.StatusInternalServerError)
			return
		}
		if err := d.Store.UpsertModel(r.Context(), m); err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if d.Reload != nil {
			if err := d.Reload(r.Context()); err != nil {
				jsonError(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
			Timestamp: time.Now().UTC(),
			Action:    "model.upsert",
			Resource:  m.Provider + "/" + m.ModelID,
			RequestID: middleware.GetReqID(r.Context()),
		}))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

func ModelsDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		modelID := chi.URLParam(r, "model")
		if provider == "" || modelID == "" {
			jsonError(w, "provider and model required", http.StatusBadRequest)
			return
		}
		if d.Store == nil {
			jsonError(w, "no store configured", http.StatusInternalServerError)
			return
		}
		if err := d.Store.DeleteModel(r.Context(), provider, modelID); err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if d.Reload != nil {
			if err := d.Reload(r.Context()); err != nil {
				jsonError(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
			Timestamp: time.Now().UTC(),
			Action:    "model.delete",
			Resource:  provider + "/" + modelID,
			RequestID: middleware.GetReqID(r.Context()),
		}))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

func TaskConfigsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
			return
		}
		configs, err := d.Store.ListTaskConfigs(r.Context())
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if configs == nil {
			configs = []store.TaskConfigRecord{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": configs})
	}
}

func TaskConfigUpsertHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family := chi.URLParam(r, "family")
		if family == "" {
			jsonError(w, "family required", http.StatusBadRequest)
			return
		}
		var c store.TaskConfigRecord
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		c.Family = family
		if c.TimeoutMs <= 0 {
			jsonError(w, "timeout_ms must be > 0", http.StatusBadRequest)
			return
		}
		if c.MaxRetries < 0 {
			jsonError(w, "max_retries must be >= 0", http.StatusBadRequest)
			return
		}
		if c.Cacheable && c.CacheTTLSecs <= 0 {
			jsonError(w, "cache_ttl_secs required when cacheable", http.StatusBadRequest)
			return
		}
		if !c.Cacheable && c.CacheTTLSecs != 0 {
			jsonError(w, "cache_ttl_secs set but not cacheable", http.StatusBadRequest)
			return
		}

		if d.Store == nil {
			jsonError(w, "no store configured", http.StatusInternalServerError)
			return
		}
		if err := d.Store.UpsertTaskConfig(r.Context(), c); err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if d.Reload != nil {
			if err := d.Reload(r.Context()); err != nil {
				jsonError(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
			Timestamp: time.Now().UTC(),
			Action:    "task-config.upsert",
			Resource:  family,
			RequestID: middleware.GetReqID(r.Context()),
		}))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

func TaskConfigDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family := chi.URLParam(r, "family")
		if family == "" {
			jsonError(w, "family required", http.StatusBadRequest)
			return
		}
		if d.Store == nil {
			jsonError(w, "no store configured", http.StatusInternalServerError)
			return
		}
		if err := d.Store.DeleteTaskConfig(r.Context(), family); err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if d.Reload != nil {
			if err := d.Reload(r.Context()); err != nil {
				jsonError(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
			Timestamp: time.Now().UTC(),
			Action:    "task-config.delete",
			Resource:  family,
			RequestID: middleware.GetReqID(r.Context()),
		}))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

// RequestLogsHandler handles GET /admin/v1/logs?limit=N&offset=N
func RequestLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"logs": []any{}})
			return
		}
		limit, offset := parseLogWindow(r)
		logs, err := d.Store.ListRequestLogs(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []store.RequestLog{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"logs": logs})
	}
}

// AuditLogsHandler handles GET /admin/v1/audit?limit=N&offset=N
func AuditLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"logs": []any{}})
			return
		}
		limit, offset := parseLogWindow(r)
		logs, err := d.Store.ListAuditLogs(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []store.AuditEntry{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"logs": logs})
	}
}

// parseLogWindow extracts limit and offset for log listings.
// Defaults: limit=100, offset=0.
func parseLogWindow(r *http.Request) (limit, offset int) {
	limit = 100
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// parsePagination extracts limit and offset for catalog listings.
// Defaults: limit=10000 (effectively all), offset=0. Max limit=1000 if
// explicitly set.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 10000
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
			if limit > 1000 {
				limit = 1000
			}
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// paginateSlice applies offset and limit to a slice.
func paginateSlice[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
