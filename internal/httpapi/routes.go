// Package httpapi exposes the routing engine over HTTP: the public /v1
// surface, the /admin/v1 management API, /healthz, and /metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/client"

	"github.com/relayforge/modelmux/internal/circuitbreaker"
	"github.com/relayforge/modelmux/internal/events"
	"github.com/relayforge/modelmux/internal/health"
	"github.com/relayforge/modelmux/internal/metrics"
	"github.com/relayforge/modelmux/internal/routing"
	"github.com/relayforge/modelmux/internal/stats"
	"github.com/relayforge/modelmux/internal/store"
	"github.com/relayforge/modelmux/internal/tsdb"
	"github.com/relayforge/modelmux/internal/vault"
)

// Dependencies carries the wired subsystems into the handlers. Every field
// except Engine may be nil; handlers degrade gracefully.
type Dependencies struct {
	Engine   *routing.Engine
	Vault    *vault.Vault
	Metrics  *metrics.Registry
	Store    store.Store
	Health   *health.Tracker
	EventBus *events.Bus
	Stats    *stats.Collector
	TSDB     *tsdb.Store

	// AdminToken guards /admin/v1; nil disables the check (tests).
	AdminToken *AdminTokenHolder

	// Reload rebuilds the registry snapshot from built-in defaults plus
	// stored overrides and swaps it in. Nil when no store is configured.
	Reload func(ctx context.Context) error

	// Temporal workflow client (nil when Temporal is disabled). Breaker
	// guards the workflow dispatch path.
	TemporalClient    client.Client
	TemporalTaskQueue string
	Breaker           *circuitbreaker.Breaker
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Verify the system can actually route: a catalog with no
		// families or an engine with no adapters serves nothing.
		snap := d.Engine.Registry().Current()
		familyCount := len(snap.FamilyNames())
		adapterCount := len(d.Engine.ListAdapterIDs())
		status := "ok"
		code := http.StatusOK
		if familyCount == 0 || adapterCount == 0 {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":           status,
			"task_families":    familyCount,
			"adapters":         adapterCount,
			"registry_version": snap.Version,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/route", RouteHandler(d))
		r.Get("/tasks", TasksHandler(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != nil {
			r.Use(RequireAdmin(d.AdminToken))
		}

		r.Get("/stats", StatsHandler(d))
		r.Get("/health", HealthStatsHandler(d))
		r.Post("/clear-caches", ClearCachesHandler(d))

		r.Get("/registry", RegistryHandler(d))
		r.Post("/registry/reload", RegistryReloadHandler(d))

		r.Get("/models", ModelsListHandler(d))
		r.Post("/models", ModelsUpsertHandler(d))
		r.Delete("/models/{provider}/{model}", ModelsDeleteHandler(d))

		r.Get("/task-configs", TaskConfigsListHandler(d))
		r.Put("/task-configs/{family}", TaskConfigUpsertHandler(d))
		r.Delete("/task-configs/{family}", TaskConfigDeleteHandler(d))

		r.Get("/logs", RequestLogsHandler(d))
		r.Get("/audit", AuditLogsHandler(d))

		r.Post("/vault/unlock", VaultUnlockHandler(d))
		r.Post("/vault/lock", VaultLockHandler(d))

		r.Get("/tsdb/query", TSDBQueryHandler(d.TSDB))
		r.Get("/tsdb/metrics", TSDBMetricsHandler(d.TSDB))
		r.Post("/tsdb/prune", TSDBPruneHandler(d.TSDB))
		r.Put("/tsdb/retention", TSDBRetentionHandler(d.TSDB))

		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

// TasksHandler lists the routable task families and their accepted aliases,
// so clients can discover what to put in the "task" field.
func TasksHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := d.Engine.Registry().Current()
		aliases := make(map[string][]string)
		for alias, family := range snap.Aliases {
			aliases[family] = append(aliases[family], alias)
		}
		type taskInfo struct {
			Family       string   `json:"family"`
			Aliases      []string `json:"aliases,omitempty"`
			Capabilities []string `json:"capabilities,omitempty"`
			Entries      int      `json:"entries"`
		}
		tasks := make([]taskInfo, 0)
		for _, family := range snap.FamilyNames() {
			tasks = append(tasks, taskInfo{
				Family:       family,
				Aliases:      aliases[family],
				Capabilities: snap.AcceptedCapabilities(family),
				Entries:      len(snap.EntriesFor(family)),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tasks":            tasks,
			"registry_version": snap.Version,
		})
	}
}
