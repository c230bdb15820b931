// Package app wires configuration, storage, providers, and the HTTP API
// into a runnable server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relayforge/modelmux/internal/cache"
	"github.com/relayforge/modelmux/internal/circuitbreaker"
	"github.com/relayforge/modelmux/internal/events"
	"github.com/relayforge/modelmux/internal/health"
	"github.com/relayforge/modelmux/internal/httpapi"
	"github.com/relayforge/modelmux/internal/logging"
	"github.com/relayforge/modelmux/internal/metrics"
	"github.com/relayforge/modelmux/internal/providers/anthropic"
	"github.com/relayforge/modelmux/internal/providers/local"
	"github.com/relayforge/modelmux/internal/providers/openai"
	"github.com/relayforge/modelmux/internal/ratelimit"
	"github.com/relayforge/modelmux/internal/registry"
	"github.com/relayforge/modelmux/internal/routing"
	"github.com/relayforge/modelmux/internal/stats"
	"github.com/relayforge/modelmux/internal/store"
	temporalpkg "github.com/relayforge/modelmux/internal/temporal"
	"github.com/relayforge/modelmux/internal/tracing"
	"github.com/relayforge/modelmux/internal/tsdb"
	"github.com/relayforge/modelmux/internal/vault"
)

// Server owns every long-lived component of a modelmux instance.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router

	engine   *routing.Engine
	registry *registry.Registry
	store    *store.SQLiteStore
	vault    *vault.Vault
	tsdb     *tsdb.Store
	limiter  *ratelimit.Limiter
	prober   *health.Prober
	temporal *temporalpkg.Manager

	tracingShutdown func(context.Context) error
}

// NewServer builds the full component graph from cfg. The returned server
// is ready to serve; callers own its lifecycle via Router and Close.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)
	ctx := context.Background()

	st, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}
	if salt, data, err := st.LoadVaultBlob(ctx); err == nil && salt != "" {
		if err := v.Import(vault.Snapshot{Salt: salt, Values: data}); err != nil {
			logger.Warn("vault blob import failed", slog.String("error", err.Error()))
		}
	}

	snap, err := buildSnapshot(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	reg, err := registry.New(snap)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}

	agg := stats.NewAggregator()
	coll := stats.NewCollector()
	seedCollector(ctx, st, coll, logger)
	resultCache := cache.New(cfg.CacheMaxEntries, time.Minute)
	engine := routing.NewEngine(reg, resultCache, agg, coll)

	bus := events.NewBus()
	prom := metrics.New()

	tracker := health.NewTracker(health.DefaultConfig(),
		health.WithEventBus(bus),
		health.WithOnUpdate(func(provider string, state health.State) {
			prom.SetProviderState(provider, healthStateGauge(state))
		}),
	)
	engine.SetHealthChecker(tracker)
	engine.SetEventBus(bus)
	engine.SetMetrics(prom)

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without traces",
			slog.String("error", err.Error()))
		tracingShutdown = nil
	}

	targets := registerProviders(cfg, engine, logger)
	var prober *health.Prober
	if len(targets) > 0 {
		prober = health.NewProber(health.DefaultProberConfig(), tracker, targets, logger)
		prober.Start()
	}

	ts, err := tsdb.New(st.DB())
	if err != nil {
		logger.Warn("tsdb init failed, continuing without history",
			slog.String("error", err.Error()))
		ts = nil
	}

	var mgr *temporalpkg.Manager
	var breaker *circuitbreaker.Breaker
	if cfg.TemporalEnabled {
		mgr, err = temporalpkg.New(temporalpkg.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, &temporalpkg.Activities{
			Engine:     engine,
			Store:      st,
			Health:     tracker,
			Metrics:    prom,
			EventBus:   bus,
			Aggregator: agg,
			Collector:  coll,
			TSDB:       ts,
		})
		if err != nil {
			logger.Warn("temporal unavailable, routing in-process only",
				slog.String("host", cfg.TemporalHostPort),
				slog.String("error", err.Error()))
			mgr = nil
		} else if err := mgr.Start(); err != nil {
			logger.Warn("temporal worker start failed, routing in-process only",
				slog.String("error", err.Error()))
			mgr.Stop()
			mgr = nil
		}
		if mgr != nil {
			breaker = circuitbreaker.New("workflow-dispatch",
				circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
					logger.Warn("circuit breaker state change",
						slog.String("breaker", name),
						slog.String("from", from.String()),
						slog.String("to", to.String()))
				}),
			)
		}
	}

	adminToken, err := httpapi.NewAdminTokenHolder(cfg.AdminToken, cfg.DBDSN, logger)
	if err != nil {
		logger.Warn("admin token setup failed, admin API disabled by config token only",
			slog.String("error", err.Error()))
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(prom.RateLimitedTotal))

	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Admin-Token"},
		MaxAge:         300,
	}))
	r.Use(limiter.Middleware)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}

	srv := &Server{
		cfg:             cfg,
		logger:          logger,
		router:          r,
		engine:          engine,
		registry:        reg,
		store:           st,
		vault:           v,
		tsdb:            ts,
		limiter:         limiter,
		prober:          prober,
		temporal:        mgr,
		tracingShutdown: tracingShutdown,
	}

	deps := httpapi.Dependencies{
		Engine:     engine,
		Vault:      v,
		Metrics:    prom,
		Store:      st,
		Health:     tracker,
		EventBus:   bus,
		Stats:      coll,
		TSDB:       ts,
		AdminToken: adminToken,
		Reload:     srv.reloadRegistry,
	}
	if mgr != nil {
		deps.TemporalClient = mgr.Client()
		deps.TemporalTaskQueue = mgr.TaskQueue()
		deps.Breaker = breaker
	}
	httpapi.MountRoutes(r, deps)

	logger.Info("server ready",
		slog.String("listen", cfg.ListenAddr),
		slog.Int("task_families", len(snap.Families)),
		slog.Bool("temporal", mgr != nil),
	)
	return srv, nil
}

// Router returns the HTTP handler for this server.
func (s *Server) Router() chi.Router {
	return s.router
}

// Reload applies a new configuration to the running server. Only log level
// and the persisted catalog are hot-swappable; transport settings need a
// restart.
func (s *Server) Reload(newCfg Config) {
	logging.SetLevel(newCfg.LogLevel)
	s.cfg = newCfg
	if err := s.reloadRegistry(context.Background()); err != nil {
		s.logger.Warn("catalog reload failed, keeping previous snapshot",
			slog.String("error", err.Error()))
	}
	s.logger.Info("configuration reloaded", slog.String("log_level", newCfg.LogLevel))
}

// reloadRegistry rebuilds the catalog snapshot from the store overlays and
// swaps it in atomically.
func (s *Server) reloadRegistry(ctx context.Context) error {
	snap, err := buildSnapshot(ctx, s.store)
	if err != nil {
		return err
	}
	return s.registry.Swap(snap)
}

// Close releases all server resources.
func (s *Server) Close() error {
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.tsdb != nil {
		s.tsdb.Flush()
	}
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracingShutdown(ctx); err != nil {
			s.logger.Warn("tracing shutdown", slog.String("error", err.Error()))
		}
	}
	return s.store.Close()
}

// registerProviders builds adapters for every provider with credentials or
// endpoints configured and registers them with the engine. Returns the
// probe targets for the health prober.
func registerProviders(cfg Config, engine *routing.Engine, logger *slog.Logger) []health.Probeable {
	timeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	var targets []health.Probeable

	httpClient := func() *http.Client {
		c := &http.Client{Timeout: timeout}
		if cfg.OTelEnabled {
			c.Transport = tracing.HTTPTransport(nil)
		}
		return c
	}

	if cfg.OpenAIAPIKey != "" {
		a := openai.New("openai", cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
			openai.WithHTTPClient(httpClient()))
		engine.RegisterAdapter(a)
		targets = append(targets, a)
		logger.Info("registered provider", slog.String("provider", "openai"))
	}
	if cfg.AnthropicAPIKey != "" {
		a := anthropic.New("anthropic", cfg.AnthropicAPIKey, cfg.AnthropicBaseURL,
			anthropic.WithHTTPClient(httpClient()))
		engine.RegisterAdapter(a)
		targets = append(targets, a)
		logger.Info("registered provider", slog.String("provider", "anthropic"))
	}
	if len(cfg.LocalEndpoints) > 0 {
		a := local.New("local", cfg.LocalEndpoints[0],
			local.WithEndpoints(cfg.LocalEndpoints[1:]...),
			local.WithTimeout(timeout))
		engine.RegisterAdapter(a)
		targets = append(targets, a)
		logger.Info("registered provider",
			slog.String("provider", "local"),
			slog.Int("replicas", len(cfg.LocalEndpoints)))
	}
	return targets
}

// seedCollectorLimit caps how many request log rows are replayed into the
// rolling windows on startup; the collector prunes anything past its
// retention anyway.
const seedCollectorLimit = 5000

// seedCollector replays recent request log rows into the rolling windows so
// the dashboard has history straight after a restart. Failures only cost the
// warm start.
func seedCollector(ctx context.Context, st store.Store, coll *stats.Collector, logger *slog.Logger) {
	logs, err := st.ListRequestLogs(ctx, seedCollectorLimit, 0)
	if err != nil {
		logger.Warn("stats seed skipped", slog.String("error", err.Error()))
		return
	}
	if len(logs) == 0 {
		return
	}
	samples := make([]stats.Sample, 0, len(logs))
	for _, l := range logs {
		samples = append(samples, stats.Sample{
			Timestamp:  l.Timestamp,
			TaskFamily: l.TaskFamily,
			Provider:   l.Provider,
			ModelID:    l.ModelID,
			LatencyMs:  float64(l.LatencyMs),
			Fallbacks:  l.Fallbacks,
			CacheHit:   l.CacheHit,
			Success:    l.Outcome == "success",
		})
	}
	coll.Seed(samples)
	logger.Info("stats windows seeded", slog.Int("samples", len(samples)))
}

// healthStateGauge maps a health state onto the Prometheus gauge encoding.
func healthStateGauge(state health.State) float64 {
	switch state {
	case health.StateDegraded:
		return 1
	case health.StateDown:
		return 2
	default:
		return 0
	}
}

// buildSnapshot layers the persisted model and task config overrides on top
// of the built-in catalog.
func buildSnapshot(ctx context.Context, st store.Store) (*registry.Snapshot, error) {
	snap := registry.DefaultSnapshot()

	records, err := st.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	for _, rec := range records {
		removeEntry(snap, rec.Provider, rec.ModelID)
		if !rec.Enabled {
			continue
		}
		entry := registry.Entry{
			Provider:       rec.Provider,
			ModelID:        rec.ModelID,
			Capabilities:   rec.Capabilities,
			Tier:           registry.Tier(rec.Tier),
			CostTier:       registry.CostTier(rec.CostTier),
			MaxInputTokens: rec.MaxInputTokens,
			CostPer1K:      rec.CostPer1K,
			Quality:        rec.Quality,
		}
		snap.Families[rec.Family] = append(snap.Families[rec.Family], entry)
		if _, ok := snap.Configs[rec.Family]; !ok {
			// A stored model can introduce a brand new family; give it a
			// workable default config until an explicit one is saved.
			snap.Configs[rec.Family] = registry.TaskConfig{
				Timeout:    30 * time.Second,
				MaxRetries: 2,
			}
		}
		if _, ok := snap.Capabilities[rec.Family]; !ok {
			snap.Capabilities[rec.Family] = rec.Capabilities
		}
	}

	configs, err := st.ListTaskConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list task configs: %w", err)
	}
	for _, tc := range configs {
		snap.Configs[tc.Family] = registry.TaskConfig{
			Timeout:    time.Duration(tc.TimeoutMs) * time.Millisecond,
			MaxRetries: tc.MaxRetries,
			Cacheable:  tc.Cacheable,
			CacheTTL:   time.Duration(tc.CacheTTLSecs) * time.Second,
		}
	}

	return snap, nil
}

// removeEntry drops any catalog entry matching provider/model from every
// family, so a persisted override fully replaces the built-in one.
func removeEntry(snap *registry.Snapshot, provider, modelID string) {
	for family, entries := range snap.Families {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.Provider == provider && e.ModelID == modelID {
				continue
			}
			kept = append(kept, e)
		}
		snap.Families[family] = kept
	}
}
