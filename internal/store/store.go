// Package store persists the model catalog overrides, request history,
// audit trail, and encrypted vault contents.
package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for modelmux.
type Store interface {
	// Model catalog overrides layered on top of the built-in registry.
	ListModels(ctx context.Context) ([]ModelRecord, error)
	GetModel(ctx context.Context, provider, modelID string) (*ModelRecord, error)
	UpsertModel(ctx context.Context, m ModelRecord) error
	DeleteModel(ctx context.Context, provider, modelID string) error

	// Per-family task configuration overrides.
	ListTaskConfigs(ctx context.Context) ([]TaskConfigRecord, error)
	UpsertTaskConfig(ctx context.Context, c TaskConfigRecord) error
	DeleteTaskConfig(ctx context.Context, family string) error

	// Request log (for audit and dashboard)
	LogRequest(ctx context.Context, entry RequestLog) error
	ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error)

	// Vault persistence
	SaveVaultBlob(ctx context.Context, salt string, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt string, data map[string]string, err error)

	// Audit logging
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ModelRecord is the persisted form of a catalog entry. Family and
// capabilities mirror the in-memory registry; capabilities are stored as
// a JSON array.
type ModelRecord struct {
	Provider       string   `json:"provider"`
	ModelID        string   `json:"model_id"`
	Family         string   `json:"family"`
	Tier           string   `json:"tier"`
	CostTier       string   `json:"cost_tier"`
	Capabilities   []string `json:"capabilities"`
	MaxInputTokens int      `json:"max_input_tokens"`
	CostPer1K      float64  `json:"cost_per_1k"`
	Quality        float64  `json:"quality"`
	Enabled        bool     `json:"enabled"`
}

// TaskConfigRecord is the persisted form of a per-family task config.
type TaskConfigRecord struct {
	Family       string `json:"family"`
	TimeoutMs    int    `json:"timeout_ms"`
	MaxRetries   int    `json:"max_retries"`
	Cacheable    bool   `json:"cacheable"`
	CacheTTLSecs int    `json:"cache_ttl_secs"`
}

// AuditEntry captures an admin mutation for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`               // e.g. "registry.swap", "caches.clear", "vault.unlock"
	Resource  string    `json:"resource"`             // e.g. "chat", "openai/gpt-4o"
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}

// RequestLog captures a single routed request for audit/dashboard.
type RequestLog struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	TaskFamily string    `json:"task_family"`
	Provider   string    `json:"provider"`
	ModelID    string    `json:"model_id"`
	LatencyMs  int64     `json:"latency_ms"`
	Fallbacks  int       `json:"fallbacks"`
	CacheHit   bool      `json:"cache_hit"`
	Outcome    string    `json:"outcome"` // success, exhausted, no_eligible_model, unknown_task
	ErrorClass string    `json:"error_class,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}
