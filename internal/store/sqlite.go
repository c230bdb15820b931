package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle (used by TSDB).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS models (
			provider TEXT NOT NULL,
			model_id TEXT NOT NULL,
			family TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT 'fallback',
			cost_tier TEXT NOT NULL DEFAULT 'standard',
			capabilities TEXT NOT NULL DEFAULT '[]',
			max_input_tokens INTEGER NOT NULL DEFAULT 0,
			cost_per_1k REAL NOT NULL DEFAULT 0,
			quality REAL NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			PRIMARY KEY (provider, model_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_models_family ON models(family)`,
		`CREATE TABLE IF NOT EXISTS task_configs (
			family TEXT PRIMARY KEY,
			timeout_ms INTEGER NOT NULL DEFAULT 30000,
			max_retries INTEGER NOT NULL DEFAULT 2,
			cacheable BOOLEAN NOT NULL DEFAULT 0,
			cache_ttl_secs INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			task_family TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			fallbacks INTEGER NOT NULL DEFAULT 0,
			cache_hit BOOLEAN NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT 'success',
			error_class TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_family ON request_logs(task_family)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Models

func (s *SQLiteStore) ListModels(ctx context.Context) ([]ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, model_id, family, tier, cost_tier, capabilities, max_input_tokens, cost_per_1k, quality, enabled
		 FROM models ORDER BY family, provider, model_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var models []ModelRecord
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *SQLiteStore) GetModel(ctx context.Context, provider, modelID string) (*ModelRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider, model_id, family, tier, cost_tier, capabilities, max_input_tokens, cost_per_1k, quality, enabled
		 FROM models WHERE provider = ? AND model_id = ?`, provider, modelID)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(r rowScanner) (ModelRecord, error) {
	var m ModelRecord
	var caps string
	if err := r.Scan(&m.Provider, &m.ModelID, &m.Family, &m.Tier, &m.CostTier,
		&caps, &m.MaxInputTokens, &m.CostPer1K, &m.Quality, &m.Enabled); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(caps), &m.Capabilities); err != nil {
		return m, fmt.Errorf("unmarshal capabilities for %s/%s: %w", m.Provider, m.ModelID, err)
	}
	return m, nil
}

func (s *SQLiteStore) UpsertModel(ctx context.Context, m ModelRecord) error {
	caps, err := json.Marshal(m.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO models (provider, model_id, family, tier, cost_tier, capabilities, max_input_tokens, cost_per_1k, quality, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider, model_id) DO UPDATE SET
		   family=excluded.family,
		   tier=excluded.tier,
		   cost_tier=excluded.cost_tier,
		   capabilities=excluded.capabilities,
		   max_input_tokens=excluded.max_input_tokens,
		   cost_per_1k=excluded.cost_per_1k,
		   quality=excluded.quality,
		   enabled=excluded.enabled`,
		m.Provider, m.ModelID, m.Family, m.Tier, m.CostTier, string(caps),
		m.MaxInputTokens, m.CostPer1K, m.Quality, m.Enabled)
	return err
}

func (s *SQLiteStore) DeleteModel(ctx context.Context, provider, modelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE provider = ? AND model_id = ?`, provider, modelID)
	return err
}

// Task configs

func (s *SQLiteStore) ListTaskConfigs(ctx context.Context) ([]TaskConfigRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT family, timeout_ms, max_retries, cacheable, cache_ttl_secs FROM task_configs ORDER BY family`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var configs []TaskConfigRecord
	for rows.Next() {
		var c TaskConfigRecord
		if err := rows.Scan(&c.Family, &c.TimeoutMs, &c.MaxRetries, &c.Cacheable, &c.CacheTTLSecs); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (s *SQLiteStore) UpsertTaskConfig(ctx context.Context, c TaskConfigRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_configs (family, timeout_ms, max_retries, cacheable, cache_ttl_secs)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(family) DO UPDATE SET
		   timeout_ms=excluded.timeout_ms,
		   max_retries=excluded.max_retries,
		   cacheable=excluded.cacheable,
		   cache_ttl_secs=excluded.cache_ttl_secs`,
		c.Family, c.TimeoutMs, c.MaxRetries, c.Cacheable, c.CacheTTLSecs)
	return err
}

func (s *SQLiteStore) DeleteTaskConfig(ctx context.Context, family string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_configs WHERE family = ?`, family)
	return err
}

// Request Logs

func (s *SQLiteStore) LogRequest(ctx context.Context, entry RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (timestamp, task_family, provider, model_id, latency_ms, fallbacks, cache_hit, outcome, error_class, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.TaskFamily, entry.Provider, entry.ModelID,
		entry.LatencyMs, entry.Fallbacks, entry.CacheHit, entry.Outcome, entry.ErrorClass, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, task_family, provider, model_id, latency_ms, fallbacks, cache_hit, outcome, error_class, request_id
		 FROM request_logs ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []RequestLog
	for rows.Next() {
		var l RequestLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.TaskFamily, &l.Provider, &l.ModelID,
			&l.LatencyMs, &l.Fallbacks, &l.CacheHit, &l.Outcome, &l.ErrorClass, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt string, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) (string, map[string]string, error) {
	var salt string
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return "", nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

// Audit Logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
