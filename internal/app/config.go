package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	VaultEnabled bool

	// Result cache capacity; 0 disables eviction by count.
	CacheMaxEntries int

	ProviderTimeoutSecs int

	// Security & hardening.
	AdminToken     string   // required for /admin/v1 access in production
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// OpenTelemetry tracing.
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// Provider credentials and endpoints. Keys set here register the
	// adapter at startup; the vault can supply them later at runtime.
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	LocalEndpoints   []string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:   getEnv("MODELMUX_LISTEN_ADDR", ":8080"),
		LogLevel:     getEnv("MODELMUX_LOG_LEVEL", "info"),
		DBDSN:        getEnv("MODELMUX_DB_DSN", "file:/data/modelmux.sqlite"),
		VaultEnabled: getEnvBool("MODELMUX_VAULT_ENABLED", true),

		CacheMaxEntries:     getEnvInt("MODELMUX_CACHE_MAX_ENTRIES", 4096),
		ProviderTimeoutSecs: getEnvInt("MODELMUX_PROVIDER_TIMEOUT_SECS", 120),

		AdminToken:     getEnv("MODELMUX_ADMIN_TOKEN", ""),
		CORSOrigins:    getEnvStringSlice("MODELMUX_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("MODELMUX_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("MODELMUX_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("MODELMUX_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("MODELMUX_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("MODELMUX_OTEL_SERVICE_NAME", "modelmux"),

		TemporalEnabled:   getEnvBool("MODELMUX_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("MODELMUX_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("MODELMUX_TEMPORAL_NAMESPACE", "modelmux"),
		TemporalTaskQueue: getEnv("MODELMUX_TEMPORAL_TASK_QUEUE", "modelmux-routing"),

		OpenAIAPIKey:     getEnv("MODELMUX_OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("MODELMUX_OPENAI_BASE_URL", "https://api.openai.com"),
		AnthropicAPIKey:  getEnv("MODELMUX_ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("MODELMUX_ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		LocalEndpoints:   getEnvStringSlice("MODELMUX_LOCAL_ENDPOINTS", nil),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("MODELMUX_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("MODELMUX_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("MODELMUX_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("MODELMUX_CACHE_MAX_ENTRIES must be >= 0, got %d", c.CacheMaxEntries)
	}
	if c.TemporalEnabled && c.TemporalTaskQueue == "" {
		return fmt.Errorf("MODELMUX_TEMPORAL_TASK_QUEUE must be set when Temporal is enabled")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
