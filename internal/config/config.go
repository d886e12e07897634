package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RedisAddr    string
	PostgresDSN  string
	// ClickHouseDSN points at the delivery-metrics store. Optional; when the
	// connection fails the server falls back to the mock delivery service.
	ClickHouseDSN string
	ServiceName   string

	// UnifiedMode registers the task tools and admin routes alongside the
	// media buy tools (ADCP_UNIFIED_MODE, default true).
	UnifiedMode bool
	// AdminToken authenticates the /admin routes (ADMIN_API_TOKEN). Empty
	// disables them.
	AdminToken string
	// Testing gates debug endpoints such as DB pool reset and scheduler
	// state dump (ADCP_TESTING, default off).
	Testing bool

	// StatusCheckInterval is how often the media buy status scheduler wakes
	// (MEDIA_BUY_STATUS_CHECK_INTERVAL seconds, default 60; empty string
	// means use the default).
	StatusCheckInterval time.Duration
	// DeliveryWebhookInterval is how often the delivery webhook scheduler
	// wakes (DELIVERY_WEBHOOK_INTERVAL seconds, default 3600; empty string
	// means use the default).
	DeliveryWebhookInterval time.Duration

	// AdapterTimeout bounds every create/update call into an ad server.
	AdapterTimeout time.Duration
	// SyncCommitTimeout bounds a single inventory batch commit.
	SyncCommitTimeout time.Duration
	// WebhookSendTimeout bounds a single webhook POST.
	WebhookSendTimeout time.Duration
	// WebhookSigningSecret signs outbound webhook payloads. Empty disables
	// the signature header.
	WebhookSigningSecret string

	// CreativeAgentURL is the default remote format registry.
	CreativeAgentURL     string
	CreativeAgentTimeout time.Duration
	FormatCacheTTL       time.Duration

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent. Interval variables tolerate an empty
// string, which selects the default.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8080")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 60*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.ServiceName = getenv("SERVICE_NAME", "adcp-sales-agent")

	cfg.UnifiedMode = envBool("ADCP_UNIFIED_MODE", true)
	cfg.AdminToken = getenv("ADMIN_API_TOKEN", "")
	cfg.Testing = envBool("ADCP_TESTING", false)

	cfg.StatusCheckInterval = envDuration("MEDIA_BUY_STATUS_CHECK_INTERVAL", 60*time.Second)
	cfg.DeliveryWebhookInterval = envDuration("DELIVERY_WEBHOOK_INTERVAL", 3600*time.Second)

	cfg.AdapterTimeout = envDuration("ADAPTER_TIMEOUT", 5*time.Minute)
	cfg.SyncCommitTimeout = envDuration("SYNC_COMMIT_TIMEOUT", 2*time.Minute)
	cfg.WebhookSendTimeout = envDuration("WEBHOOK_SEND_TIMEOUT", 30*time.Second)
	cfg.WebhookSigningSecret = getenv("WEBHOOK_SIGNING_SECRET", "")

	cfg.CreativeAgentURL = getenv("CREATIVE_AGENT_URL", "https://creative.adcontextprotocol.org")
	cfg.CreativeAgentTimeout = envDuration("CREATIVE_AGENT_TIMEOUT", 10*time.Second)
	cfg.FormatCacheTTL = envDuration("FORMAT_CACHE_TTL", 15*time.Minute)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset, empty, or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
