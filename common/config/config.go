package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"

	"github.com/Laisky/llm-gateway/common/env"
)

// SessionSecret is the process-wide secret used to derive the credential
// encryption key. It must be set in production.
var SessionSecret = env.String("SESSION_SECRET", "")

// DebugEnabled toggles verbose request/response logging.
var DebugEnabled = env.Bool("DEBUG", false)

// Port is the HTTP listen port.
var Port = env.Int("PORT", 3000)

// Relational store settings.
var (
	SQLDSN             = env.String("SQL_DSN", "")
	SQLitePath         = env.String("SQLITE_PATH", "llm-gateway.db")
	SQLMaxIdleConns    = env.Int("SQL_MAX_IDLE_CONNS", 100)
	SQLMaxOpenConns    = env.Int("SQL_MAX_OPEN_CONNS", 1000)
	SQLMaxLifetimeSecs = env.Int("SQL_MAX_LIFETIME", 60)
)

// Coordination store settings. An empty connection string leaves the
// gateway in permanently degraded (priority-only) scheduling mode.
var RedisConnString = env.String("REDIS_CONN_STRING", "")

// Outbound HTTP settings.
var (
	// RelayTimeout bounds a whole upstream request, seconds.
	RelayTimeout = env.Int("RELAY_TIMEOUT", 600)
	// StreamFirstByteTimeout bounds the wait for the first upstream byte and
	// is re-armed for every subsequent chunk, seconds.
	StreamFirstByteTimeout = env.Int("STREAM_FIRST_BYTE_TIMEOUT", 60)
	RelayProxy             = env.String("RELAY_PROXY", "")

	// BlockInternalEndpoints refuses upstream dials into private address
	// space. Off by default; self-hosted upstreams are common.
	BlockInternalEndpoints = env.Bool("BLOCK_INTERNAL_ENDPOINTS", false)
)

// TLSProfileHint is an opaque per-process hint forwarded to endpoints whose
// upstreams fingerprint clients; it carries no behavioural contract here.
var TLSProfileHint = env.String("TLS_PROFILE_HINT", "")

// Observability settings.
var (
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)

	OpenTelemetryEnabled     = env.Bool("OTEL_ENABLED", false)
	OpenTelemetryEndpoint    = env.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	OpenTelemetryInsecure    = env.Bool("OTEL_INSECURE", false)
	OpenTelemetryServiceName = env.String("OTEL_SERVICE_NAME", "llm-gateway")
	OpenTelemetryEnvironment = env.String("OTEL_ENVIRONMENT", "")
)

// GzipEnabled compresses non-streaming API responses.
var GzipEnabled = env.Bool("GZIP_ENABLED", true)

// MemoryCacheEnabled keeps the provider catalog in process memory for a few
// seconds instead of hitting the database on every request. Catalog edits
// take up to the cache TTL to be observed.
var MemoryCacheEnabled = env.Bool("MEMORY_CACHE_ENABLED", false)

// CLIUserAgentTokens promote chat dialects to their CLI variants when one of
// them appears in the inbound User-Agent.
var CLIUserAgentTokens = splitCSV(env.String("CLI_USER_AGENT_TOKENS", "claude-code,claude-cli,gemini-cli,codex"))

// ClaudeExcludedBetaTokens are anthropic-beta tokens stripped from merged
// CLI beta headers, e.g. account-gated context window flags.
var ClaudeExcludedBetaTokens = splitCSV(env.String("CLAUDE_EXCLUDED_BETA_TOKENS", ""))

// ClaudeCacheTTLUnified normalises every cache_control.ttl on Claude CLI
// requests to one value ("ephemeral" or "1h") so tenants cannot be told
// apart by their cache class. Empty disables normalisation.
var ClaudeCacheTTLUnified = env.String("CLAUDE_CACHE_TTL_UNIFIED", "")

// SchedulerSettings selects how candidates from multiple providers are
// interleaved before pool reordering.
type SchedulerSettings struct {
	// Mode is provider_first (group by provider priority) or
	// global_key_first (flat ordering on key global priority).
	Mode                 string `validate:"oneof=provider_first global_key_first"`
	CacheAffinityEnabled bool
	// LastResortRateLimited would allow a rate-limited key as the final
	// fallback when nothing else is schedulable. Kept off.
	LastResortRateLimited bool
}

// Scheduler holds the active scheduler settings.
var Scheduler = SchedulerSettings{
	Mode:                  env.String("SCHEDULER_MODE", "provider_first"),
	CacheAffinityEnabled:  env.Bool("CACHE_AFFINITY_ENABLED", false),
	LastResortRateLimited: false,
}

// RetentionSettings controls the staged cleanup of persisted usage bodies.
type RetentionSettings struct {
	DetailDays     int `validate:"gte=0"`
	CompressedDays int `validate:"gte=0"`
	HeaderDays     int `validate:"gte=0"`
	LogDays        int `validate:"gte=0"`
	BatchSize      int `validate:"gt=0,lte=10000"`
}

// Retention holds the active retention schedule.
var Retention = RetentionSettings{
	DetailDays:     env.Int("RETENTION_DETAIL_DAYS", 7),
	CompressedDays: env.Int("RETENTION_COMPRESSED_DAYS", 90),
	HeaderDays:     env.Int("RETENTION_HEADER_DAYS", 90),
	LogDays:        env.Int("RETENTION_LOG_DAYS", 365),
	BatchSize:      env.Int("RETENTION_BATCH_SIZE", 1000),
}

// BatchFinalizeConcurrency bounds the prepare fanout of the batch usage
// recorder.
var BatchFinalizeConcurrency = env.Int("BATCH_FINALIZE_CONCURRENCY", 50)

// UsingSQLite / UsingPostgreSQL / UsingMySQL record which SQL dialect the
// relational layer connected to; some statements differ per dialect.
var (
	UsingSQLite     atomic.Bool
	UsingPostgreSQL atomic.Bool
	UsingMySQL      atomic.Bool
)

// RelayRequestTimeout returns RelayTimeout as a duration.
func RelayRequestTimeout() time.Duration {
	return time.Duration(RelayTimeout) * time.Second
}

// FirstByteTimeout returns StreamFirstByteTimeout as a duration.
func FirstByteTimeout() time.Duration {
	return time.Duration(StreamFirstByteTimeout) * time.Second
}

// Validate checks the startup configuration and returns a descriptive error
// for the first offending field.
func Validate() error {
	if SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}

	v := validator.New()
	if err := v.Struct(Scheduler); err != nil {
		return errors.Wrap(err, "validate scheduler settings")
	}
	if err := v.Struct(Retention); err != nil {
		return errors.Wrap(err, "validate retention settings")
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
