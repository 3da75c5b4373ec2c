// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes pipeline settings
// such as chunk sizes, rule thresholds, upstream endpoints, retry policy,
// and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// UpstreamConfig groups the base URLs and credentials for the external
// collaborators the pipeline talks to.
type UpstreamConfig struct {
	SourceBaseURL  string // ticket source (query-results API)
	SourceAPIKey   string
	CoreBaseURL    string // order service + ticketing service
	ExtractBaseURL string // AI extraction service
	ExtractAPIKey  string
	SheetBaseURL   string // reporting sink
	SpreadsheetID  string
	TokenURL       string // credential validity probe
	Token          string // static bearer token (refreshed at runtime)

	// Saved-query ids on the source warehouse, one per ticket category.
	QueryAddress     int64
	QueryDate        int64
	QueryMissing     int64
	QuerySelfCollect int64
}

// RetryConfig bounds the backoff applied to transient upstream failures.
type RetryConfig struct {
	MaxAttempts int           // attempts per call, including the first
	InitialWait time.Duration // first backoff interval
	MaxWait     time.Duration // cap on a single interval
	CallTimeout time.Duration // per-request timeout
}

// RulesConfig carries the numeric thresholds the rule chains evaluate
// against. Values mirror the production defaults; tests override them.
type RulesConfig struct {
	StaleAfter        time.Duration // no-reason tickets older than this resolve
	MaxStorageDays    int           // days in storage after first failed attempt
	MaxRescheduleDays int           // date-change horizon from first attempt
	ExemptShipperID   int64         // shipper exempt from first-attempt requirement
	ManualMarker      string        // hand-off URL marker routed to manual check
	MetroProvinces    []string      // high-volume metro allowlist (plus shorthands)
}

// Config holds all configuration values for the application.
type Config struct {
	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Store
	DBPath string // SQLite path

	// Pipeline
	IngestChunk      int // rows per store insert batch
	OrderSearchChunk int // tracking ids per order-service call
	ResolveChunk     int // tickets per ticketing mass-update call
	AddressBatch     int // tickets per address-extraction prompt
	DateBatch        int // tickets per date-extraction prompt
	ExtractRPM       int // extraction requests per minute quota
	LockTTL          time.Duration

	Rules    RulesConfig
	Retry    RetryConfig
	Upstream UpstreamConfig

	// Ops endpoint
	OpsPort string

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		DBPath: getenv("DB_PATH", "triage.db"),

		IngestChunk:      getint("INGEST_CHUNK", 1000),
		OrderSearchChunk: getint("ORDER_SEARCH_CHUNK", 1000),
		ResolveChunk:     getint("RESOLVE_CHUNK", 1000),
		AddressBatch:     getint("ADDRESS_BATCH", 20),
		DateBatch:        getint("DATE_BATCH", 50),
		ExtractRPM:       getint("EXTRACT_RPM", 15),
		LockTTL:          getdur("LOCK_TTL", 30*time.Minute),

		Rules: RulesConfig{
			StaleAfter:        getdur("RULE_STALE_AFTER", 4*time.Hour),
			MaxStorageDays:    getint("RULE_MAX_STORAGE_DAYS", 5),
			MaxRescheduleDays: getint("RULE_MAX_RESCHEDULE_DAYS", 5),
			ExemptShipperID:   int64(getint("RULE_EXEMPT_SHIPPER_ID", 7314925)),
			ManualMarker:      getenv("RULE_MANUAL_MARKER", "https://alo.njv.vn"),
			MetroProvinces:    splitCSV(getenv("RULE_METRO_PROVINCES", "Hồ Chí Minh,Đà Nẵng,Hà Nội,HCM,ĐN,HN")),
		},

		Retry: RetryConfig{
			MaxAttempts: getint("RETRY_MAX_ATTEMPTS", 4),
			InitialWait: getdur("RETRY_INITIAL_WAIT", 500*time.Millisecond),
			MaxWait:     getdur("RETRY_MAX_WAIT", 30*time.Second),
			CallTimeout: getdur("CALL_TIMEOUT", 60*time.Second),
		},

		Upstream: UpstreamConfig{
			SourceBaseURL:  getenv("SOURCE_BASE_URL", ""),
			SourceAPIKey:   getenv("SOURCE_API_KEY", ""),
			CoreBaseURL:    getenv("CORE_BASE_URL", ""),
			ExtractBaseURL: getenv("EXTRACT_BASE_URL", ""),
			ExtractAPIKey:  getenv("EXTRACT_API_KEY", ""),
			SheetBaseURL:   getenv("SHEET_BASE_URL", ""),
			SpreadsheetID:  getenv("SPREADSHEET_ID", ""),
			TokenURL:       getenv("TOKEN_URL", ""),
			Token:          getenv("UPSTREAM_TOKEN", ""),

			QueryAddress:     int64(getint("SOURCE_QUERY_ADDRESS", 0)),
			QueryDate:        int64(getint("SOURCE_QUERY_DATE", 0)),
			QueryMissing:     int64(getint("SOURCE_QUERY_MISSING", 0)),
			QuerySelfCollect: int64(getint("SOURCE_QUERY_SELF_COLLECT", 0)),
		},

		OpsPort: getenv("OPS_PORT", "9090"),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ticket-triage"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks value ranges after defaults are applied.
func (c Config) validate() error {
	if c.DBPath == "" {
		return errors.New("config: DB_PATH must not be empty")
	}
	if c.IngestChunk <= 0 || c.OrderSearchChunk <= 0 || c.ResolveChunk <= 0 {
		return errors.New("config: chunk sizes must be positive")
	}
	if c.AddressBatch <= 0 || c.DateBatch <= 0 {
		return errors.New("config: extraction batch sizes must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("config: RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return errors.New("config: OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("config: invalid LOG_LEVEL")
	}
	return nil
}

// getenv returns the env var value or a default when unset/blank.
func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// splitCSV splits a comma-separated value, trimming whitespace and
// dropping empty items.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
