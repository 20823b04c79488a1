// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, rate limiting, the scan pipeline (preprocessing,
// barcode detection, extraction, caching), merchant enrichment, sync, and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-receipt-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ExtractionConfig configures the vision completion backend.
type ExtractionConfig struct {
	APIKey  string        // OPENAI_API_KEY
	BaseURL string        // OPENAI_BASE_URL (optional, OpenAI-compatible gateways)
	Model   string        // OPENAI_MODEL
	Timeout time.Duration // EXTRACTION_TIMEOUT, per call
}

// PreprocessConfig bounds the images sent to extraction.
type PreprocessConfig struct {
	MaxHeight   int // PREPROCESS_MAX_HEIGHT, pixels
	JPEGQuality int // PREPROCESS_JPEG_QUALITY, 1..100
}

// BarcodeConfig configures best-effort barcode detection.
type BarcodeConfig struct {
	Enabled bool
	Timeout time.Duration
}

// CacheConfig configures the extraction result cache.
type CacheConfig struct {
	Backend       string        // CACHE_BACKEND: redis|memory|none
	RedisAddr     string        // REDIS_ADDR
	RedisPassword string        // REDIS_PASSWORD
	RedisDB       int           // REDIS_DB
	TTL           time.Duration // CACHE_TTL for found/not-found results
	FailureTTL    time.Duration // CACHE_FAILURE_TTL for validation failures
}

// EnrichmentConfig configures the merchant enrichment provider (Plaid).
type EnrichmentConfig struct {
	Enabled  bool
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 90s, scans wait on the extraction call
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Request limits
	MaxBodyBytes   int64 // JSON endpoints
	MaxUploadBytes int64 // multipart scan uploads

	// Rate limiting
	RateRPS       float64 // tokens per second (>= 0)
	RateBurst     int     // bucket size (>= 1)
	ScanRateRPS   float64 // stricter bucket for the scan endpoint
	ScanRateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Scan pipeline
	Extraction ExtractionConfig
	Preprocess PreprocessConfig
	Barcode    BarcodeConfig
	Cache      CacheConfig

	// Sync
	Enrichment      EnrichmentConfig
	SyncConcurrency int // parallel entries per push batch

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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "app.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// Request limits
		MaxBodyBytes:   int64(getint("MAX_BODY_BYTES", 4<<20)),
		MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 12<<20)),

		// Rate limiting
		RateRPS:       getfloat("RATE_RPS", 5.0),
		RateBurst:     getint("RATE_BURST", 10),
		ScanRateRPS:   getfloat("SCAN_RATE_RPS", 0.5),
		ScanRateBurst: getint("SCAN_RATE_BURST", 3),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Scan pipeline
		Extraction: ExtractionConfig{
			APIKey:  getenv("OPENAI_API_KEY", ""),
			BaseURL: getenv("OPENAI_BASE_URL", ""),
			Model:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: getdur("EXTRACTION_TIMEOUT", 60*time.Second),
		},
		Preprocess: PreprocessConfig{
			MaxHeight:   getint("PREPROCESS_MAX_HEIGHT", 1280),
			JPEGQuality: getint("PREPROCESS_JPEG_QUALITY", 85),
		},
		Barcode: BarcodeConfig{
			Enabled: getbool("BARCODE_ENABLED", true),
			Timeout: getdur("BARCODE_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(getenv("CACHE_BACKEND", "redis")),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			TTL:           getdur("CACHE_TTL", 24*time.Hour),
			FailureTTL:    getdur("CACHE_FAILURE_TTL", 15*time.Minute),
		},

		// Sync
		Enrichment: EnrichmentConfig{
			Enabled:  getbool("ENRICHMENT_ENABLED", true),
			BaseURL:  strings.TrimRight(getenv("PLAID_BASE_URL", "https://production.plaid.com"), "/"),
			ClientID: getenv("PLAID_CLIENT_ID", ""),
			Secret:   getenv("PLAID_SECRET", ""),
			Timeout:  getdur("ENRICHMENT_TIMEOUT", 5*time.Second),
		},
		SyncConcurrency: getint("SYNC_CONCURRENCY", 4),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-receipt-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" {
		cfg.DBDriver = "postgres"
	}
	// Enrichment without credentials would only ever return empty results.
	if cfg.Enrichment.ClientID == "" || cfg.Enrichment.Secret == "" {
		cfg.Enrichment.Enabled = false
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.MaxBodyBytes <= 0 || cfg.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES and MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 || cfg.ScanRateRPS < 0 {
		return cfg, errors.New("RATE_RPS and SCAN_RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 || cfg.ScanRateBurst < 1 {
		return cfg, errors.New("RATE_BURST and SCAN_RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.Extraction.Model) == "" {
		return cfg, errors.New("OPENAI_MODEL must not be empty")
	}
	if cfg.Extraction.Timeout <= 0 {
		return cfg, errors.New("EXTRACTION_TIMEOUT must be > 0")
	}
	if cfg.Preprocess.MaxHeight < 1 {
		return cfg, errors.New("PREPROCESS_MAX_HEIGHT must be >= 1")
	}
	if cfg.Preprocess.JPEGQuality < 1 || cfg.Preprocess.JPEGQuality > 100 {
		return cfg, errors.New("PREPROCESS_JPEG_QUALITY must be in [1,100]")
	}
	if cfg.Barcode.Timeout <= 0 {
		return cfg, errors.New("BARCODE_TIMEOUT must be > 0")
	}
	switch cfg.Cache.Backend {
	case "redis", "memory", "none":
	default:
		return cfg, errors.New("CACHE_BACKEND must be one of: redis, memory, none")
	}
	if cfg.Cache.TTL <= 0 || cfg.Cache.FailureTTL <= 0 {
		return cfg, errors.New("CACHE_TTL and CACHE_FAILURE_TTL must be > 0")
	}
	if cfg.Enrichment.Timeout <= 0 {
		return cfg, errors.New("ENRICHMENT_TIMEOUT must be > 0")
	}
	if cfg.SyncConcurrency < 1 {
		return cfg, errors.New("SYNC_CONCURRENCY must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
