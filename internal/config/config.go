package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the uiforge orchestration server.
type Config struct {
	Port      int
	Version   string
	APIKeys   string // comma-separated; empty disables auth
	Engine    EngineConfig
	Model     ModelConfig
	DNA       DNAConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
}

// EngineConfig tunes the orchestrator.
type EngineConfig struct {
	MaxConcurrency   int
	ContextWindow    int
	QualityThreshold float64
	MaxRefinements   int
	AcceptExpr       string
	TieBreak         string // "first" or "last"
	StageRetries     int
	RateLimitRetries int
	RateLimitDelay   time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	RunTimeout       time.Duration
	Depth            string
	PageSections     int
}

// ModelConfig points at the remote generative-model service.
type ModelConfig struct {
	URL            string
	APIKey         string
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
}

type DNAConfig struct {
	// DatabaseURL enables the PostgreSQL-backed store when set.
	DatabaseURL string
}

type ArchiveConfig struct {
	Enabled  bool
	Dir      string
	Compress bool
	// Retention > 0 starts a janitor that deletes older archives.
	Retention     time.Duration
	SweepInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
	ServiceName  string
	SampleRatio  float64 // 0 or >= 1 samples everything
	BufferSize   int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("UIFORGE_PORT", 8080),
		Version: envStr("UIFORGE_VERSION", "0.1.0"),
		APIKeys: envStr("UIFORGE_API_KEYS", ""),
		Engine: EngineConfig{
			MaxConcurrency:   envInt("UIFORGE_MAX_CONCURRENCY", 4),
			ContextWindow:    envInt("UIFORGE_CONTEXT_WINDOW", 8),
			QualityThreshold: envFloat("UIFORGE_QUALITY_THRESHOLD", 8.0),
			MaxRefinements:   envInt("UIFORGE_MAX_REFINEMENTS", 3),
			AcceptExpr:       envStr("UIFORGE_ACCEPT_EXPR", ""),
			TieBreak:         envStr("UIFORGE_TIE_BREAK", "first"),
			StageRetries:     envInt("UIFORGE_STAGE_RETRIES", 3),
			RateLimitRetries: envInt("UIFORGE_RATE_LIMIT_RETRIES", 3),
			RateLimitDelay:   envDur("UIFORGE_RATE_LIMIT_DELAY", 2*time.Second),
			BackoffInitial:   envDur("UIFORGE_BACKOFF_INITIAL", 500*time.Millisecond),
			BackoffMax:       envDur("UIFORGE_BACKOFF_MAX", 8*time.Second),
			RunTimeout:       envDur("UIFORGE_RUN_TIMEOUT", 5*time.Minute),
			Depth:            envStr("UIFORGE_REASONING_DEPTH", "medium"),
			PageSections:     envInt("UIFORGE_PAGE_SECTIONS", 3),
		},
		Model: ModelConfig{
			URL:            envStr("UIFORGE_MODEL_URL", "http://localhost:9090"),
			APIKey:         envStr("UIFORGE_MODEL_API_KEY", ""),
			RequestsPerSec: envFloat("UIFORGE_MODEL_RPS", 0),
			Burst:          envInt("UIFORGE_MODEL_BURST", 4),
			Timeout:        envDur("UIFORGE_MODEL_TIMEOUT", 120*time.Second),
		},
		DNA: DNAConfig{
			DatabaseURL: envStr("UIFORGE_DNA_DATABASE_URL", ""),
		},
		Archive: ArchiveConfig{
			Enabled:       envBool("UIFORGE_ARCHIVE_ENABLED", true),
			Dir:           envStr("UIFORGE_ARCHIVE_DIR", ""),
			Compress:      envBool("UIFORGE_ARCHIVE_COMPRESS", false),
			Retention:     envDur("UIFORGE_ARCHIVE_RETENTION", 0),
			SweepInterval: envDur("UIFORGE_ARCHIVE_SWEEP_INTERVAL", time.Hour),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "uiforge"),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
			BufferSize:   envInt("UIFORGE_TELEMETRY_BUFFER", 1024),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDur accepts Go duration strings ("750ms", "2m").
func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
