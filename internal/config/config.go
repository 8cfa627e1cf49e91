// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, the upstream proxy, the audit trail, logging, rate limiting
// and observability.
//
// Values are read with envconfig; Load then normalizes and validates them.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `envconfig:"ENABLE_HSTS" default:"false"`
	HSTSMaxAge time.Duration `envconfig:"HSTS_MAX_AGE" default:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `envconfig:"OTEL_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure    bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	ServiceName string  `envconfig:"OTEL_SERVICE_NAME" default:"vault-admin"`
	SampleRatio float64 `envconfig:"OTEL_TRACES_SAMPLER_ARG" default:"1.0"`
}

// ProxyConfig controls the upstream admin API proxy.
type ProxyConfig struct {
	// APIBase is the upstream admin API base URL (required).
	APIBase string `envconfig:"API_BASE" required:"true"`
	// Timeout bounds each upstream exchange unless a route overrides it.
	Timeout time.Duration `envconfig:"PROXY_TIMEOUT" default:"30s"`
	// MaxBodyBytes caps inbound request bodies (CSV uploads included).
	MaxBodyBytes int64 `envconfig:"PROXY_MAX_BODY_BYTES" default:"20971520"`
}

// AuditConfig controls the local audit trail of proxied operations.
type AuditConfig struct {
	DBPath    string        `envconfig:"AUDIT_DB_PATH" default:"data/audit.db"`
	Retention time.Duration `envconfig:"AUDIT_RETENTION" default:"720h"`
	// PruneInterval is how often expired records are deleted.
	PruneInterval time.Duration `envconfig:"AUDIT_PRUNE_INTERVAL" default:"1h"`
	// RecordReads also records GET traffic.
	RecordReads bool `envconfig:"AUDIT_RECORD_READS" default:"false"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `envconfig:"PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	// WriteTimeout must exceed the longest proxy route timeout (uploads).
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"150s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	MaxHeaderBytes  int           `envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	// Console
	BasePath             string `envconfig:"BASE_PATH" default:"/vault-admin"`
	AdminV2Enabled       bool   `envconfig:"ADMIN_V2_ENABLED" default:"true"`
	IdempotencyKeyMaxLen int    `envconfig:"IDEMPOTENCY_KEY_MAX_LEN" default:"200"`

	Proxy ProxyConfig
	Audit AuditConfig

	// Rate limiting
	RateRPS   float64 `envconfig:"RATE_RPS" default:"5"`
	RateBurst int     `envconfig:"RATE_BURST" default:"10"`

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("unable to parse configuration: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.validate()
}

func (cfg *Config) normalize() {
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.BasePath = NormalizeBasePath(cfg.BasePath)
	cfg.Proxy.APIBase = strings.TrimRight(strings.TrimSpace(cfg.Proxy.APIBase), "/")
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if u, err := url.Parse(cfg.Proxy.APIBase); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("API_BASE must be an absolute http(s) URL")
	}
	if cfg.Proxy.Timeout <= 0 {
		return errors.New("PROXY_TIMEOUT must be > 0")
	}
	if cfg.Proxy.MaxBodyBytes <= 0 {
		return errors.New("PROXY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.IdempotencyKeyMaxLen < 1 {
		return errors.New("IDEMPOTENCY_KEY_MAX_LEN must be >= 1")
	}
	if strings.TrimSpace(cfg.Audit.DBPath) == "" {
		return errors.New("AUDIT_DB_PATH must not be empty")
	}
	if cfg.Audit.Retention < 0 || cfg.Audit.PruneInterval < 0 {
		return errors.New("AUDIT_RETENTION and AUDIT_PRUNE_INTERVAL must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (cfg Config) Addr() string { return ":" + strings.TrimPrefix(cfg.Port, ":") }

// NormalizeBasePath ensures a leading '/' and strips trailing '/'. Empty and
// "/" both mean root and yield "".
func NormalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
