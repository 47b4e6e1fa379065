package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/browsergrid/handoff/detector"
	"github.com/browsergrid/handoff/session"
)

// Config is the complete service configuration.
type Config struct {
	// Server configures the HTTP control surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Intervention configures session lifecycle defaults.
	Intervention InterventionConfig `yaml:"intervention" env:"INTERVENTION"`

	// Detector tunes the built-in trigger rules.
	Detector detector.RuleConfig `yaml:"detector" env:"DETECTOR"`

	// Session configures session storage.
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Auth configures control-surface authentication.
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures tracing export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	// HTTPPort serves the intervention API and websocket feed.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort serves Prometheus metrics.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ReadTimeout for incoming requests.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout for responses.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS caps request throughput; zero disables limiting.
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the limiter burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// InterventionConfig configures session lifecycle defaults.
type InterventionConfig struct {
	// DefaultTimeout is the deadline applied to sessions opened without an
	// explicit timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// PollInterval is how often deadlines are swept.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// SessionConfig configures session storage.
type SessionConfig struct {
	// Backend selects the live session store: memory or redis.
	Backend string `yaml:"backend" env:"BACKEND"`
	// Redis applies when backend is redis.
	Redis session.RedisConfig `yaml:"redis" env:"REDIS"`
	// ArchiveEnabled turns on durable retention of closed sessions.
	ArchiveEnabled bool `yaml:"archive_enabled" env:"ARCHIVE_ENABLED"`
	// Archive applies when ArchiveEnabled is set.
	Archive session.ArchiveConfig `yaml:"archive" env:"ARCHIVE"`
}

// AuthConfig configures control-surface authentication.
type AuthConfig struct {
	// Enabled requires a bearer token on the intervention API.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// JWTSecret signs and verifies tokens.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// TokenTTL bounds issued token lifetime.
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stack traces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Intervention: DefaultInterventionConfig(),
		Session:      DefaultSessionConfig(),
		Auth:         DefaultAuthConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultInterventionConfig returns lifecycle defaults.
func DefaultInterventionConfig() InterventionConfig {
	return InterventionConfig{
		DefaultTimeout: 5 * time.Minute,
		PollInterval:   time.Second,
	}
}

// DefaultSessionConfig returns storage defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Backend: "memory",
		Redis: session.RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Archive: session.ArchiveConfig{
			Driver: "sqlite",
			Name:   "handoff.db",
		},
	}
}

// DefaultAuthConfig returns auth defaults. Auth is off by default so local
// development does not require a secret.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:  false,
		TokenTTL: 12 * time.Hour,
	}
}

// DefaultLogConfig returns logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns telemetry defaults.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "handoff",
		SampleRate:   0.1,
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	if c.Intervention.DefaultTimeout <= 0 {
		errs = append(errs, "intervention default_timeout must be positive")
	}
	if c.Intervention.PollInterval <= 0 {
		errs = append(errs, "intervention poll_interval must be positive")
	}

	switch c.Session.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown session backend %q", c.Session.Backend))
	}
	if c.Session.Backend == "redis" && c.Session.Redis.Addr == "" {
		errs = append(errs, "redis backend requires an address")
	}
	if c.Session.ArchiveEnabled {
		switch c.Session.Archive.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unknown archive driver %q", c.Session.Archive.Driver))
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth requires a JWT secret when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
