package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Supabase       SupabaseConfig       `yaml:"supabase"`
	Epay           EpayConfig           `yaml:"epay"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Admin          AdminConfig          `yaml:"admin"`
	Refund         RefundConfig         `yaml:"refund"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api/refund-admin")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds the business MySQL connection settings.
// The business database owns users and top-up records.
type DatabaseConfig struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Name     string     `yaml:"name"`
	Pool     PoolConfig `yaml:"pool"`
}

// DSN renders the go-sql-driver/mysql connection string.
// parseTime is required: top-up timestamps scan into time.Time.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// SupabaseConfig holds the refund audit store connection settings.
// The audit store is a Supabase project reached over PostgREST.
type SupabaseConfig struct {
	URL            string `yaml:"url"`
	ServiceRoleKey string `yaml:"service_role_key"`
	JWTSecret      string `yaml:"jwt_secret"`   // HS256 secret for verifying admin JWTs
	RefundTable    string `yaml:"refund_table"` // default: refund_logs
	AdminTable     string `yaml:"admin_table"`  // default: admin_users
}

// EpayConfig holds the aggregator payment provider settings.
type EpayConfig struct {
	BaseURL    string `yaml:"base_url"`
	PID        string `yaml:"pid"`
	PrivateKey string `yaml:"private_key"` // merchant RSA key: PEM, base64 PEM, or base64 DER (PKCS#8/PKCS#1)
	PublicKey  string `yaml:"public_key"`  // platform key for response verification; empty skips verification
	SignType   string `yaml:"sign_type"`   // RSA (SHA-1) | RSA2 (SHA-256), default RSA2
}

// StripeConfig holds the card processor settings.
type StripeConfig struct {
	SecretKey string `yaml:"secret_key"`
}

// AdminConfig holds administrative authentication settings.
type AdminConfig struct {
	APIKey     string   `yaml:"api_key"`     // shared bearer key; empty disables key auth
	Emails     []string `yaml:"emails"`      // JWT subject allowlist, compared case-insensitively
	CORSOrigin string   `yaml:"cors_origin"` // single allowed origin for the admin console
}

// RefundConfig holds refund engine tunables.
type RefundConfig struct {
	DefaultFeePercent string `yaml:"default_fee_percent"` // default: "5"
	EstimateWorkers   int    `yaml:"estimate_workers"`    // fleet estimate fan-out width, default: 5
}

// RateLimitConfig holds rate limiting configuration for the admin surface.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Limit   int      `yaml:"limit"`  // requests allowed per window per IP
	Window  Duration `yaml:"window"` // time window
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when a provider is degraded.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	StripeAPI   BreakerServiceConfig `yaml:"stripe_api"`
	EpayAPI     BreakerServiceConfig `yaml:"epay_api"`
	SupabaseAPI BreakerServiceConfig `yaml:"supabase_api"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // minimum requests before checking ratio (default: 10)
}
