package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/quotapay/refund-server/internal/money"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Supabase.RefundTable == "" {
		c.Supabase.RefundTable = "refund_logs"
	}
	if c.Supabase.AdminTable == "" {
		c.Supabase.AdminTable = "admin_users"
	}
	if c.Refund.DefaultFeePercent == "" {
		c.Refund.DefaultFeePercent = "5"
	}
	if c.Refund.EstimateWorkers <= 0 {
		c.Refund.EstimateWorkers = 5
	}
	if c.Admin.CORSOrigin != "" {
		c.Server.CORSAllowedOrigins = append(c.Server.CORSAllowedOrigins, c.Admin.CORSOrigin)
	}

	// Normalize sign type so the epay client only ever sees RSA or RSA2.
	switch strings.ToUpper(strings.TrimSpace(c.Epay.SignType)) {
	case "RSA":
		c.Epay.SignType = "RSA"
	default:
		c.Epay.SignType = "RSA2"
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.Name == "" {
		errs = append(errs, "database.name is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port %d out of range", c.Database.Port))
	}

	if c.Supabase.URL == "" {
		errs = append(errs, "supabase.url is required")
	} else if err := validateHTTPURL(c.Supabase.URL); err != nil {
		errs = append(errs, fmt.Sprintf("supabase.url: %v", err))
	}
	if c.Supabase.ServiceRoleKey == "" {
		errs = append(errs, "supabase.service_role_key is required")
	}

	// At least one admin credential path must exist or every admin route 401s.
	if c.Admin.APIKey == "" && c.Supabase.JWTSecret == "" {
		errs = append(errs, "either admin.api_key or supabase.jwt_secret must be set")
	}

	if c.Epay.BaseURL != "" {
		if err := validateHTTPURL(c.Epay.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("epay.base_url: %v", err))
		}
		if c.Epay.PID == "" {
			errs = append(errs, "epay.pid is required when epay.base_url is set")
		}
		if c.Epay.PrivateKey == "" {
			errs = append(errs, "epay.private_key is required when epay.base_url is set")
		}
	}

	if _, err := money.ParseFeePercentBps(c.Refund.DefaultFeePercent, 500); err != nil {
		errs = append(errs, fmt.Sprintf("refund.default_fee_percent %q is not a valid percentage", c.Refund.DefaultFeePercent))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateHTTPURL checks that a URL parses and uses an http(s) scheme.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ApplyPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPoolSettings(db *sql.DB, pool PoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
