package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	// Server config
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Address = ":" + strings.TrimPrefix(port, ":")
	}
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	// Business database config
	setIfEnv(&c.Database.Host, "DB_HOST")
	setIntIfEnv(&c.Database.Port, "DB_PORT")
	setIfEnv(&c.Database.User, "DB_USER")
	setIfEnv(&c.Database.Password, "DB_PASSWORD")
	setIfEnv(&c.Database.Name, "DB_DATABASE")

	// Supabase audit store config
	setIfEnv(&c.Supabase.URL, "SUPABASE_URL")
	setIfEnv(&c.Supabase.ServiceRoleKey, "SUPABASE_SERVICE_ROLE_KEY")
	setIfEnv(&c.Supabase.JWTSecret, "SUPABASE_JWT_SECRET")
	setIfEnv(&c.Supabase.RefundTable, "SUPABASE_REFUND_TABLE")
	setIfEnv(&c.Supabase.AdminTable, "SUPABASE_ADMIN_TABLE")

	// Aggregator config
	setIfEnv(&c.Epay.BaseURL, "EPAY_BASE_URL")
	setIfEnv(&c.Epay.PID, "EPAY_PID")
	setIfEnv(&c.Epay.PrivateKey, "EPAY_PRIVATE_KEY")
	setIfEnv(&c.Epay.PublicKey, "EPAY_PUBLIC_KEY")
	setIfEnv(&c.Epay.SignType, "EPAY_SIGN_TYPE")

	// Card processor config
	setIfEnv(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")

	// Admin auth config
	setIfEnv(&c.Admin.APIKey, "ADMIN_API_KEY")
	setIfEnv(&c.Admin.CORSOrigin, "ADMIN_CORS_ORIGIN")
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		c.Admin.Emails = splitAndTrim(v)
	}

	// Refund engine config
	setIfEnv(&c.Refund.DefaultFeePercent, "REFUND_DEFAULT_FEE_PERCENT")
	setIntIfEnv(&c.Refund.EstimateWorkers, "REFUND_ESTIMATE_WORKERS")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setIntIfEnv(&c.RateLimit.Limit, "RATE_LIMIT_LIMIT")
	setDurationIfEnv(&c.RateLimit.Window, "RATE_LIMIT_WINDOW")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// splitAndTrim splits a comma separated list, trimming whitespace and
// dropping empty entries.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
