package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func validEnv() map[string]string {
	return map[string]string{
		"DB_USER":                   "refund",
		"DB_DATABASE":               "billing",
		"SUPABASE_URL":              "https://proj.supabase.co",
		"SUPABASE_SERVICE_ROLE_KEY": "sr-key",
		"ADMIN_API_KEY":             "admin-key",
	}
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	os.Clearenv()
	for k, v := range vars {
		os.Setenv(k, v)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()

	cfg, err := Load("")
	if err == nil {
		t.Fatal("expected error when required fields are missing, got nil")
	}
	if cfg != nil {
		t.Fatal("expected nil config when validation fails")
	}
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name    string
		drop    string
		wantErr string
	}{
		{"missing db user", "DB_USER", "database.user is required"},
		{"missing db name", "DB_DATABASE", "database.name is required"},
		{"missing supabase url", "SUPABASE_URL", "supabase.url is required"},
		{"missing service role key", "SUPABASE_SERVICE_ROLE_KEY", "supabase.service_role_key is required"},
		{"missing admin credentials", "ADMIN_API_KEY", "either admin.api_key or supabase.jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := validEnv()
			delete(vars, tt.drop)
			setEnv(t, vars)

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	defer os.Clearenv()
	setEnv(t, validEnv())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("address = %s, want :8080", cfg.Server.Address)
	}
	if cfg.Refund.DefaultFeePercent != "5" {
		t.Errorf("default fee = %s, want 5", cfg.Refund.DefaultFeePercent)
	}
	if cfg.Refund.EstimateWorkers != 5 {
		t.Errorf("estimate workers = %d, want 5", cfg.Refund.EstimateWorkers)
	}
	if cfg.Supabase.RefundTable != "refund_logs" || cfg.Supabase.AdminTable != "admin_users" {
		t.Errorf("supabase tables = %s/%s", cfg.Supabase.RefundTable, cfg.Supabase.AdminTable)
	}
	if cfg.Epay.SignType != "RSA2" {
		t.Errorf("sign type = %s, want RSA2", cfg.Epay.SignType)
	}
	if cfg.Database.Pool.ConnMaxLifetime.Duration != 5*time.Minute {
		t.Errorf("pool lifetime = %v", cfg.Database.Pool.ConnMaxLifetime.Duration)
	}
}

func TestLoadConfig_EpayConditionalRequirements(t *testing.T) {
	defer os.Clearenv()

	vars := validEnv()
	vars["EPAY_BASE_URL"] = "https://pay.example.com"
	setEnv(t, vars)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "epay.pid is required") {
		t.Errorf("missing pid not reported: %v", err)
	}
	if !strings.Contains(err.Error(), "epay.private_key is required") {
		t.Errorf("missing private key not reported: %v", err)
	}
}

func TestLoadConfig_SignTypeNormalization(t *testing.T) {
	defer os.Clearenv()

	vars := validEnv()
	vars["EPAY_SIGN_TYPE"] = "rsa"
	setEnv(t, vars)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Epay.SignType != "RSA" {
		t.Errorf("sign type = %s, want RSA", cfg.Epay.SignType)
	}
}

func TestLoadConfig_InvalidFeePercent(t *testing.T) {
	defer os.Clearenv()

	vars := validEnv()
	vars["REFUND_DEFAULT_FEE_PERCENT"] = "101"
	setEnv(t, vars)

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "default_fee_percent") {
		t.Errorf("expected fee percent validation error, got %v", err)
	}
}
