package storage

import (
	"database/sql"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/quotapay/refund-server/internal/metrics"
)

func TestParseBigInt(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain integer", "5000000", "5000000", false},
		{"zero", "0", "0", false},
		{"empty defaults to zero", "", "0", false},
		{"decimal zero scale", "5000000.00", "5000000", false},
		{"huge value", "92233720368547758080000", "92233720368547758080000", false},
		{"whitespace", " 42 ", "42", false},

		{"fractional quota", "10.50", "", true},
		{"letters", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBigInt(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBigInt(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("parseBigInt(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestObserveRecordsQueryMetrics(t *testing.T) {
	// sql.Open is lazy, so no database needs to be running.
	db, err := sql.Open("mysql", "user:pass@tcp(127.0.0.1:3306)/app")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	m := metrics.New(prometheus.NewRegistry())
	s := &MySQLStore{db: db, metrics: m}

	s.observe("get_user")()
	s.observe("get_user")()
	s.observe("reserve_quota")()

	if got := promtest.CollectAndCount(m.DBQueryDuration); got != 2 {
		t.Errorf("expected 2 duration series, got %d", got)
	}
	if got := promtest.ToFloat64(m.DBConnectionsActive); got != 0 {
		t.Errorf("expected 0 in-use connections on an idle pool, got %.0f", got)
	}
}

func TestObserveNilMetricsIsNoOp(t *testing.T) {
	db, err := sql.Open("mysql", "user:pass@tcp(127.0.0.1:3306)/app")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	s := &MySQLStore{db: db}
	s.observe("get_user")()
}
