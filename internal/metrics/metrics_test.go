package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRefundLeg(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRefundLeg("card", "succeeded", 2000)
	m.ObserveRefundLeg("card", "succeeded", 500)
	m.ObserveRefundLeg("aggregator", "failed", 950)

	count := promtest.ToFloat64(m.RefundLegsTotal.WithLabelValues("card", "succeeded"))
	if count != 2 {
		t.Errorf("expected 2 succeeded card legs, got %.0f", count)
	}
	amount := promtest.ToFloat64(m.RefundAmountTotal.WithLabelValues("card", "succeeded"))
	if amount != 2500 {
		t.Errorf("expected 2500 cents refunded on card, got %.0f", amount)
	}
	failed := promtest.ToFloat64(m.RefundLegsTotal.WithLabelValues("aggregator", "failed"))
	if failed != 1 {
		t.Errorf("expected 1 failed aggregator leg, got %.0f", failed)
	}
}

func TestObserveProviderCall(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveProviderCall("stripe", "refund", 120*time.Millisecond, nil)
	m.ObserveProviderCall("epay", "refund", 2*time.Second, errors.New("code 10021"))

	errCount := promtest.ToFloat64(m.ProviderErrorsTotal.WithLabelValues("epay", "refund"))
	if errCount != 1 {
		t.Errorf("expected 1 epay error, got %.0f", errCount)
	}
	okErrCount := promtest.ToFloat64(m.ProviderErrorsTotal.WithLabelValues("stripe", "refund"))
	if okErrCount != 0 {
		t.Errorf("expected 0 stripe errors, got %.0f", okErrCount)
	}
}

func TestObserveEstimateRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveEstimateRun("ready", 42*time.Second)
	m.ObserveEstimateRun("error", 3*time.Second)

	ready := promtest.ToFloat64(m.EstimateRunsTotal.WithLabelValues("ready"))
	if ready != 1 {
		t.Errorf("expected 1 ready run, got %.0f", ready)
	}
}

func TestMeasureDBQueryNilMetrics(t *testing.T) {
	// The helper must be a no-op when metrics are disabled.
	done := MeasureDBQuery(nil, "get_user", "mysql")
	done()

	RecordDBQuery(nil, "get_user", "mysql", time.Millisecond)
}

func TestObserveRateLimitHit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimitHit("/api/refund-estimate/users")
	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("/api/refund-estimate/users"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}
