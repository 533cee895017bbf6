package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the refund server.
type Metrics struct {
	// Refund execution metrics
	RefundLegsTotal   *prometheus.CounterVec
	RefundAmountTotal *prometheus.CounterVec

	// External provider metrics
	ProviderCallDuration *prometheus.HistogramVec
	ProviderErrorsTotal  *prometheus.CounterVec

	// Fleet estimate job metrics
	EstimateRunsTotal *prometheus.CounterVec
	EstimateDuration  prometheus.Histogram

	// HTTP metrics
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitHitsTotal  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		RefundLegsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotapay_refund_legs_total",
				Help: "Total number of refund legs by provider and outcome",
			},
			[]string{"provider", "status"},
		),
		RefundAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotapay_refund_amount_cents_total",
				Help: "Total refunded amount in CNY cents by provider and outcome",
			},
			[]string{"provider", "status"},
		),

		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotapay_provider_call_duration_seconds",
				Help:    "Duration of external provider calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "operation"},
		),
		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotapay_provider_errors_total",
				Help: "Total number of failed external provider calls",
			},
			[]string{"provider", "operation"},
		),

		EstimateRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotapay_estimate_runs_total",
				Help: "Total number of fleet estimate job runs by terminal state",
			},
			[]string{"status"},
		),
		EstimateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quotapay_estimate_duration_seconds",
				Help:    "Wall-clock duration of fleet estimate job runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotapay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotapay_rate_limit_hits_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"route"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotapay_db_query_duration_seconds",
				Help:    "Duration of database queries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotapay_db_connections_active",
				Help: "Number of in-use database connections",
			},
		),
	}
}

// ObserveRefundLeg records one refund leg outcome and its amount.
func (m *Metrics) ObserveRefundLeg(provider, status string, amountCents int64) {
	if m == nil {
		return
	}
	m.RefundLegsTotal.WithLabelValues(provider, status).Inc()
	m.RefundAmountTotal.WithLabelValues(provider, status).Add(float64(amountCents))
}

// ObserveProviderCall records an external call's duration, counting failures.
func (m *Metrics) ObserveProviderCall(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
	if err != nil {
		m.ProviderErrorsTotal.WithLabelValues(provider, operation).Inc()
	}
}

// ObserveEstimateRun records a finished fleet estimate job.
func (m *Metrics) ObserveEstimateRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EstimateRunsTotal.WithLabelValues(status).Inc()
	m.EstimateDuration.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveRateLimitHit records a 429 rejection.
func (m *Metrics) ObserveRateLimitHit(route string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(route).Inc()
}

// ObserveDBQuery records a database query duration.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
