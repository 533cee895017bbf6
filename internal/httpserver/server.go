// Package httpserver is the administrative HTTP surface of the refund
// server: top-up browsing, per-user refund quote and execution, audit log
// queries, the fleet estimate job, and the public redacted activity view.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/config"
	"github.com/quotapay/refund-server/internal/estimate"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/metrics"
	"github.com/quotapay/refund-server/internal/refund"
	"github.com/quotapay/refund-server/internal/storage"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	store   storage.Store
	audit   auditlog.Store
	engine  *refund.Engine
	job     *estimate.Job
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, store storage.Store, audit auditlog.Store, engine *refund.Engine, job *estimate.Job, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:     cfg,
			store:   store,
			audit:   audit,
			engine:  engine,
			job:     job,
			metrics: metricsCollector,
			logger:  appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	handler := s.handlers
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(handler.metricsMiddleware)

	if cfg.RateLimit.Enabled {
		router.Use(httprate.LimitByIP(cfg.RateLimit.Limit, cfg.RateLimit.Window.Duration))
	}

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Public redacted activity view: no auth, never cached.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(noStoreMiddleware)
		r.Get(prefix+"/api/public/refunds/activity", handler.publicActivity)
		r.Get(prefix+"/api/public/refunds/activity/{id}", handler.publicActivityDetail)
	})

	// Admin surface. The refund execution path talks to two providers and
	// two stores in sequence, so it gets the long timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(handler.adminAuth)

		r.Get(prefix+"/api/topups", handler.listTopUps)
		r.Get(prefix+"/api/topups/{trade_no}", handler.getTopUp)
		r.Get(prefix+"/api/users", handler.searchUsers)
		r.Get(prefix+"/api/users/{uid}/refund-quote", handler.refundQuote)
		r.Post(prefix+"/api/users/{uid}/refund", handler.executeRefund)
		r.Get(prefix+"/api/refunds", handler.listRefunds)
		r.Get(prefix+"/api/refunds/{id}", handler.getRefund)
		r.Get(prefix+"/api/refund-estimate", handler.estimateState)
		r.Post(prefix+"/api/refund-estimate/recompute", handler.estimateRecompute)
		r.Post(prefix+"/api/refund-estimate/users", handler.estimateUsers)
		r.Post(prefix+"/api/refund", handler.refundTopUp)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
