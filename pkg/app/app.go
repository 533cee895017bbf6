// Package app assembles the refund server: configuration, logging, the
// business database, the audit store, both payment providers, the refund
// engine, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/circuitbreaker"
	"github.com/quotapay/refund-server/internal/config"
	"github.com/quotapay/refund-server/internal/epay"
	"github.com/quotapay/refund-server/internal/estimate"
	"github.com/quotapay/refund-server/internal/httpserver"
	"github.com/quotapay/refund-server/internal/lifecycle"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/metrics"
	"github.com/quotapay/refund-server/internal/refund"
	"github.com/quotapay/refund-server/internal/storage"
	"github.com/quotapay/refund-server/internal/stripe"
)

// App holds the wired components for standalone serving.
type App struct {
	Config *config.Config
	Store  storage.Store
	Audit  auditlog.Store
	Engine *refund.Engine
	Job    *estimate.Job
	Server *httpserver.Server

	logger    zerolog.Logger
	resources *lifecycle.Manager
}

// New wires an App from config. The business database must be reachable;
// providers are optional and legs against an unconfigured one fail per leg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "refund-server",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:    cfg,
		logger:    appLogger,
		resources: lifecycle.NewManager(),
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	store, err := storage.NewMySQLStore(ctx, cfg.Database, metricsCollector)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.resources.Register("mysql", store)

	app.Audit = breakerAudit{
		inner:    auditlog.New(cfg.Supabase),
		breakers: breakers,
	}

	var card refund.CardProvider
	if cfg.Stripe.SecretKey != "" {
		card = cardProvider{
			client:   stripe.NewClient(cfg.Stripe),
			breakers: breakers,
			metrics:  metricsCollector,
		}
	} else {
		appLogger.Warn().Msg("app.stripe_disabled")
	}

	var aggregator refund.AggregatorProvider
	if cfg.Epay.PID != "" {
		epayClient, err := epay.New(epay.Config{
			BaseURL:    cfg.Epay.BaseURL,
			PID:        cfg.Epay.PID,
			PrivateKey: cfg.Epay.PrivateKey,
			PublicKey:  cfg.Epay.PublicKey,
			SignType:   cfg.Epay.SignType,
		})
		if err != nil {
			return nil, err
		}
		aggregator = aggregatorProvider{
			client:   epayClient,
			breakers: breakers,
			metrics:  metricsCollector,
		}
	} else {
		appLogger.Warn().Msg("app.epay_disabled")
	}

	app.Engine = refund.NewEngine(store, app.Audit, card, aggregator, cfg.Refund.DefaultFeePercent, metricsCollector)

	var charges estimate.ChargeLister
	if cp, ok := card.(cardProvider); ok {
		charges = cp
	}
	app.Job = estimate.NewJob(store, app.Audit, charges, app.Engine, cfg.Refund.EstimateWorkers, metricsCollector)

	app.Server = httpserver.New(cfg, store, app.Audit, app.Engine, app.Job, metricsCollector, appLogger)
	return app, nil
}

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("address", a.Config.Server.Address).Msg("server.listening")
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("server.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("server.shutdown_failed")
	}
	return a.Close()
}

// Close releases resources owned by the app.
func (a *App) Close() error {
	return a.resources.Close()
}
