package app

import (
	"context"
	"encoding/json"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"

	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/circuitbreaker"
	"github.com/quotapay/refund-server/internal/epay"
	"github.com/quotapay/refund-server/internal/metrics"
	"github.com/quotapay/refund-server/internal/refund"
	"github.com/quotapay/refund-server/internal/stripe"
)

// cardProvider adapts the Stripe client to the engine's provider contract,
// adding circuit breaking and call metrics.
type cardProvider struct {
	client   *stripe.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

func (p cardProvider) Refund(ctx context.Context, req stripe.RefundRequest) (refund.RefundOutcome, error) {
	start := time.Now()
	out, err := p.breakers.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		return p.client.Refund(ctx, req)
	})
	p.metrics.ObserveProviderCall("card", "refund", time.Since(start), err)
	if err != nil {
		return refund.RefundOutcome{}, err
	}

	ref := out.(*stripeapi.Refund)
	raw, _ := json.Marshal(ref)
	return refund.RefundOutcome{ProviderRefundNo: ref.ID, Raw: raw}, nil
}

func (p cardProvider) ListCustomerCharges(ctx context.Context, customerID string) ([]stripe.CardCharge, error) {
	start := time.Now()
	out, err := p.breakers.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		return p.client.ListCustomerCharges(ctx, customerID)
	})
	p.metrics.ObserveProviderCall("card", "list_charges", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out.([]stripe.CardCharge), nil
}

// aggregatorProvider adapts the epay client the same way.
type aggregatorProvider struct {
	client   *epay.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

func (p aggregatorProvider) Refund(ctx context.Context, req epay.RefundRequest) (refund.RefundOutcome, error) {
	start := time.Now()
	out, err := p.breakers.Execute(circuitbreaker.ServiceEpay, func() (interface{}, error) {
		return p.client.Refund(ctx, req)
	})
	p.metrics.ObserveProviderCall("aggregator", "refund", time.Since(start), err)
	if err != nil {
		return refund.RefundOutcome{}, err
	}

	resp := out.(*epay.RefundResponse)
	return refund.RefundOutcome{ProviderRefundNo: resp.RefundNo, Raw: resp.Raw}, nil
}

// breakerAudit wraps the audit store so a degraded Supabase trips the
// breaker instead of stalling every refund on timeouts.
type breakerAudit struct {
	inner    auditlog.Store
	breakers *circuitbreaker.Manager
}

func (a breakerAudit) execute(fn func() (interface{}, error)) (interface{}, error) {
	return a.breakers.Execute(circuitbreaker.ServiceSupabase, fn)
}

func (a breakerAudit) Insert(ctx context.Context, log *auditlog.RefundLog) error {
	_, err := a.execute(func() (interface{}, error) {
		return nil, a.inner.Insert(ctx, log)
	})
	return err
}

func (a breakerAudit) MarkSucceeded(ctx context.Context, id, providerRefundNo string, rawResponse json.RawMessage) error {
	_, err := a.execute(func() (interface{}, error) {
		return nil, a.inner.MarkSucceeded(ctx, id, providerRefundNo, rawResponse)
	})
	return err
}

func (a breakerAudit) MarkFailed(ctx context.Context, id, errMsg string, rawResponse json.RawMessage) error {
	_, err := a.execute(func() (interface{}, error) {
		return nil, a.inner.MarkFailed(ctx, id, errMsg, rawResponse)
	})
	return err
}

func (a breakerAudit) ListByUser(ctx context.Context, uid int64) ([]auditlog.RefundLog, error) {
	out, err := a.execute(func() (interface{}, error) {
		return a.inner.ListByUser(ctx, uid)
	})
	if err != nil {
		return nil, err
	}
	return out.([]auditlog.RefundLog), nil
}

func (a breakerAudit) ListAll(ctx context.Context) ([]auditlog.RefundLog, error) {
	out, err := a.execute(func() (interface{}, error) {
		return a.inner.ListAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]auditlog.RefundLog), nil
}

func (a breakerAudit) List(ctx context.Context, filter auditlog.ListFilter) ([]auditlog.RefundLog, error) {
	out, err := a.execute(func() (interface{}, error) {
		return a.inner.List(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return out.([]auditlog.RefundLog), nil
}

func (a breakerAudit) Get(ctx context.Context, id string) (auditlog.RefundLog, error) {
	out, err := a.execute(func() (interface{}, error) {
		return a.inner.Get(ctx, id)
	})
	if err != nil {
		return auditlog.RefundLog{}, err
	}
	return out.(auditlog.RefundLog), nil
}

func (a breakerAudit) IsAdmin(ctx context.Context, subject string) (bool, error) {
	out, err := a.execute(func() (interface{}, error) {
		return a.inner.IsAdmin(ctx, subject)
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}
