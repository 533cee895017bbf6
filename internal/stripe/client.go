// Package stripe wraps the card processor operations the refund engine needs:
// issuing idempotent refunds against charges or payment intents, and listing
// a customer's charge history for quote computation.
package stripe

import (
	"context"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/charge"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/refund"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/config"
	"github.com/quotapay/refund-server/internal/logger"
)

// Client wraps stripe-go operations used by the refund engine.
type Client struct {
	cfg config.StripeConfig
}

// NewClient sets up stripe-go with the provided credentials.
func NewClient(cfg config.StripeConfig) *Client {
	stripeapi.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CardCharge is the normalized view of a processor charge consumed by the
// quote algorithm. Amounts are in minor units.
type CardCharge struct {
	ID              string
	Created         int64
	Currency        string
	Amount          int64
	AmountRefunded  int64
	PaymentIntentID string
	Paid            bool
	Status          string
}

// Remaining returns the refundable minor units left on the charge.
func (c CardCharge) Remaining() int64 {
	if c.Amount <= c.AmountRefunded {
		return 0
	}
	return c.Amount - c.AmountRefunded
}

// RefundRequest targets one prior payment. Exactly one of PaymentIntentID or
// ChargeID must be set. AmountCents = 0 refunds the full remaining amount.
type RefundRequest struct {
	PaymentIntentID string
	ChargeID        string
	AmountCents     int64
	CustomerID      string // when set, ownership and state are verified first
	IdempotencyKey  string
}

// Refund issues a refund with the caller's idempotency key and returns the
// provider refund object verbatim for the audit log.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*stripeapi.Refund, error) {
	if (req.PaymentIntentID == "") == (req.ChargeID == "") {
		return nil, apierrors.New(apierrors.KindInternal,
			"stripe refund requires exactly one of payment_intent or charge")
	}

	if req.CustomerID != "" {
		if err := c.verifyTarget(ctx, req); err != nil {
			return nil, err
		}
	}

	params := &stripeapi.RefundParams{}
	if req.PaymentIntentID != "" {
		params.PaymentIntent = stripeapi.String(req.PaymentIntentID)
	} else {
		params.Charge = stripeapi.String(req.ChargeID)
	}
	if req.AmountCents > 0 {
		params.Amount = stripeapi.Int64(req.AmountCents)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	r, err := refund.New(params)
	if err != nil {
		return nil, apierrors.Newf(apierrors.KindProviderError, "stripe refund: %v", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("refund_id", logger.TruncateID(r.ID)).
		Str("target", logger.TruncateID(targetID(req))).
		Int64("amount_cents", req.AmountCents).
		Msg("stripe.refund.created")
	return r, nil
}

// verifyTarget confirms the payment belongs to the expected customer and is
// in succeeded state before money moves.
func (c *Client) verifyTarget(ctx context.Context, req RefundRequest) error {
	var (
		customerID string
		status     string
	)
	if req.PaymentIntentID != "" {
		pi, err := paymentintent.Get(req.PaymentIntentID, nil)
		if err != nil {
			return apierrors.Newf(apierrors.KindProviderError, "stripe get payment intent: %v", err)
		}
		if pi.Customer != nil {
			customerID = pi.Customer.ID
		}
		status = string(pi.Status)
	} else {
		ch, err := charge.Get(req.ChargeID, nil)
		if err != nil {
			return apierrors.Newf(apierrors.KindProviderError, "stripe get charge: %v", err)
		}
		if ch.Customer != nil {
			customerID = ch.Customer.ID
		}
		status = string(ch.Status)
	}

	if customerID != req.CustomerID {
		return apierrors.Newf(apierrors.KindCustomerMismatch,
			"payment %s belongs to customer %s, expected %s",
			logger.TruncateID(targetID(req)), logger.TruncateID(customerID), logger.TruncateID(req.CustomerID))
	}
	if !strings.EqualFold(status, "succeeded") {
		return apierrors.New(apierrors.KindNotSucceeded, fmt.Sprintf("not_succeeded:%s", status)).
			WithDetails("state", status)
	}
	return nil
}

// ListCustomerCharges pages through all charges for a customer, newest first
// per processor default, 100 per page.
func (c *Client) ListCustomerCharges(ctx context.Context, customerID string) ([]CardCharge, error) {
	params := &stripeapi.ChargeListParams{
		Customer: stripeapi.String(customerID),
	}
	params.Filters.AddFilter("limit", "", "100")
	params.Context = ctx

	var charges []CardCharge
	iter := charge.List(params)
	for iter.Next() {
		charges = append(charges, fromCharge(iter.Charge()))
	}
	if err := iter.Err(); err != nil {
		return nil, apierrors.Newf(apierrors.KindProviderError, "stripe list charges: %v", err)
	}
	return charges, nil
}

func fromCharge(ch *stripeapi.Charge) CardCharge {
	out := CardCharge{
		ID:             ch.ID,
		Created:        ch.Created,
		Currency:       string(ch.Currency),
		Amount:         ch.Amount,
		AmountRefunded: ch.AmountRefunded,
		Paid:           ch.Paid,
		Status:         string(ch.Status),
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntentID = ch.PaymentIntent.ID
	}
	return out
}

func targetID(req RefundRequest) string {
	if req.PaymentIntentID != "" {
		return req.PaymentIntentID
	}
	return req.ChargeID
}
