package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/epay"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/metrics"
	"github.com/quotapay/refund-server/internal/money"
	"github.com/quotapay/refund-server/internal/storage"
	"github.com/quotapay/refund-server/internal/stripe"
)

// BusinessStore is the slice of the MySQL layer the engine needs.
type BusinessStore interface {
	GetUser(ctx context.Context, uid int64) (storage.User, error)
	ListUserTopUps(ctx context.Context, uid int64) ([]storage.TopUp, error)
	ReserveQuota(ctx context.Context, uid int64, delta *big.Int) error
	ReleaseQuota(ctx context.Context, uid int64, delta *big.Int) error
	RefundTopUpTx(ctx context.Context, tradeNo string, fn func(storage.TopUp) (*big.Int, error)) (storage.TopUp, error)
}

// RefundOutcome is what a provider call yields on success: the provider's
// own refund identifier and the verbatim response for the audit log.
type RefundOutcome struct {
	ProviderRefundNo string
	Raw              json.RawMessage
}

// CardProvider issues refunds and lists charges at the card processor.
type CardProvider interface {
	Refund(ctx context.Context, req stripe.RefundRequest) (RefundOutcome, error)
	ListCustomerCharges(ctx context.Context, customerID string) ([]stripe.CardCharge, error)
}

// AggregatorProvider issues refunds at the Alipay/WeChat aggregator.
type AggregatorProvider interface {
	Refund(ctx context.Context, req epay.RefundRequest) (RefundOutcome, error)
}

// Engine executes refunds: quote, derive, then reserve -> log -> call ->
// settle per leg, with compensating rollback on provider failure.
type Engine struct {
	store      BusinessStore
	audit      auditlog.Store
	card       CardProvider
	aggregator AggregatorProvider
	defaultFee string
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewEngine wires an Engine. card and aggregator may be nil when the
// corresponding channel is not configured; legs for a nil channel fail as
// provider errors.
func NewEngine(store BusinessStore, audit auditlog.Store, card CardProvider, aggregator AggregatorProvider, defaultFeePercent string, m *metrics.Metrics) *Engine {
	if defaultFeePercent == "" {
		defaultFeePercent = "5"
	}
	return &Engine{
		store:      store,
		audit:      audit,
		card:       card,
		aggregator: aggregator,
		defaultFee: defaultFeePercent,
		metrics:    m,
		now:        time.Now,
	}
}

// BuildQuote gathers a user's inputs and computes the refund quote.
func (e *Engine) BuildQuote(ctx context.Context, uid int64) (*Quote, error) {
	user, err := e.store.GetUser(ctx, uid)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.Newf(apierrors.KindUserNotFound, "user %d not found", uid)
		}
		return nil, err
	}

	topups, err := e.store.ListUserTopUps(ctx, uid)
	if err != nil {
		return nil, err
	}
	logs, err := e.audit.ListByUser(ctx, uid)
	if err != nil {
		return nil, err
	}

	var charges []stripe.CardCharge
	if user.StripeCustomerID != "" && e.card != nil {
		charges, err = e.card.ListCustomerCharges(ctx, user.StripeCustomerID)
		if err != nil {
			return nil, err
		}
	}

	return Compute(user, topups, logs, charges)
}

// ExecuteRequest carries the operator's inputs for one refund batch.
type ExecuteRequest struct {
	UserID        int64
	AmountYuan    string
	FeePercent    string
	MinRefundYuan string
	MaxRefundYuan string
	ClearBalance  bool
	DryRun        bool
	PerformedBy   string
}

// LegResult records one external refund call within a batch.
type LegResult struct {
	Provider     string   `json:"provider"`
	TargetID     string   `json:"target_id"`
	AmountCents  *big.Int `json:"-"`
	AmountYuan   string   `json:"amount_yuan"`
	QuotaDelta   string   `json:"quota_delta"`
	OutRefundNo  string   `json:"out_refund_no"`
	RefundLogID  string   `json:"refund_log_id,omitempty"`
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Warning      string   `json:"warning,omitempty"`
}

// ExecuteResult is the batch outcome, partial or complete.
type ExecuteResult struct {
	UserID           int64
	BatchID          string
	DryRun           bool
	DueCents         *big.Int
	GrossCents       *big.Int
	FeeCents         *big.Int
	NetCents         *big.Int
	FeeBps           int64
	TargetQuotaDelta *big.Int
	Plan             Plan
	Legs             []LegResult
	RefundedCents    *big.Int
	RemainingCents   *big.Int
	ResidualQuota    *big.Int
}

// legTarget is one candidate refund sink with its remaining capacity.
type legTarget struct {
	provider      string
	targetID      string
	cap           *big.Int
	paymentMethod string
	currency      string
	tradeNo       string
	chargeID      string
	paymentIntent string
}

// Execute runs a refund batch. Legs are strictly serialized: the user's
// quota decrement is the shared resource and concurrent legs would race on
// the quota >= delta predicate.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	quote, err := e.BuildQuote(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	feeBps, err := money.ParseFeePercentBps(req.FeePercent, e.mustDefaultFeeBps())
	if err != nil {
		return nil, apierrors.Newf(apierrors.KindInvalidFee, "fee_percent %q: %v", req.FeePercent, err)
	}

	gross := new(big.Int).Set(quote.DueCents)
	if strings.TrimSpace(req.AmountYuan) != "" {
		override, err := money.ParseYuanToCents(req.AmountYuan)
		if err != nil || override.Sign() <= 0 {
			return nil, apierrors.Newf(apierrors.KindInvalidAmount, "amount_yuan %q", req.AmountYuan)
		}
		gross = money.MinBig(override, quote.DueCents)
	}
	if gross.Sign() <= 0 {
		return nil, apierrors.New(apierrors.KindNothingToRefund, "no refundable balance")
	}

	fee := new(big.Int).Mul(gross, big.NewInt(feeBps))
	fee.Quo(fee, big.NewInt(10000))
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() <= 0 {
		return nil, apierrors.Newf(apierrors.KindFeeTooHigh,
			"fee %s leaves nothing to refund from %s yuan",
			money.FormatCentsToYuan(fee), money.FormatCentsToYuan(gross)).
			WithDetails("fee_bps", feeBps)
	}

	if err := checkRange(net, req.MinRefundYuan, req.MaxRefundYuan); err != nil {
		return nil, err
	}

	targetQuotaDelta := money.CentsToQuota(gross)
	if req.ClearBalance {
		targetQuotaDelta = new(big.Int).Set(quote.User.Quota)
	}

	batchID := fmt.Sprintf("userrefund_%d_%d", req.UserID, e.now().UnixMilli())
	result := &ExecuteResult{
		UserID:           req.UserID,
		BatchID:          batchID,
		DryRun:           req.DryRun,
		DueCents:         quote.DueCents,
		GrossCents:       gross,
		FeeCents:         fee,
		NetCents:         net,
		FeeBps:           feeBps,
		TargetQuotaDelta: targetQuotaDelta,
		Plan:             quote.Plan,
		RefundedCents:    new(big.Int),
		RemainingCents:   new(big.Int).Set(net),
		ResidualQuota:    new(big.Int),
	}
	if req.DryRun {
		return result, nil
	}

	trace := quoteTrace(quote)
	trace.add("inputs", map[string]interface{}{
		"amount_yuan":   req.AmountYuan,
		"fee_percent":   req.FeePercent,
		"clear_balance": req.ClearBalance,
	})
	trace.add("fee", map[string]interface{}{
		"fee_bps":     feeBps,
		"gross_cents": gross.String(),
		"fee_cents":   fee.String(),
		"net_cents":   net.String(),
	})
	trace.add("quota_delta", map[string]interface{}{
		"clear_balance":      req.ClearBalance,
		"target_quota_delta": targetQuotaDelta.String(),
	})
	trace.add("execution.init", map[string]interface{}{
		"batch_id":        batchID,
		"remaining_cents": net.String(),
	})

	targets, err := e.legTargets(ctx, quote)
	if err != nil {
		return nil, err
	}

	return e.runLegs(ctx, quote, req, result, targets, trace)
}

// runLegs walks the ordered targets, executing the reserve -> log -> call ->
// settle protocol until net_cents is exhausted or a leg fails.
func (e *Engine) runLegs(ctx context.Context, quote *Quote, req ExecuteRequest, result *ExecuteResult, targets []legTarget, trace *traceBuilder) (*ExecuteResult, error) {
	log := logger.FromContext(ctx)
	remainingCents := result.RemainingCents
	remainingQuota := new(big.Int).Set(result.TargetQuotaDelta)

	for _, target := range targets {
		if remainingCents.Sign() <= 0 {
			break
		}
		amount := money.MinBig(target.cap, remainingCents)
		if amount.Sign() <= 0 {
			continue
		}

		// Proportional split; the final leg absorbs the rounding remainder
		// through the >= branch.
		var deltaQuota *big.Int
		if amount.Cmp(remainingCents) >= 0 {
			deltaQuota = new(big.Int).Set(remainingQuota)
		} else {
			deltaQuota = new(big.Int).Mul(remainingQuota, amount)
			deltaQuota.Quo(deltaQuota, remainingCents)
		}

		outRefundNo := fmt.Sprintf("%s_%s_%s_%s", target.provider, result.BatchID, target.targetID, amount.String())
		leg := LegResult{
			Provider:    target.provider,
			TargetID:    target.targetID,
			AmountCents: amount,
			AmountYuan:  money.FormatCentsToYuan(amount),
			QuotaDelta:  deltaQuota.String(),
			OutRefundNo: outRefundNo,
		}

		// Reserve.
		if err := e.store.ReserveQuota(ctx, req.UserID, deltaQuota); err != nil {
			leg.Status = auditlog.StatusFailed
			leg.ErrorMessage = err.Error()
			result.Legs = append(result.Legs, leg)
			return result, abortError(result, remainingCents, err)
		}

		// Log pending. A row must exist before the provider moves money.
		legTrace := trace.withOp(map[string]interface{}{
			"provider":        target.provider,
			"target_id":       target.targetID,
			"amount_cents":    amount.String(),
			"delta_quota":     deltaQuota.String(),
			"remaining_cents": remainingCents.String(),
		})
		row := &auditlog.RefundLog{
			UserID:              req.UserID,
			TopUpTradeNo:        target.tradeNo,
			CardChargeID:        target.chargeID,
			CardPaymentIntentID: target.paymentIntent,
			PaymentMethod:       target.paymentMethod,
			Currency:            target.currency,
			RefundMoney:         money.FormatCentsToYuan(amount),
			RefundMoneyMinor:    amount.Int64(),
			QuotaDelta:          deltaQuota.String(),
			Provider:            target.provider,
			OutRefundNo:         outRefundNo,
			Status:              auditlog.StatusPending,
			PerformedBy:         req.PerformedBy,
			RawRequest:          legTrace.raw(),
		}
		if err := e.audit.Insert(ctx, row); err != nil {
			if relErr := e.store.ReleaseQuota(ctx, req.UserID, deltaQuota); relErr != nil {
				log.Error().Err(relErr).Int64("user_id", req.UserID).
					Msg("refund.execute.release_after_log_failure_failed")
			}
			leg.Status = auditlog.StatusFailed
			leg.ErrorMessage = err.Error()
			result.Legs = append(result.Legs, leg)
			return result, abortError(result, remainingCents, err)
		}
		leg.RefundLogID = row.ID

		// Provider call with idempotency key = out_refund_no.
		outcome, callErr := e.callProvider(ctx, quote, target, amount, outRefundNo)

		// Settle.
		if callErr != nil {
			if relErr := e.store.ReleaseQuota(ctx, req.UserID, deltaQuota); relErr != nil {
				log.Error().Err(relErr).Int64("user_id", req.UserID).
					Msg("refund.execute.compensation_failed")
			}
			if markErr := e.audit.MarkFailed(ctx, row.ID, callErr.Error(), failureRaw(callErr)); markErr != nil {
				log.Error().Err(markErr).Str("refund_log_id", row.ID).
					Msg("refund.execute.mark_failed_failed")
			}
			e.observeLeg(target.provider, "failed", amount)
			leg.Status = auditlog.StatusFailed
			leg.ErrorMessage = callErr.Error()
			result.Legs = append(result.Legs, leg)
			return result, abortError(result, remainingCents, callErr)
		}

		leg.Status = auditlog.StatusSucceeded
		if err := e.audit.MarkSucceeded(ctx, row.ID, outcome.ProviderRefundNo, outcome.Raw); err != nil {
			// The external side already refunded: the leg counts, loudly.
			leg.Warning = fmt.Sprintf("refund log update failed: %v", err)
			log.Warn().Err(err).Str("refund_log_id", row.ID).
				Msg("refund.execute.mark_succeeded_failed")
		}
		e.observeLeg(target.provider, "succeeded", amount)

		remainingCents.Sub(remainingCents, amount)
		remainingQuota.Sub(remainingQuota, deltaQuota)
		result.RefundedCents.Add(result.RefundedCents, amount)
		result.Legs = append(result.Legs, leg)
	}

	if remainingCents.Sign() > 0 {
		// Integer truncation can leave a few reserved quota units behind;
		// they stay reserved and are reported, never silently dropped.
		result.ResidualQuota = remainingQuota
		return result, apierrors.Newf(apierrors.KindRefundIncomplete,
			"refunded %s of %s yuan, no capacity left for the remainder",
			money.FormatCentsToYuan(result.RefundedCents), money.FormatCentsToYuan(result.NetCents)).
			WithDetails("remaining_cents", remainingCents.String()).
			WithDetails("residual_quota", remainingQuota.String())
	}
	return result, nil
}

// abortError classifies a mid-batch failure. Once a leg has settled, the
// batch-level kind is refund_incomplete so partial progress is never
// mistaken for a clean failure; a failure before any money moved keeps the
// cause's own kind. The failed leg's reserve was already released, so no
// residual quota stays held on this path.
func abortError(result *ExecuteResult, remainingCents *big.Int, cause error) error {
	if result.RefundedCents.Sign() == 0 {
		return cause
	}
	return apierrors.Newf(apierrors.KindRefundIncomplete,
		"refunded %s of %s yuan before a leg failed",
		money.FormatCentsToYuan(result.RefundedCents), money.FormatCentsToYuan(result.NetCents)).
		WithDetails("refunded_cents", result.RefundedCents.String()).
		WithDetails("remaining_cents", remainingCents.String()).
		WithDetails("cause", cause.Error())
}

// legTargets orders the refund sinks: card charges newest first, then
// aggregator top-ups newest first.
func (e *Engine) legTargets(ctx context.Context, quote *Quote) ([]legTarget, error) {
	var targets []legTarget

	var charges []stripe.CardCharge
	if quote.User.StripeCustomerID != "" && e.card != nil {
		var err error
		charges, err = e.card.ListCustomerCharges(ctx, quote.User.StripeCustomerID)
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(charges, func(i, j int) bool { return charges[i].Created > charges[j].Created })
	for _, ch := range charges {
		if !ch.Paid || !strings.EqualFold(ch.Status, "succeeded") || ch.Remaining() <= 0 {
			continue
		}
		targets = append(targets, legTarget{
			provider:      auditlog.ProviderCard,
			targetID:      ch.ID,
			cap:           big.NewInt(ch.Remaining()),
			paymentMethod: storage.MethodStripe,
			currency:      strings.ToLower(ch.Currency),
			chargeID:      ch.ID,
			paymentIntent: ch.PaymentIntentID,
		})
	}

	topups, err := e.store.ListUserTopUps(ctx, quote.User.ID)
	if err != nil {
		return nil, err
	}
	logs, err := e.audit.ListByUser(ctx, quote.User.ID)
	if err != nil {
		return nil, err
	}
	refundedCash, _ := aggregateRefunds(logs)

	aggs := make([]storage.TopUp, 0, len(topups))
	for _, t := range topups {
		if t.PaymentMethod != storage.MethodStripe {
			aggs = append(aggs, t)
		}
	}
	sort.SliceStable(aggs, func(i, j int) bool { return aggs[i].CompleteTime.After(aggs[j].CompleteTime) })
	for _, t := range aggs {
		capCents := mustCents(t.Money)
		if prior, ok := refundedCash[t.TradeNo]; ok {
			capCents = money.MaxZero(capCents.Sub(capCents, prior))
		}
		if capCents.Sign() <= 0 {
			continue
		}
		targets = append(targets, legTarget{
			provider:      auditlog.ProviderAggregator,
			targetID:      t.TradeNo,
			cap:           capCents,
			paymentMethod: t.PaymentMethod,
			currency:      "cny",
			tradeNo:       t.TradeNo,
		})
	}
	return targets, nil
}

func (e *Engine) callProvider(ctx context.Context, quote *Quote, target legTarget, amount *big.Int, outRefundNo string) (RefundOutcome, error) {
	switch target.provider {
	case auditlog.ProviderCard:
		if e.card == nil {
			return RefundOutcome{}, apierrors.New(apierrors.KindProviderError, "card processor not configured")
		}
		return e.card.Refund(ctx, stripe.RefundRequest{
			ChargeID:       target.chargeID,
			AmountCents:    amount.Int64(),
			CustomerID:     quote.User.StripeCustomerID,
			IdempotencyKey: outRefundNo,
		})
	case auditlog.ProviderAggregator:
		if e.aggregator == nil {
			return RefundOutcome{}, apierrors.New(apierrors.KindProviderError, "aggregator not configured")
		}
		return e.aggregator.Refund(ctx, epay.RefundRequest{
			OrderNoField: "trade_no",
			OrderNo:      target.tradeNo,
			MoneyYuan:    money.FormatCentsToYuan(amount),
			OutRefundNo:  outRefundNo,
		})
	default:
		return RefundOutcome{}, apierrors.Newf(apierrors.KindInternal, "unknown provider %q", target.provider)
	}
}

// RefundTopUp is the legacy single-top-up path: the row is locked FOR
// UPDATE, the provider refunds the full amount, then status flips and the
// full grant is removed from the user's quota in the same transaction.
func (e *Engine) RefundTopUp(ctx context.Context, tradeNo, performedBy string) (*auditlog.RefundLog, error) {
	var (
		row     *auditlog.RefundLog
		outcome RefundOutcome
	)

	_, err := e.store.RefundTopUpTx(ctx, tradeNo, func(t storage.TopUp) (*big.Int, error) {
		moneyCents, err := money.ParseYuanToCents(t.Money)
		if err != nil {
			return nil, apierrors.Newf(apierrors.KindInternal, "top-up %s money %q: %v", tradeNo, t.Money, err)
		}
		if moneyCents.Sign() <= 0 {
			return nil, apierrors.New(apierrors.KindNothingToRefund, "top-up paid nothing")
		}
		grant, err := originalGrant(&t)
		if err != nil {
			return nil, err
		}

		provider := auditlog.ProviderAggregator
		if t.PaymentMethod == storage.MethodStripe {
			provider = auditlog.ProviderCard
		}
		batchID := fmt.Sprintf("userrefund_%d_%d", t.UserID, e.now().UnixMilli())
		outRefundNo := fmt.Sprintf("%s_%s_%s_%s", provider, batchID, t.TradeNo, moneyCents.String())

		row = &auditlog.RefundLog{
			UserID:           t.UserID,
			TopUpTradeNo:     t.TradeNo,
			PaymentMethod:    t.PaymentMethod,
			Currency:         "cny",
			RefundMoney:      money.FormatCentsToYuan(moneyCents),
			RefundMoneyMinor: moneyCents.Int64(),
			QuotaDelta:       grant.String(),
			Provider:         provider,
			OutRefundNo:      outRefundNo,
			Status:           auditlog.StatusPending,
			PerformedBy:      performedBy,
		}
		if err := e.audit.Insert(ctx, row); err != nil {
			return nil, err
		}

		target := legTarget{
			provider:      provider,
			targetID:      t.TradeNo,
			tradeNo:       t.TradeNo,
			paymentMethod: t.PaymentMethod,
		}
		if provider == auditlog.ProviderCard {
			if strings.HasPrefix(t.TradeNo, "pi_") {
				target.paymentIntent = t.TradeNo
				target.chargeID = ""
			} else {
				target.chargeID = t.TradeNo
			}
		}
		outcome, err = e.callTopUpProvider(ctx, target, moneyCents, outRefundNo)
		if err != nil {
			if markErr := e.audit.MarkFailed(ctx, row.ID, err.Error(), failureRaw(err)); markErr != nil {
				log := logger.FromContext(ctx)
				log.Error().Err(markErr).Str("refund_log_id", row.ID).
					Msg("refund.topup.mark_failed_failed")
			}
			return nil, err
		}
		return grant, nil
	})
	if err != nil {
		return row, err
	}

	if err := e.audit.MarkSucceeded(ctx, row.ID, outcome.ProviderRefundNo, outcome.Raw); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("refund_log_id", row.ID).
			Msg("refund.topup.mark_succeeded_failed")
	}
	row.Status = auditlog.StatusSucceeded
	row.ProviderRefundNo = outcome.ProviderRefundNo
	return row, nil
}

// callTopUpProvider issues the full-amount refund for the legacy path. The
// card side may target a payment intent when the stored trade_no is one.
func (e *Engine) callTopUpProvider(ctx context.Context, target legTarget, amount *big.Int, outRefundNo string) (RefundOutcome, error) {
	if target.provider == auditlog.ProviderCard {
		if e.card == nil {
			return RefundOutcome{}, apierrors.New(apierrors.KindProviderError, "card processor not configured")
		}
		return e.card.Refund(ctx, stripe.RefundRequest{
			PaymentIntentID: target.paymentIntent,
			ChargeID:        target.chargeID,
			AmountCents:     amount.Int64(),
			IdempotencyKey:  outRefundNo,
		})
	}
	if e.aggregator == nil {
		return RefundOutcome{}, apierrors.New(apierrors.KindProviderError, "aggregator not configured")
	}
	return e.aggregator.Refund(ctx, epay.RefundRequest{
		OrderNoField: "trade_no",
		OrderNo:      target.tradeNo,
		MoneyYuan:    money.FormatCentsToYuan(amount),
		OutRefundNo:  outRefundNo,
	})
}

func (e *Engine) mustDefaultFeeBps() int64 {
	bps, err := money.ParseFeePercentBps(e.defaultFee, 500)
	if err != nil {
		return 500
	}
	return bps
}

func (e *Engine) observeLeg(provider, status string, amount *big.Int) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveRefundLeg(provider, status, amount.Int64())
}

func checkRange(net *big.Int, minYuan, maxYuan string) error {
	var minCents, maxCents *big.Int
	if strings.TrimSpace(minYuan) != "" {
		v, err := money.ParseYuanToCents(minYuan)
		if err != nil {
			return apierrors.Newf(apierrors.KindInvalidAmount, "min_refund_yuan %q", minYuan)
		}
		minCents = v
	}
	if strings.TrimSpace(maxYuan) != "" {
		v, err := money.ParseYuanToCents(maxYuan)
		if err != nil {
			return apierrors.Newf(apierrors.KindInvalidAmount, "max_refund_yuan %q", maxYuan)
		}
		maxCents = v
	}
	if minCents != nil && maxCents != nil && minCents.Cmp(maxCents) > 0 {
		return apierrors.Newf(apierrors.KindInvalidAmountRange,
			"min %s exceeds max %s", money.FormatCentsToYuan(minCents), money.FormatCentsToYuan(maxCents))
	}
	if minCents != nil && net.Cmp(minCents) < 0 {
		return apierrors.Newf(apierrors.KindAmountOutOfRange,
			"net refund %s below minimum %s", money.FormatCentsToYuan(net), money.FormatCentsToYuan(minCents))
	}
	if maxCents != nil && net.Cmp(maxCents) > 0 {
		return apierrors.Newf(apierrors.KindAmountOutOfRange,
			"net refund %s above maximum %s", money.FormatCentsToYuan(net), money.FormatCentsToYuan(maxCents))
	}
	return nil
}

func failureRaw(err error) json.RawMessage {
	blob, mErr := json.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return nil
	}
	return blob
}
