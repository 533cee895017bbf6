package httpserver

import (
	"time"

	"github.com/quotapay/refund-server/internal/money"
	"github.com/quotapay/refund-server/internal/refund"
	"github.com/quotapay/refund-server/internal/storage"
)

// userView renders a user with quota counters as decimal strings; balances
// exceed what JSON numbers carry safely.
type userView struct {
	ID               int64  `json:"id"`
	Email            string `json:"email"`
	StripeCustomerID string `json:"stripe_customer_id,omitempty"`
	Quota            string `json:"quota"`
	UsedQuota        string `json:"used_quota"`
}

func toUserView(u storage.User) userView {
	return userView{
		ID:               u.ID,
		Email:            u.Email,
		StripeCustomerID: u.StripeCustomerID,
		Quota:            u.Quota.String(),
		UsedQuota:        u.UsedQuota.String(),
	}
}

type topupView struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Money         string    `json:"money"`
	Amount        string    `json:"amount"`
	TradeNo       string    `json:"trade_no"`
	CreateTime    time.Time `json:"create_time"`
	CompleteTime  time.Time `json:"complete_time"`
	PaymentMethod string    `json:"payment_method"`
	Status        string    `json:"status"`
}

func toTopUpView(t storage.TopUp) topupView {
	return topupView{
		ID:            t.ID,
		UserID:        t.UserID,
		Money:         t.Money,
		Amount:        t.Amount,
		TradeNo:       t.TradeNo,
		CreateTime:    t.CreateTime,
		CompleteTime:  t.CompleteTime,
		PaymentMethod: t.PaymentMethod,
		Status:        t.Status,
	}
}

type channelView struct {
	GrossYuan    string `json:"gross_yuan"`
	RefundedYuan string `json:"refunded_yuan"`
	NetYuan      string `json:"net_yuan"`
}

func toChannelView(c refund.ChannelTotals) channelView {
	return channelView{
		GrossYuan:    money.FormatCentsToYuan(c.GrossCents),
		RefundedYuan: money.FormatCentsToYuan(c.RefundedCents),
		NetYuan:      money.FormatCentsToYuan(c.NetCents),
	}
}

type planView struct {
	CardCents       string `json:"card_cents"`
	CardYuan        string `json:"card_yuan"`
	AggregatorCents string `json:"aggregator_cents"`
	AggregatorYuan  string `json:"aggregator_yuan"`
}

func toPlanView(p refund.Plan) planView {
	return planView{
		CardCents:       p.CardCents.String(),
		CardYuan:        money.FormatCentsToYuan(p.CardCents),
		AggregatorCents: p.AggregatorCents.String(),
		AggregatorYuan:  money.FormatCentsToYuan(p.AggregatorCents),
	}
}

type orderView struct {
	ID              string `json:"id"`
	Provider        string `json:"provider,omitempty"`
	PaidYuan        string `json:"paid_yuan"`
	GrantQuota      string `json:"grant_quota"`
	ConsumedQuota   string `json:"consumed_quota"`
	RefundableQuota string `json:"refundable_quota"`
	Synthetic       bool   `json:"synthetic,omitempty"`
}

type quoteView struct {
	User         userView    `json:"user"`
	QuotaTotal   string      `json:"quota_total"`
	Aggregator   channelView `json:"aggregator"`
	Card         channelView `json:"card"`
	CardCurrency string      `json:"card_currency,omitempty"`
	DueCents     string      `json:"due_cents"`
	DueYuan      string      `json:"due_yuan"`
	Plan         planView    `json:"plan"`
	Orders       []orderView `json:"orders"`
}

func toQuoteView(q *refund.Quote) quoteView {
	orders := make([]orderView, 0, len(q.Orders))
	for _, o := range q.Orders {
		orders = append(orders, orderView{
			ID:              o.ID,
			Provider:        o.Provider,
			PaidYuan:        money.FormatCentsToYuan(o.PaidCents),
			GrantQuota:      o.GrantQuota.String(),
			ConsumedQuota:   o.ConsumedQuota.String(),
			RefundableQuota: o.RefundableQuota.String(),
			Synthetic:       o.Synthetic,
		})
	}
	return quoteView{
		User:         toUserView(q.User),
		QuotaTotal:   q.QuotaTotal.String(),
		Aggregator:   toChannelView(q.Aggregator),
		Card:         toChannelView(q.Card),
		CardCurrency: q.CardCurrency,
		DueCents:     q.DueCents.String(),
		DueYuan:      money.FormatCentsToYuan(q.DueCents),
		Plan:         toPlanView(q.Plan),
		Orders:       orders,
	}
}

type executeView struct {
	UserID           int64              `json:"user_id"`
	BatchID          string             `json:"batch_id"`
	DryRun           bool               `json:"dry_run"`
	DueYuan          string             `json:"due_yuan"`
	GrossYuan        string             `json:"gross_yuan"`
	FeeYuan          string             `json:"fee_yuan"`
	FeeBps           int64              `json:"fee_bps"`
	NetYuan          string             `json:"net_yuan"`
	TargetQuotaDelta string             `json:"target_quota_delta"`
	Plan             planView           `json:"plan"`
	Legs             []refund.LegResult `json:"legs"`
	RefundedYuan     string             `json:"refunded_yuan"`
	RemainingYuan    string             `json:"remaining_yuan"`
}

func toExecuteView(res *refund.ExecuteResult) executeView {
	return executeView{
		UserID:           res.UserID,
		BatchID:          res.BatchID,
		DryRun:           res.DryRun,
		DueYuan:          money.FormatCentsToYuan(res.DueCents),
		GrossYuan:        money.FormatCentsToYuan(res.GrossCents),
		FeeYuan:          money.FormatCentsToYuan(res.FeeCents),
		FeeBps:           res.FeeBps,
		NetYuan:          money.FormatCentsToYuan(res.NetCents),
		TargetQuotaDelta: res.TargetQuotaDelta.String(),
		Plan:             toPlanView(res.Plan),
		Legs:             res.Legs,
		RefundedYuan:     money.FormatCentsToYuan(res.RefundedCents),
		RemainingYuan:    money.FormatCentsToYuan(res.RemainingCents),
	}
}
