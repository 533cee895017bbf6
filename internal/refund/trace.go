package refund

import (
	"encoding/json"
	"math/big"

	"github.com/quotapay/refund-server/internal/money"
)

// traceVersion 2 is the consumption-allocation algorithm. Version 1 rows
// (the old proportional formula) may still exist in the audit log.
const traceVersion = 2

// TraceStep is one entry of the forensic computation record stored in each
// leg's raw_request and rendered by the admin UI.
type TraceStep struct {
	StepIndex int                    `json:"step_index"`
	Name      string                 `json:"name"`
	Detail    map[string]interface{} `json:"detail"`
}

type traceBuilder struct {
	steps []TraceStep
}

func newTraceBuilder() *traceBuilder {
	return &traceBuilder{}
}

func (t *traceBuilder) add(name string, detail map[string]interface{}) {
	t.steps = append(t.steps, TraceStep{
		StepIndex: len(t.steps),
		Name:      name,
		Detail:    detail,
	})
}

// withOp returns a copy of the trace extended with a per-leg operation step,
// leaving the shared prefix untouched.
func (t *traceBuilder) withOp(detail map[string]interface{}) *traceBuilder {
	steps := make([]TraceStep, len(t.steps), len(t.steps)+1)
	copy(steps, t.steps)
	out := &traceBuilder{steps: steps}
	out.add("op", detail)
	return out
}

// raw renders the trace as the raw_request JSON blob.
func (t *traceBuilder) raw() json.RawMessage {
	blob, err := json.Marshal(map[string]interface{}{
		"calc_trace_version": traceVersion,
		"calc_trace":         t.steps,
	})
	if err != nil {
		return json.RawMessage(`{"calc_trace_version":2,"calc_trace":[]}`)
	}
	return blob
}

// quoteTrace seeds the shared trace prefix from a computed quote.
func quoteTrace(q *Quote) *traceBuilder {
	t := newTraceBuilder()
	t.add("quote.user", map[string]interface{}{
		"user_id":       q.User.ID,
		"card_customer": q.User.StripeCustomerID != "",
	})
	t.add("quote.quota", map[string]interface{}{
		"remaining": q.User.Quota.String(),
		"used":      q.User.UsedQuota.String(),
		"total":     q.QuotaTotal.String(),
	})
	t.add("quote.aggregator", channelDetail(q.Aggregator))
	t.add("quote.card", channelDetail(q.Card))
	t.add("quote.due", map[string]interface{}{
		"formula":   "due = min(floor(sum(max(0, paid_quota - consumed)) / 5000), net_paid)",
		"due_cents": q.DueCents.String(),
		"due_yuan":  money.FormatCentsToYuan(q.DueCents),
		"orders":    orderPreviews(q.Orders),
	})
	return t
}

func channelDetail(c ChannelTotals) map[string]interface{} {
	return map[string]interface{}{
		"gross_cents":    c.GrossCents.String(),
		"refunded_cents": c.RefundedCents.String(),
		"net_cents":      c.NetCents.String(),
	}
}

func orderPreviews(orders []*Order) []map[string]interface{} {
	const max = 20
	out := make([]map[string]interface{}, 0, len(orders))
	for i, o := range orders {
		if i == max {
			break
		}
		out = append(out, map[string]interface{}{
			"id":               o.ID,
			"provider":         o.Provider,
			"paid_cents":       o.PaidCents.String(),
			"grant_quota":      o.GrantQuota.String(),
			"consumed_quota":   bigString(o.ConsumedQuota),
			"refundable_quota": bigString(o.RefundableQuota),
			"synthetic":        o.Synthetic,
		})
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
