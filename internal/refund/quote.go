// Package refund holds the quote algorithm and the execution engine: deciding
// how much a user can reclaim across payment channels, and moving the money
// leg by leg while keeping quota, provider ledgers and the audit log coherent.
package refund

import (
	"math/big"
	"sort"
	"strings"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/money"
	"github.com/quotapay/refund-server/internal/storage"
	"github.com/quotapay/refund-server/internal/stripe"
)

// Order is the per-top-up tuple the quote algorithm operates on. All amounts
// are big integers; PaidQuota is PaidCents x 5000, precomputed for the ratio
// comparisons.
type Order struct {
	ID         string
	Provider   string // auditlog.ProviderAggregator | ProviderCard | "" for synthetic
	PaidCents  *big.Int
	GrantQuota *big.Int
	PaidQuota  *big.Int
	CreatedAt  int64
	Synthetic  bool

	// Filled during consumption allocation.
	ConsumedQuota   *big.Int
	RefundableQuota *big.Int
}

// ChannelTotals aggregates one payment channel in cents.
type ChannelTotals struct {
	GrossCents    *big.Int
	RefundedCents *big.Int
	NetCents      *big.Int
}

// Plan is the per-provider refund split in cents.
type Plan struct {
	CardCents       *big.Int
	AggregatorCents *big.Int
}

// Quote is the value object produced by Compute. Orders is the sorted
// computation trace, highest promotional ratio first.
type Quote struct {
	User         storage.User
	QuotaTotal   *big.Int
	Aggregator   ChannelTotals
	Card         ChannelTotals
	CardCurrency string
	DueCents     *big.Int
	Plan         Plan
	Orders       []*Order
}

// Compute builds a refund quote from already-gathered inputs. It is a pure
// function: no I/O, big-integer arithmetic only.
func Compute(user storage.User, topups []storage.TopUp, logs []auditlog.RefundLog, charges []stripe.CardCharge) (*Quote, error) {
	currency, err := cardCurrency(charges)
	if err != nil {
		return nil, err
	}

	refundedCash, refundedQuota := aggregateRefunds(logs)

	q := &Quote{
		User:         user,
		QuotaTotal:   new(big.Int).Add(user.Quota, user.UsedQuota),
		CardCurrency: currency,
		Aggregator:   emptyTotals(),
		Card:         emptyTotals(),
	}

	var orders []*Order

	// Aggregator orders come from the top-up table.
	for i := range topups {
		t := &topups[i]
		if t.PaymentMethod == storage.MethodStripe {
			continue
		}
		o, err := aggregatorOrder(t, refundedCash, refundedQuota)
		if err != nil {
			return nil, err
		}
		q.Aggregator.GrossCents.Add(q.Aggregator.GrossCents, mustCents(t.Money))
		if prior, ok := refundedCash[t.TradeNo]; ok {
			q.Aggregator.RefundedCents.Add(q.Aggregator.RefundedCents, prior)
		}
		orders = append(orders, o)
	}
	q.Aggregator.NetCents = money.MaxZero(new(big.Int).Sub(q.Aggregator.GrossCents, q.Aggregator.RefundedCents))

	// Card orders come from the processor's charge list; the matching top-up
	// row (by trade_no) supplies the original grant when it exists.
	grantByTradeNo := map[string]*big.Int{}
	for i := range topups {
		t := &topups[i]
		if t.PaymentMethod != storage.MethodStripe || t.TradeNo == "" {
			continue
		}
		grant, err := originalGrant(t)
		if err != nil {
			return nil, err
		}
		grantByTradeNo[t.TradeNo] = grant
	}
	for _, ch := range charges {
		if !ch.Paid || !strings.EqualFold(ch.Status, "succeeded") {
			continue
		}
		o := cardOrder(ch, grantByTradeNo, refundedQuota)
		q.Card.GrossCents.Add(q.Card.GrossCents, big.NewInt(ch.Amount))
		q.Card.RefundedCents.Add(q.Card.RefundedCents, big.NewInt(ch.AmountRefunded))
		orders = append(orders, o)
	}
	q.Card.NetCents = money.MaxZero(new(big.Int).Sub(q.Card.GrossCents, q.Card.RefundedCents))

	// Synthetic gift pool: grants that no longer map to any payment. It can
	// absorb consumption but never pays anything back.
	totalGrant := new(big.Int)
	for _, o := range orders {
		totalGrant.Add(totalGrant, o.GrantQuota)
	}
	if totalGrant.Cmp(q.QuotaTotal) < 0 {
		orders = append(orders, &Order{
			ID:         "gift-pool",
			PaidCents:  new(big.Int),
			PaidQuota:  new(big.Int),
			GrantQuota: new(big.Int).Sub(q.QuotaTotal, totalGrant),
			Synthetic:  true,
		})
	}

	sortOrders(orders)
	allocateConsumption(orders, user.UsedQuota)

	// due = floor(F / 5000), clamped to the cash actually still held.
	refundableQuota := new(big.Int)
	totalNetPaid := new(big.Int)
	for _, o := range orders {
		refundableQuota.Add(refundableQuota, o.RefundableQuota)
		totalNetPaid.Add(totalNetPaid, o.PaidCents)
	}
	due := money.QuotaToCentsFloor(refundableQuota)
	q.DueCents = money.MinBig(due, totalNetPaid)

	q.Plan.CardCents = money.MinBig(q.DueCents, q.Card.NetCents)
	q.Plan.AggregatorCents = new(big.Int).Sub(q.DueCents, q.Plan.CardCents)
	q.Orders = orders
	return q, nil
}

// cardCurrency enforces the single-currency guard and returns the currency,
// or "" when the user has no card charges.
func cardCurrency(charges []stripe.CardCharge) (string, error) {
	currency := ""
	for _, ch := range charges {
		if !ch.Paid || !strings.EqualFold(ch.Status, "succeeded") {
			continue
		}
		cur := strings.ToLower(ch.Currency)
		if currency == "" {
			currency = cur
			continue
		}
		if currency != cur {
			return "", apierrors.Newf(apierrors.KindMultipleCurrencies,
				"card charges span currencies %s and %s", currency, cur)
		}
	}
	if currency != "" && currency != "cny" {
		return "", apierrors.Newf(apierrors.KindNonCNYCurrency,
			"card charges are in %s, only cny is refundable here", currency).
			WithDetails("currency", currency)
	}
	return currency, nil
}

// aggregateRefunds folds pending and succeeded refund logs into per-target
// cash and quota totals. Failed rows are excluded upstream.
func aggregateRefunds(logs []auditlog.RefundLog) (cash map[string]*big.Int, quota map[string]*big.Int) {
	cash = map[string]*big.Int{}
	quota = map[string]*big.Int{}
	add := func(m map[string]*big.Int, key string, v *big.Int) {
		if key == "" || v == nil {
			return
		}
		if cur, ok := m[key]; ok {
			cur.Add(cur, v)
		} else {
			m[key] = new(big.Int).Set(v)
		}
	}
	for i := range logs {
		l := &logs[i]
		delta, ok := new(big.Int).SetString(l.QuotaDelta, 10)
		if !ok {
			delta = new(big.Int)
		}
		minor := big.NewInt(l.RefundMoneyMinor)
		if l.TopUpTradeNo != "" {
			add(cash, l.TopUpTradeNo, minor)
			add(quota, l.TopUpTradeNo, delta)
		}
		if l.CardChargeID != "" {
			add(cash, l.CardChargeID, minor)
			add(quota, l.CardChargeID, delta)
		}
	}
	return cash, quota
}

func aggregatorOrder(t *storage.TopUp, refundedCash, refundedQuota map[string]*big.Int) (*Order, error) {
	moneyCents, err := money.ParseYuanToCents(t.Money)
	if err != nil {
		return nil, apierrors.Newf(apierrors.KindInternal, "top-up %d money %q: %v", t.ID, t.Money, err)
	}
	grant, err := originalGrant(t)
	if err != nil {
		return nil, err
	}

	paid := new(big.Int).Set(moneyCents)
	if prior, ok := refundedCash[t.TradeNo]; ok {
		paid.Sub(paid, prior)
	}
	paid = money.MaxZero(paid)

	if prior, ok := refundedQuota[t.TradeNo]; ok {
		grant = money.MaxZero(new(big.Int).Sub(grant, prior))
	}

	return &Order{
		ID:         t.TradeNo,
		Provider:   auditlog.ProviderAggregator,
		PaidCents:  paid,
		PaidQuota:  money.CentsToQuota(paid),
		GrantQuota: grant,
		CreatedAt:  t.CreateTime.Unix(),
	}, nil
}

func cardOrder(ch stripe.CardCharge, grantByTradeNo map[string]*big.Int, refundedQuota map[string]*big.Int) *Order {
	paid := big.NewInt(ch.Remaining())

	grant := grantByTradeNo[ch.ID]
	if grant == nil && ch.PaymentIntentID != "" {
		grant = grantByTradeNo[ch.PaymentIntentID]
	}
	if grant == nil {
		// No matching top-up row: the grant falls back to the paid amount.
		grant = money.CentsToQuota(big.NewInt(ch.Amount))
	} else {
		grant = new(big.Int).Set(grant)
	}
	if prior, ok := refundedQuota[ch.ID]; ok {
		grant = money.MaxZero(grant.Sub(grant, prior))
	}

	return &Order{
		ID:         ch.ID,
		Provider:   auditlog.ProviderCard,
		PaidCents:  paid,
		PaidQuota:  money.CentsToQuota(paid),
		GrantQuota: grant,
		CreatedAt:  ch.Created,
	}
}

// originalGrant converts the top-up's granted amount to quota units,
// preferring the explicit amount column over the paid money.
func originalGrant(t *storage.TopUp) (*big.Int, error) {
	src := t.Amount
	if strings.TrimSpace(src) == "" {
		src = t.Money
	}
	cents, err := money.ParseYuanToCents(src)
	if err != nil {
		return nil, apierrors.Newf(apierrors.KindInternal, "top-up %d amount %q: %v", t.ID, src, err)
	}
	return money.CentsToQuota(cents), nil
}

// sortOrders orders by promotional ratio descending, then grant descending,
// created_at ascending, id ascending. The ratio (g - pq) / g is compared by
// cross multiplication; g = 0 compares as 0/1.
func sortOrders(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if c := compareRatios(a, b); c != 0 {
			return c > 0
		}
		if c := a.GrantQuota.Cmp(b.GrantQuota); c != 0 {
			return c > 0
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// compareRatios compares (g_a - pq_a)/g_a against (g_b - pq_b)/g_b without
// floats: num_a * g_b vs num_b * g_a. Both denominators are non-negative.
func compareRatios(a, b *Order) int {
	numA, denA := ratio(a)
	numB, denB := ratio(b)
	left := new(big.Int).Mul(numA, denB)
	right := new(big.Int).Mul(numB, denA)
	return left.Cmp(right)
}

func ratio(o *Order) (num, den *big.Int) {
	if o.GrantQuota.Sign() <= 0 {
		return new(big.Int), big.NewInt(1)
	}
	return new(big.Int).Sub(o.GrantQuota, o.PaidQuota), o.GrantQuota
}

// allocateConsumption walks the sorted orders spending used_quota greedily,
// then derives each order's refundable quota.
func allocateConsumption(orders []*Order, usedQuota *big.Int) {
	remaining := new(big.Int).Set(usedQuota)
	for _, o := range orders {
		consumed := money.MinBig(o.GrantQuota, remaining)
		consumed = money.MaxZero(consumed)
		remaining.Sub(remaining, consumed)

		o.ConsumedQuota = consumed
		o.RefundableQuota = money.MaxZero(new(big.Int).Sub(o.PaidQuota, consumed))
	}
}

func emptyTotals() ChannelTotals {
	return ChannelTotals{
		GrossCents:    new(big.Int),
		RefundedCents: new(big.Int),
		NetCents:      new(big.Int),
	}
}

func mustCents(yuan string) *big.Int {
	cents, err := money.ParseYuanToCents(yuan)
	if err != nil {
		return new(big.Int)
	}
	return cents
}
