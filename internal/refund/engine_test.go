package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/epay"
	"github.com/quotapay/refund-server/internal/storage"
	"github.com/quotapay/refund-server/internal/stripe"
)

type fakeStore struct {
	user     storage.User
	topups   []storage.TopUp
	reserves []*big.Int
	releases []*big.Int
}

func (s *fakeStore) GetUser(ctx context.Context, uid int64) (storage.User, error) {
	if uid != s.user.ID {
		return storage.User{}, storage.ErrNotFound
	}
	return s.user, nil
}

func (s *fakeStore) ListUserTopUps(ctx context.Context, uid int64) ([]storage.TopUp, error) {
	return s.topups, nil
}

func (s *fakeStore) ReserveQuota(ctx context.Context, uid int64, delta *big.Int) error {
	if s.user.Quota.Cmp(delta) < 0 {
		return apierrors.New(apierrors.KindInsufficientQuota, "quota below requested delta")
	}
	s.user.Quota.Sub(s.user.Quota, delta)
	s.reserves = append(s.reserves, new(big.Int).Set(delta))
	return nil
}

func (s *fakeStore) ReleaseQuota(ctx context.Context, uid int64, delta *big.Int) error {
	s.user.Quota.Add(s.user.Quota, delta)
	s.releases = append(s.releases, new(big.Int).Set(delta))
	return nil
}

func (s *fakeStore) RefundTopUpTx(ctx context.Context, tradeNo string, fn func(storage.TopUp) (*big.Int, error)) (storage.TopUp, error) {
	for i := range s.topups {
		t := &s.topups[i]
		if t.TradeNo != tradeNo {
			continue
		}
		if t.Status != storage.TopUpStatusSuccess {
			return *t, apierrors.Newf(apierrors.KindTopUpNotRefundable, "top-up %s has status %s", tradeNo, t.Status)
		}
		delta, err := fn(*t)
		if err != nil {
			return *t, err
		}
		t.Status = storage.TopUpStatusRefund
		if s.user.Quota.Cmp(delta) >= 0 {
			s.user.Quota.Sub(s.user.Quota, delta)
		} else {
			s.user.Quota.SetInt64(0)
		}
		return *t, nil
	}
	return storage.TopUp{}, apierrors.Newf(apierrors.KindTopUpNotFound, "top-up %s not found", tradeNo)
}

type fakeAudit struct {
	rows      []*auditlog.RefundLog
	logs      []auditlog.RefundLog
	lateLogs  []auditlog.RefundLog
	listCalls int
	insertErr error
}

func (a *fakeAudit) Insert(ctx context.Context, log *auditlog.RefundLog) error {
	if a.insertErr != nil {
		return a.insertErr
	}
	log.ID = fmt.Sprintf("log-%d", len(a.rows)+1)
	stored := *log
	a.rows = append(a.rows, &stored)
	return nil
}

func (a *fakeAudit) MarkSucceeded(ctx context.Context, id, providerRefundNo string, raw json.RawMessage) error {
	for _, r := range a.rows {
		if r.ID == id {
			r.Status = auditlog.StatusSucceeded
			r.ProviderRefundNo = providerRefundNo
			r.RawResponse = raw
			return nil
		}
	}
	return apierrors.Newf(apierrors.KindRefundNotFound, "refund %s not found", id)
}

func (a *fakeAudit) MarkFailed(ctx context.Context, id, errMsg string, raw json.RawMessage) error {
	for _, r := range a.rows {
		if r.ID == id {
			r.Status = auditlog.StatusFailed
			r.ErrorMessage = errMsg
			r.RawResponse = raw
			return nil
		}
	}
	return apierrors.Newf(apierrors.KindRefundNotFound, "refund %s not found", id)
}

func (a *fakeAudit) ListByUser(ctx context.Context, uid int64) ([]auditlog.RefundLog, error) {
	a.listCalls++
	if a.listCalls > 1 && a.lateLogs != nil {
		return a.lateLogs, nil
	}
	return a.logs, nil
}

func (a *fakeAudit) ListAll(ctx context.Context) ([]auditlog.RefundLog, error) {
	return a.logs, nil
}

func (a *fakeAudit) List(ctx context.Context, filter auditlog.ListFilter) ([]auditlog.RefundLog, error) {
	return nil, nil
}

func (a *fakeAudit) Get(ctx context.Context, id string) (auditlog.RefundLog, error) {
	for _, r := range a.rows {
		if r.ID == id {
			return *r, nil
		}
	}
	return auditlog.RefundLog{}, apierrors.Newf(apierrors.KindRefundNotFound, "refund %s not found", id)
}

func (a *fakeAudit) IsAdmin(ctx context.Context, subject string) (bool, error) {
	return false, nil
}

type fakeCard struct {
	charges []stripe.CardCharge
	failOn  map[string]bool
	calls   []stripe.RefundRequest
}

func (c *fakeCard) Refund(ctx context.Context, req stripe.RefundRequest) (RefundOutcome, error) {
	c.calls = append(c.calls, req)
	if c.failOn[req.ChargeID] {
		return RefundOutcome{}, apierrors.Newf(apierrors.KindProviderError, "charge %s declined", req.ChargeID)
	}
	return RefundOutcome{
		ProviderRefundNo: "re_" + req.ChargeID,
		Raw:              json.RawMessage(`{"status":"succeeded"}`),
	}, nil
}

func (c *fakeCard) ListCustomerCharges(ctx context.Context, customerID string) ([]stripe.CardCharge, error) {
	return c.charges, nil
}

type fakeAggregator struct {
	calls []epay.RefundRequest
	err   error
}

func (a *fakeAggregator) Refund(ctx context.Context, req epay.RefundRequest) (RefundOutcome, error) {
	a.calls = append(a.calls, req)
	if a.err != nil {
		return RefundOutcome{}, a.err
	}
	return RefundOutcome{
		ProviderRefundNo: "ar_" + req.OrderNo,
		Raw:              json.RawMessage(`{"code":0}`),
	}, nil
}

func newTestEngine(store *fakeStore, audit *fakeAudit, card *fakeCard, agg *fakeAggregator) *Engine {
	var cardP CardProvider
	if card != nil {
		cardP = card
	}
	var aggP AggregatorProvider
	if agg != nil {
		aggP = agg
	}
	e := NewEngine(store, audit, cardP, aggP, "5", nil)
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e
}

// singleTopUpFixture backs the clear-balance happy path: one aggregator
// top-up of 10 yuan, nothing consumed.
func singleTopUpFixture() (*fakeStore, *fakeAudit, *fakeAggregator) {
	store := &fakeStore{
		user:   storage.User{ID: 1, Quota: bi(500000), UsedQuota: bi(0)},
		topups: []storage.TopUp{aggTopUp("T1", "10.00", "10.00", time.Unix(1000, 0))},
	}
	return store, &fakeAudit{}, &fakeAggregator{}
}

// cardSplitFixture backs the card-first execution tests: two card charges
// (20 and 10 yuan, newest first) plus a 10 yuan aggregator top-up, with
// consumption placing the due amount at 25 yuan.
func cardSplitFixture() (*fakeStore, *fakeAudit, *fakeCard, *fakeAggregator) {
	store := &fakeStore{
		user: storage.User{
			ID:               7,
			StripeCustomerID: "cus_d",
			Quota:            bi(12_500_000),
			UsedQuota:        bi(7_500_000),
		},
		topups: []storage.TopUp{aggTopUp("T1", "10.00", "10.00", time.Unix(50, 0))},
	}
	card := &fakeCard{charges: []stripe.CardCharge{
		cnyCharge("ch_old", 100, 1000),
		cnyCharge("ch_new", 200, 2000),
	}}
	return store, &fakeAudit{}, card, &fakeAggregator{}
}

func TestExecuteClearBalance(t *testing.T) {
	store, audit, agg := singleTopUpFixture()
	e := newTestEngine(store, audit, nil, agg)

	res, err := e.Execute(context.Background(), ExecuteRequest{
		UserID:       1,
		ClearBalance: true,
		PerformedBy:  "ops@example.com",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// 10.00 gross, 5% default fee, 9.50 out the door.
	if res.NetCents.Cmp(bi(950)) != 0 {
		t.Errorf("net = %s cents, want 950", res.NetCents)
	}
	if len(res.Legs) != 1 {
		t.Fatalf("legs = %d, want 1", len(res.Legs))
	}
	leg := res.Legs[0]
	if leg.Provider != auditlog.ProviderAggregator || leg.AmountYuan != "9.50" || leg.Status != auditlog.StatusSucceeded {
		t.Errorf("leg = %+v", leg)
	}
	if store.user.Quota.Sign() != 0 {
		t.Errorf("quota = %s, want 0 after clear_balance", store.user.Quota)
	}
	if len(audit.rows) != 1 || audit.rows[0].Status != auditlog.StatusSucceeded {
		t.Fatalf("audit rows = %+v", audit.rows)
	}
	row := audit.rows[0]
	if row.RefundMoney != "9.50" || row.PerformedBy != "ops@example.com" {
		t.Errorf("audit row = %+v", row)
	}
	if want := "aggregator_userrefund_1_1700000000000_T1_950"; row.OutRefundNo != want {
		t.Errorf("out_refund_no = %q, want %q", row.OutRefundNo, want)
	}
	if len(agg.calls) != 1 || agg.calls[0].MoneyYuan != "9.50" || agg.calls[0].OrderNo != "T1" {
		t.Errorf("aggregator calls = %+v", agg.calls)
	}
}

func TestExecuteCardFirstOrdering(t *testing.T) {
	store, audit, card, agg := cardSplitFixture()
	e := newTestEngine(store, audit, card, agg)

	res, err := e.Execute(context.Background(), ExecuteRequest{UserID: 7, FeePercent: "0"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.DueCents.Cmp(bi(2500)) != 0 {
		t.Fatalf("due = %s cents, want 2500", res.DueCents)
	}
	if len(res.Legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(res.Legs))
	}
	if res.Legs[0].TargetID != "ch_new" || res.Legs[0].AmountYuan != "20.00" {
		t.Errorf("leg 0 = %+v, want 20.00 on ch_new (newest charge first)", res.Legs[0])
	}
	if res.Legs[1].TargetID != "ch_old" || res.Legs[1].AmountYuan != "5.00" {
		t.Errorf("leg 1 = %+v, want 5.00 on ch_old", res.Legs[1])
	}
	if res.RemainingCents.Sign() != 0 || res.RefundedCents.Cmp(bi(2500)) != 0 {
		t.Errorf("refunded %s remaining %s, want 2500 / 0", res.RefundedCents, res.RemainingCents)
	}
	if store.user.Quota.Sign() != 0 {
		t.Errorf("quota = %s, want 0 after both legs", store.user.Quota)
	}
	if len(agg.calls) != 0 {
		t.Errorf("aggregator called %d times, want 0 (card covers the plan)", len(agg.calls))
	}

	// The final leg absorbs the proportional rounding remainder.
	if res.Legs[0].QuotaDelta != "10000000" || res.Legs[1].QuotaDelta != "2500000" {
		t.Errorf("quota deltas = %s / %s, want 10000000 / 2500000",
			res.Legs[0].QuotaDelta, res.Legs[1].QuotaDelta)
	}
}

func TestExecuteCompensatesFailedLeg(t *testing.T) {
	store, audit, card, agg := cardSplitFixture()
	card.failOn = map[string]bool{"ch_old": true}
	e := newTestEngine(store, audit, card, agg)

	res, err := e.Execute(context.Background(), ExecuteRequest{UserID: 7, FeePercent: "0"})
	if apierrors.KindOf(err) != apierrors.KindRefundIncomplete {
		t.Fatalf("kind = %v, want refund_incomplete", apierrors.KindOf(err))
	}
	apiErr := apierrors.AsError(err)
	if apiErr == nil || apiErr.Details["refunded_cents"] != "2000" {
		t.Errorf("refunded_cents = %v, want 2000", apiErr.Details["refunded_cents"])
	}
	if apiErr.Details["cause"] == "" || apiErr.Details["cause"] == nil {
		t.Error("cause detail missing")
	}
	if len(res.Legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(res.Legs))
	}
	if res.Legs[0].Status != auditlog.StatusSucceeded || res.Legs[1].Status != auditlog.StatusFailed {
		t.Errorf("leg statuses = %s / %s", res.Legs[0].Status, res.Legs[1].Status)
	}

	// The failed leg's reserve is handed back: only the 20.00 leg sticks.
	if len(store.releases) != 1 || store.releases[0].Cmp(bi(2_500_000)) != 0 {
		t.Errorf("releases = %v, want one of 2500000", store.releases)
	}
	if store.user.Quota.Cmp(bi(2_500_000)) != 0 {
		t.Errorf("quota = %s, want 2500000 (12500000 - 10000000)", store.user.Quota)
	}
	if len(audit.rows) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(audit.rows))
	}
	if audit.rows[0].Status != auditlog.StatusSucceeded {
		t.Errorf("row 0 status = %s", audit.rows[0].Status)
	}
	if audit.rows[1].Status != auditlog.StatusFailed || audit.rows[1].ErrorMessage == "" {
		t.Errorf("row 1 = %+v, want failed with error_message", audit.rows[1])
	}
}

func TestExecuteDryRun(t *testing.T) {
	store, audit, card, agg := cardSplitFixture()
	e := newTestEngine(store, audit, card, agg)

	res, err := e.Execute(context.Background(), ExecuteRequest{UserID: 7, FeePercent: "0", DryRun: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.DryRun {
		t.Error("result not flagged dry_run")
	}
	if res.Plan.CardCents.Cmp(bi(2500)) != 0 {
		t.Errorf("plan card = %s, want 2500", res.Plan.CardCents)
	}
	if len(res.Legs) != 0 || len(audit.rows) != 0 || len(store.reserves) != 0 {
		t.Errorf("dry run side effects: legs=%d rows=%d reserves=%d",
			len(res.Legs), len(audit.rows), len(store.reserves))
	}
	if store.user.Quota.Cmp(bi(12_500_000)) != 0 {
		t.Errorf("quota = %s, want untouched 12500000", store.user.Quota)
	}
}

func TestExecuteReleasesReserveWhenLogInsertFails(t *testing.T) {
	store, audit, agg := singleTopUpFixture()
	audit.insertErr = apierrors.New(apierrors.KindSupabaseError, "insert refund log: status 500")
	e := newTestEngine(store, audit, nil, agg)

	_, err := e.Execute(context.Background(), ExecuteRequest{UserID: 1, ClearBalance: true})
	if apierrors.KindOf(err) != apierrors.KindSupabaseError {
		t.Fatalf("kind = %v, want supabase_error", apierrors.KindOf(err))
	}
	if len(agg.calls) != 0 {
		t.Error("provider called without an audit row")
	}
	if len(store.reserves) != 1 || len(store.releases) != 1 {
		t.Errorf("reserves=%d releases=%d, want 1/1", len(store.reserves), len(store.releases))
	}
	if store.user.Quota.Cmp(bi(500000)) != 0 {
		t.Errorf("quota = %s, want restored 500000", store.user.Quota)
	}
}

func TestExecuteRefundIncomplete(t *testing.T) {
	// A refund that lands between the quote and the capacity scan shrinks
	// the target below the committed net amount.
	store := &fakeStore{
		user:   storage.User{ID: 9, Quota: bi(5_000_000), UsedQuota: bi(0)},
		topups: []storage.TopUp{aggTopUp("T1", "10.00", "10.00", time.Unix(1000, 0))},
	}
	audit := &fakeAudit{
		lateLogs: []auditlog.RefundLog{{
			TopUpTradeNo:     "T1",
			RefundMoneyMinor: 800,
			QuotaDelta:       "4000000",
			Status:           auditlog.StatusSucceeded,
		}},
	}
	agg := &fakeAggregator{}
	e := newTestEngine(store, audit, nil, agg)

	res, err := e.Execute(context.Background(), ExecuteRequest{UserID: 9, FeePercent: "0"})
	if apierrors.KindOf(err) != apierrors.KindRefundIncomplete {
		t.Fatalf("kind = %v, want refund_incomplete", apierrors.KindOf(err))
	}
	apiErr := apierrors.AsError(err)
	if apiErr == nil || apiErr.Details["remaining_cents"] != "800" {
		t.Errorf("remaining_cents = %v, want 800", apiErr.Details["remaining_cents"])
	}
	if res.RefundedCents.Cmp(bi(200)) != 0 {
		t.Errorf("refunded = %s cents, want 200", res.RefundedCents)
	}
	// The residue stays reserved; it is reported, not silently released.
	if res.ResidualQuota.Cmp(bi(4_000_000)) != 0 {
		t.Errorf("residual quota = %s, want 4000000", res.ResidualQuota)
	}
	if store.user.Quota.Cmp(bi(4_000_000)) != 0 {
		t.Errorf("quota = %s, want 4000000", store.user.Quota)
	}
}

func TestExecuteValidation(t *testing.T) {
	tests := []struct {
		name string
		req  ExecuteRequest
		want apierrors.Kind
	}{
		{"zero amount override", ExecuteRequest{UserID: 1, AmountYuan: "0"}, apierrors.KindInvalidAmount},
		{"malformed amount", ExecuteRequest{UserID: 1, AmountYuan: "ten"}, apierrors.KindInvalidAmount},
		{"malformed fee", ExecuteRequest{UserID: 1, FeePercent: "abc"}, apierrors.KindInvalidFee},
		{"fee eats everything", ExecuteRequest{UserID: 1, FeePercent: "100"}, apierrors.KindFeeTooHigh},
		{"min above max", ExecuteRequest{UserID: 1, MinRefundYuan: "8.00", MaxRefundYuan: "2.00"}, apierrors.KindInvalidAmountRange},
		{"net below min", ExecuteRequest{UserID: 1, MinRefundYuan: "50.00"}, apierrors.KindAmountOutOfRange},
		{"net above max", ExecuteRequest{UserID: 1, MaxRefundYuan: "1.00"}, apierrors.KindAmountOutOfRange},
		{"unknown user", ExecuteRequest{UserID: 404}, apierrors.KindUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, audit, agg := singleTopUpFixture()
			e := newTestEngine(store, audit, nil, agg)
			_, err := e.Execute(context.Background(), tt.req)
			if apierrors.KindOf(err) != tt.want {
				t.Errorf("kind = %v, want %v", apierrors.KindOf(err), tt.want)
			}
			if len(audit.rows) != 0 || len(store.reserves) != 0 {
				t.Error("validation failure left side effects")
			}
		})
	}
}

func TestExecuteNothingToRefund(t *testing.T) {
	store := &fakeStore{user: storage.User{ID: 3, Quota: bi(0), UsedQuota: bi(0)}}
	e := newTestEngine(store, &fakeAudit{}, nil, &fakeAggregator{})

	_, err := e.Execute(context.Background(), ExecuteRequest{UserID: 3})
	if apierrors.KindOf(err) != apierrors.KindNothingToRefund {
		t.Errorf("kind = %v, want nothing_to_refund", apierrors.KindOf(err))
	}
}

func TestRefundTopUpLegacyPath(t *testing.T) {
	store := &fakeStore{
		user:   storage.User{ID: 7, Quota: bi(5_000_000), UsedQuota: bi(0)},
		topups: []storage.TopUp{aggTopUp("T9", "10.00", "10.00", time.Unix(1000, 0))},
	}
	store.topups[0].UserID = 7
	audit := &fakeAudit{}
	agg := &fakeAggregator{}
	e := newTestEngine(store, audit, nil, agg)

	row, err := e.RefundTopUp(context.Background(), "T9", "ops@example.com")
	if err != nil {
		t.Fatalf("RefundTopUp: %v", err)
	}
	if row.Status != auditlog.StatusSucceeded || row.ProviderRefundNo != "ar_T9" {
		t.Errorf("row = %+v", row)
	}
	if store.topups[0].Status != storage.TopUpStatusRefund {
		t.Errorf("top-up status = %s, want refund", store.topups[0].Status)
	}
	if store.user.Quota.Sign() != 0 {
		t.Errorf("quota = %s, want 0 after full-grant removal", store.user.Quota)
	}
	if len(agg.calls) != 1 || agg.calls[0].MoneyYuan != "10.00" || agg.calls[0].OrderNo != "T9" {
		t.Errorf("aggregator calls = %+v", agg.calls)
	}
}

func TestRefundTopUpProviderFailureKeepsRow(t *testing.T) {
	store := &fakeStore{
		user:   storage.User{ID: 7, Quota: bi(5_000_000), UsedQuota: bi(0)},
		topups: []storage.TopUp{aggTopUp("T9", "10.00", "10.00", time.Unix(1000, 0))},
	}
	audit := &fakeAudit{}
	agg := &fakeAggregator{err: apierrors.New(apierrors.KindProviderError, "upstream 10021")}
	e := newTestEngine(store, audit, nil, agg)

	_, err := e.RefundTopUp(context.Background(), "T9", "ops@example.com")
	if apierrors.KindOf(err) != apierrors.KindProviderError {
		t.Fatalf("kind = %v, want provider_error", apierrors.KindOf(err))
	}
	if store.topups[0].Status != storage.TopUpStatusSuccess {
		t.Errorf("top-up status = %s, want success (rolled back)", store.topups[0].Status)
	}
	if store.user.Quota.Cmp(bi(5_000_000)) != 0 {
		t.Errorf("quota = %s, want untouched", store.user.Quota)
	}
	if len(audit.rows) != 1 || audit.rows[0].Status != auditlog.StatusFailed {
		t.Fatalf("audit rows = %+v, want one failed row", audit.rows)
	}
}

func TestRefundTopUpNotFound(t *testing.T) {
	store := &fakeStore{user: storage.User{ID: 7, Quota: bi(0), UsedQuota: bi(0)}}
	e := newTestEngine(store, &fakeAudit{}, nil, &fakeAggregator{})

	_, err := e.RefundTopUp(context.Background(), "missing", "ops@example.com")
	if apierrors.KindOf(err) != apierrors.KindTopUpNotFound {
		t.Errorf("kind = %v, want topup_not_found", apierrors.KindOf(err))
	}
}
