// Package estimate computes fleet-wide refund exposure: the quote algorithm
// applied to every user, with card-charge listing fanned out over a fixed
// worker pool. One computation runs at a time; its state is process-local.
package estimate

import (
	"context"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/metrics"
	"github.com/quotapay/refund-server/internal/money"
	"github.com/quotapay/refund-server/internal/refund"
	"github.com/quotapay/refund-server/internal/storage"
	"github.com/quotapay/refund-server/internal/stripe"
)

// Job lifecycle states.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusReady   = "ready"
	StatusError   = "error"
)

// Computation phases, reported through Progress.
const (
	PhaseLoading    = "loading"
	PhaseCard       = "card"
	PhaseFinalizing = "finalizing"
)

// Lister is the read-only slice of the business store the job needs.
type Lister interface {
	ListAllUsers(ctx context.Context) ([]storage.User, error)
	ListAllTopUps(ctx context.Context) ([]storage.TopUp, error)
}

// Progress is updated live while a run is in flight.
type Progress struct {
	Phase                      string `json:"phase,omitempty"`
	UsersTotal                 int    `json:"users_total"`
	CardCustomersTotal         int    `json:"card_customers_total"`
	CardCustomersDone          int    `json:"card_customers_done"`
	CardCustomersFailed        int    `json:"card_customers_failed"`
	CardCustomersMultiCurrency int    `json:"card_customers_multi_currency"`
	CardCustomersNonCNY        int    `json:"card_customers_non_cny"`
}

// Counts summarizes a finished run.
type Counts struct {
	UsersTotal                 int `json:"users_total"`
	PayingUsers                int `json:"paying_users"`
	RefundableUsers            int `json:"refundable_users"`
	UsersWithCardCustomer      int `json:"users_with_card_customer"`
	CardCustomersTotal         int `json:"card_customers_total"`
	CardCustomersFailed        int `json:"card_customers_failed"`
	CardCustomersMultiCurrency int `json:"card_customers_multi_currency"`
	CardCustomersNonCNY        int `json:"card_customers_non_cny"`
}

// Result is the cached outcome of one successful run. Amounts are decimal
// cent strings; fleet totals can exceed what a UI-friendly float holds.
type Result struct {
	TotalCents      string    `json:"total_cents"`
	TotalYuan       string    `json:"total_yuan"`
	CardCents       string    `json:"card_cents"`
	AggregatorCents string    `json:"aggregator_cents"`
	Counts          Counts    `json:"counts"`
	ComputedAt      time.Time `json:"computed_at"`
	DurationMS      int64     `json:"duration_ms"`
}

// State is the single process-wide estimate record.
type State struct {
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Progress   Progress   `json:"progress"`
	Result     *Result    `json:"result,omitempty"`
	LastResult *Result    `json:"last_result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Quoter builds a per-user refund quote; implemented by refund.Engine.
type Quoter interface {
	BuildQuote(ctx context.Context, uid int64) (*refund.Quote, error)
}

// ChargeLister is the read-only slice of the card provider the job needs.
type ChargeLister interface {
	ListCustomerCharges(ctx context.Context, customerID string) ([]stripe.CardCharge, error)
}

// Job owns the estimate state. All field access goes through mu.
type Job struct {
	mu    sync.Mutex
	state State

	store   Lister
	audit   auditlog.Store
	card    ChargeLister
	quoter  Quoter
	workers int
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewJob wires a Job. card may be nil when no card processor is configured.
func NewJob(store Lister, audit auditlog.Store, card ChargeLister, quoter Quoter, workers int, m *metrics.Metrics) *Job {
	if workers <= 0 {
		workers = 5
	}
	return &Job{
		state:   State{Status: StatusIdle},
		store:   store,
		audit:   audit,
		card:    card,
		quoter:  quoter,
		workers: workers,
		metrics: m,
		now:     time.Now,
	}
}

// State returns a snapshot of the current record.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Start launches a computation in the background. A start while one is
// already running is a no-op; the previous result is kept as last_result
// until the new run finishes.
func (j *Job) Start(ctx context.Context) bool {
	j.mu.Lock()
	if j.state.Status == StatusRunning {
		j.mu.Unlock()
		return false
	}
	started := j.now().UTC()
	if j.state.Result != nil {
		j.state.LastResult = j.state.Result
	}
	j.state.Status = StatusRunning
	j.state.StartedAt = &started
	j.state.Result = nil
	j.state.Error = ""
	j.state.Progress = Progress{Phase: PhaseLoading}
	j.mu.Unlock()

	// The run outlives the triggering request.
	bg := logger.WithContext(context.Background(), logger.FromContext(ctx))
	go j.run(bg, started)
	return true
}

func (j *Job) run(ctx context.Context, started time.Time) {
	log := logger.FromContext(ctx)
	result, err := j.compute(ctx)
	elapsed := j.now().UTC().Sub(started)

	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.state.Status = StatusError
		j.state.Error = err.Error()
		if j.metrics != nil {
			j.metrics.ObserveEstimateRun(StatusError, elapsed)
		}
		log.Error().Err(err).Dur("duration", elapsed).Msg("estimate.run.failed")
		return
	}

	result.ComputedAt = j.now().UTC()
	result.DurationMS = elapsed.Milliseconds()
	j.state.Status = StatusReady
	j.state.Result = result
	j.state.LastResult = result
	j.state.Error = ""
	if j.metrics != nil {
		j.metrics.ObserveEstimateRun(StatusReady, elapsed)
	}
	log.Info().
		Int("users_total", result.Counts.UsersTotal).
		Int("refundable_users", result.Counts.RefundableUsers).
		Str("total_yuan", result.TotalYuan).
		Dur("duration", elapsed).
		Msg("estimate.run.completed")
}

func (j *Job) compute(ctx context.Context) (*Result, error) {
	users, err := j.store.ListAllUsers(ctx)
	if err != nil {
		return nil, err
	}
	topups, err := j.store.ListAllTopUps(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := j.audit.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	topupsByUser := map[int64][]storage.TopUp{}
	for _, t := range topups {
		topupsByUser[t.UserID] = append(topupsByUser[t.UserID], t)
	}
	logsByUser := map[int64][]auditlog.RefundLog{}
	for i := range logs {
		logsByUser[logs[i].UserID] = append(logsByUser[logs[i].UserID], logs[i])
	}

	var cardUsers []storage.User
	for _, u := range users {
		if u.StripeCustomerID != "" {
			cardUsers = append(cardUsers, u)
		}
	}
	j.setProgress(func(p *Progress) {
		p.Phase = PhaseCard
		p.UsersTotal = len(users)
		p.CardCustomersTotal = len(cardUsers)
	})

	chargesByUser, failedCustomers := j.listChargesPool(ctx, cardUsers)

	j.setProgress(func(p *Progress) { p.Phase = PhaseFinalizing })

	counts := Counts{
		UsersTotal:            len(users),
		UsersWithCardCustomer: len(cardUsers),
		CardCustomersTotal:    len(cardUsers),
		CardCustomersFailed:   len(failedCustomers),
	}
	totalCents := new(big.Int)
	cardCents := new(big.Int)
	aggregatorCents := new(big.Int)

	log := logger.FromContext(ctx)
	for _, u := range users {
		if failedCustomers[u.ID] {
			continue
		}
		q, err := refund.Compute(u, topupsByUser[u.ID], filterCounting(logsByUser[u.ID]), chargesByUser[u.ID])
		if err != nil {
			switch apierrors.KindOf(err) {
			case apierrors.KindMultipleCurrencies:
				counts.CardCustomersMultiCurrency++
				j.setProgress(func(p *Progress) { p.CardCustomersMultiCurrency++ })
			case apierrors.KindNonCNYCurrency:
				counts.CardCustomersNonCNY++
				j.setProgress(func(p *Progress) { p.CardCustomersNonCNY++ })
			default:
				counts.CardCustomersFailed++
				log.Warn().Err(err).Int64("user_id", u.ID).Msg("estimate.user.failed")
			}
			continue
		}

		paid := new(big.Int).Add(q.Aggregator.NetCents, q.Card.NetCents)
		if paid.Sign() > 0 {
			counts.PayingUsers++
		}
		if q.DueCents.Sign() > 0 {
			counts.RefundableUsers++
		}
		totalCents.Add(totalCents, q.DueCents)
		cardCents.Add(cardCents, q.Plan.CardCents)
		aggregatorCents.Add(aggregatorCents, q.Plan.AggregatorCents)
	}

	return &Result{
		TotalCents:      totalCents.String(),
		TotalYuan:       money.FormatCentsToYuan(totalCents),
		CardCents:       cardCents.String(),
		AggregatorCents: aggregatorCents.String(),
		Counts:          counts,
	}, nil
}

// listChargesPool fans the charge listing out over a fixed worker pool.
// Workers stride over the customer slice; a per-customer failure marks the
// user excluded and is counted, never fatal.
func (j *Job) listChargesPool(ctx context.Context, cardUsers []storage.User) (map[int64][]stripe.CardCharge, map[int64]bool) {
	chargesByUser := make(map[int64][]stripe.CardCharge, len(cardUsers))
	failed := map[int64]bool{}
	if j.card == nil || len(cardUsers) == 0 {
		for _, u := range cardUsers {
			failed[u.ID] = true
		}
		j.setProgress(func(p *Progress) {
			p.CardCustomersDone = len(cardUsers)
			p.CardCustomersFailed = len(cardUsers)
		})
		return chargesByUser, failed
	}

	var mu sync.Mutex
	log := logger.FromContext(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < j.workers; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < len(cardUsers); i += j.workers {
				u := cardUsers[i]
				charges, err := j.card.ListCustomerCharges(ctx, u.StripeCustomerID)

				mu.Lock()
				if err != nil {
					failed[u.ID] = true
					log.Warn().Err(err).Int64("user_id", u.ID).
						Str("customer", logger.TruncateID(u.StripeCustomerID)).
						Msg("estimate.charges.list_failed")
				} else {
					chargesByUser[u.ID] = charges
				}
				mu.Unlock()

				j.setProgress(func(p *Progress) {
					p.CardCustomersDone++
					if err != nil {
						p.CardCustomersFailed++
					}
				})
			}
			return nil
		})
	}
	_ = g.Wait() // workers only count failures, never return them
	return chargesByUser, failed
}

func (j *Job) setProgress(update func(*Progress)) {
	j.mu.Lock()
	update(&j.state.Progress)
	j.mu.Unlock()
}

// filterCounting drops failed rows; only pending and succeeded refunds
// reduce a user's remaining balance.
func filterCounting(logs []auditlog.RefundLog) []auditlog.RefundLog {
	out := logs[:0:0]
	for _, l := range logs {
		if l.Status == auditlog.StatusFailed {
			continue
		}
		out = append(out, l)
	}
	return out
}
