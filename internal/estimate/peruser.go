package estimate

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/money"
)

// MaxUserIDs bounds the on-demand estimate so one request cannot hold a
// handler for minutes.
const MaxUserIDs = 1500

// PerUserRequest carries explicit ids and/or free-form text pasted by the
// operator (ids separated by commas, whitespace or newlines).
type PerUserRequest struct {
	UserIDs     []int64 `json:"user_ids"`
	UserIDsText string  `json:"user_ids_text"`
}

// PerUserItem is one user's estimate.
type PerUserItem struct {
	UserID  int64    `json:"user_id"`
	DueYuan string   `json:"due_yuan"`
	Plan    PlanYuan `json:"plan"`
	Warning string   `json:"warning,omitempty"`
}

// PlanYuan is the per-provider split in display units.
type PlanYuan struct {
	CardYuan       string `json:"card_yuan"`
	AggregatorYuan string `json:"aggregator_yuan"`
}

// PerUserResult aggregates the batch.
type PerUserResult struct {
	Items           []PerUserItem `json:"items"`
	TotalCents      string        `json:"total_cents"`
	TotalYuan       string        `json:"total_yuan"`
	RequestedCount  int           `json:"requested_count"`
	RefundableCount int           `json:"refundable_count"`
	InvalidIDs      []string      `json:"invalid_ids,omitempty"`
	DuplicateIDs    []int64       `json:"duplicate_ids,omitempty"`
	UserIDsNotFound []int64       `json:"user_ids_not_found,omitempty"`
}

// EstimateUsers runs the quote algorithm for an explicit list of users,
// fanning out over the job's worker pool. Invalid and duplicate ids are
// reported, not fatal; exceeding the id cap is.
func (j *Job) EstimateUsers(ctx context.Context, req PerUserRequest) (*PerUserResult, error) {
	ids, invalid, dups, err := parseUserIDs(req)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 && len(invalid) == 0 {
		return nil, apierrors.New(apierrors.KindInvalidUserIDs, "no user ids given")
	}

	result := &PerUserResult{
		RequestedCount: len(ids),
		InvalidIDs:     invalid,
		DuplicateIDs:   dups,
	}

	items := make([]*PerUserItem, len(ids))
	dueCents := make([]*big.Int, len(ids))
	var mu sync.Mutex
	var notFound []int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < j.workers; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < len(ids); i += j.workers {
				uid := ids[i]
				q, err := j.quoter.BuildQuote(gctx, uid)
				if err != nil {
					if apierrors.KindOf(err) == apierrors.KindUserNotFound {
						mu.Lock()
						notFound = append(notFound, uid)
						mu.Unlock()
						continue
					}
					items[i] = &PerUserItem{
						UserID:  uid,
						DueYuan: "0.00",
						Plan:    PlanYuan{CardYuan: "0.00", AggregatorYuan: "0.00"},
						Warning: string(apierrors.KindOf(err)),
					}
					continue
				}
				items[i] = &PerUserItem{
					UserID:  uid,
					DueYuan: money.FormatCentsToYuan(q.DueCents),
					Plan: PlanYuan{
						CardYuan:       money.FormatCentsToYuan(q.Plan.CardCents),
						AggregatorYuan: money.FormatCentsToYuan(q.Plan.AggregatorCents),
					},
				}
				dueCents[i] = q.DueCents
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := new(big.Int)
	for i, item := range items {
		if item == nil {
			continue
		}
		result.Items = append(result.Items, *item)
		if due := dueCents[i]; due != nil {
			total.Add(total, due)
			if due.Sign() > 0 {
				result.RefundableCount++
			}
		}
	}
	sort.Slice(notFound, func(i, k int) bool { return notFound[i] < notFound[k] })
	result.UserIDsNotFound = notFound
	result.TotalCents = total.String()
	result.TotalYuan = money.FormatCentsToYuan(total)
	return result, nil
}

// parseUserIDs merges the explicit list with the pasted text, de-duplicating
// while preserving first-seen order.
func parseUserIDs(req PerUserRequest) (ids []int64, invalid []string, dups []int64, err error) {
	seen := map[int64]bool{}
	dupSeen := map[int64]bool{}

	addParsed := func(id int64) {
		if seen[id] {
			if !dupSeen[id] {
				dupSeen[id] = true
				dups = append(dups, id)
			}
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, id := range req.UserIDs {
		if id <= 0 {
			invalid = append(invalid, strconv.FormatInt(id, 10))
			continue
		}
		addParsed(id)
	}

	fields := strings.FieldsFunc(req.UserIDsText, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, f := range fields {
		id, perr := strconv.ParseInt(f, 10, 64)
		if perr != nil || id <= 0 {
			invalid = append(invalid, f)
			continue
		}
		addParsed(id)
	}

	if len(ids) > MaxUserIDs {
		return nil, nil, nil, apierrors.Newf(apierrors.KindTooManyUserIDs,
			"%d user ids exceed the per-request cap of %d", len(ids), MaxUserIDs)
	}
	return ids, invalid, dups, nil
}
