package httpserver

import (
	"net/http"
	"strings"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/refund"
	"github.com/quotapay/refund-server/pkg/responders"
)

// searchUsers serves GET /api/users?q=. Matches id, email, or Stripe
// customer id; the store decides the semantics.
func (h handlers) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		apierrors.WriteKind(w, apierrors.KindInvalidRequest, "q is required")
		return
	}

	users, err := h.store.SearchUsers(r.Context(), q, 20)
	if err != nil {
		apierrors.Write(w, err)
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, toUserView(u))
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"users": views})
}

// refundQuote serves GET /api/users/{uid}/refund-quote.
func (h handlers) refundQuote(w http.ResponseWriter, r *http.Request) {
	uid, err := urlParamInt64(r, "uid")
	if err != nil {
		apierrors.Write(w, err)
		return
	}

	quote, err := h.engine.BuildQuote(r.Context(), uid)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, toQuoteView(quote))
}

type executeRefundRequest struct {
	AmountYuan    string `json:"amount_yuan,omitempty"`
	FeePercent    string `json:"fee_percent,omitempty"`
	MinRefundYuan string `json:"min_refund_yuan,omitempty"`
	MaxRefundYuan string `json:"max_refund_yuan,omitempty"`
	ClearBalance  bool   `json:"clear_balance,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

// executeRefund serves POST /api/users/{uid}/refund, the multi-leg refund
// batch. Amount defaults to the quoted due when omitted.
func (h handlers) executeRefund(w http.ResponseWriter, r *http.Request) {
	uid, err := urlParamInt64(r, "uid")
	if err != nil {
		apierrors.Write(w, err)
		return
	}

	var body executeRefundRequest
	if err := decodeJSON(r, &body); err != nil {
		apierrors.Write(w, err)
		return
	}

	result, err := h.engine.Execute(r.Context(), refund.ExecuteRequest{
		UserID:        uid,
		AmountYuan:    strings.TrimSpace(body.AmountYuan),
		FeePercent:    strings.TrimSpace(body.FeePercent),
		MinRefundYuan: strings.TrimSpace(body.MinRefundYuan),
		MaxRefundYuan: strings.TrimSpace(body.MaxRefundYuan),
		ClearBalance:  body.ClearBalance,
		DryRun:        body.DryRun,
		PerformedBy:   adminIdentity(r.Context()),
	})
	if err != nil {
		// A partial batch must stay visible: the succeeded legs are settled
		// money and the operator needs them to reconcile.
		if apiErr := apierrors.AsError(err); apiErr != nil &&
			apiErr.Kind == apierrors.KindRefundIncomplete && result != nil {
			apierrors.Write(w, apiErr.WithDetails("batch", toExecuteView(result)))
			return
		}
		apierrors.Write(w, err)
		return
	}

	if !result.DryRun {
		log := logger.FromContext(r.Context())
		log.Info().
			Int64("user_id", uid).
			Str("batch_id", result.BatchID).
			Int("legs", len(result.Legs)).
			Msg("refund.batch.succeeded")
	}
	responders.JSON(w, http.StatusOK, toExecuteView(result))
}
