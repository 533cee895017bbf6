package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/storage"
	"github.com/quotapay/refund-server/pkg/responders"
)

// listTopUps serves GET /api/topups. The q parameter matches a numeric user
// id or, failing that, an exact trade number.
func (h handlers) listTopUps(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.TopUpFilter{
		PaymentMethod: query.Get("payment_method"),
		Status:        query.Get("status"),
		Limit:         queryInt(r, "limit", 50),
		Offset:        queryInt(r, "offset", 0),
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		if uid, err := strconv.ParseInt(q, 10, 64); err == nil && uid > 0 {
			filter.UserID = uid
		} else {
			filter.TradeNo = q
		}
	}

	topups, err := h.store.ListTopUps(r.Context(), filter)
	if err != nil {
		apierrors.Write(w, err)
		return
	}

	views := make([]topupView, 0, len(topups))
	for _, t := range topups {
		views = append(views, toTopUpView(t))
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"topups": views,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getTopUp serves GET /api/topups/{trade_no} with the owning user joined in.
func (h handlers) getTopUp(w http.ResponseWriter, r *http.Request) {
	tradeNo := chi.URLParam(r, "trade_no")
	if tradeNo == "" {
		apierrors.WriteKind(w, apierrors.KindInvalidRequest, "missing trade_no")
		return
	}

	topup, err := h.store.GetTopUpByTradeNo(r.Context(), tradeNo)
	if err != nil {
		if err == storage.ErrNotFound {
			apierrors.WriteKind(w, apierrors.KindTopUpNotFound, "top-up not found")
			return
		}
		apierrors.Write(w, err)
		return
	}

	resp := map[string]interface{}{"topup": toTopUpView(topup)}
	if user, err := h.store.GetUser(r.Context(), topup.UserID); err == nil {
		resp["user"] = toUserView(user)
	}
	responders.JSON(w, http.StatusOK, resp)
}

type refundTopUpRequest struct {
	TradeNo string `json:"trade_no"`
}

// refundTopUp serves POST /api/refund, the whole-order aggregator refund.
func (h handlers) refundTopUp(w http.ResponseWriter, r *http.Request) {
	var req refundTopUpRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, err)
		return
	}
	req.TradeNo = strings.TrimSpace(req.TradeNo)
	if req.TradeNo == "" {
		apierrors.WriteKind(w, apierrors.KindInvalidRequest, "trade_no is required")
		return
	}

	row, err := h.engine.RefundTopUp(r.Context(), req.TradeNo, adminIdentity(r.Context()))
	if err != nil {
		apierrors.Write(w, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("trade_no", logger.TruncateID(req.TradeNo)).
		Int64("user_id", row.UserID).
		Msg("refund.topup.succeeded")
	responders.JSON(w, http.StatusOK, map[string]interface{}{"refund": row})
}
