package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/pkg/responders"
)

// listRefunds serves GET /api/refunds over the audit store.
func (h handlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRefundFilter(r)
	if err != nil {
		apierrors.Write(w, err)
		return
	}

	logs, err := h.audit.List(r.Context(), filter)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"refunds": logs,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getRefund serves GET /api/refunds/{id}.
func (h handlers) getRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.WriteKind(w, apierrors.KindInvalidRequest, "missing refund id")
		return
	}

	row, err := h.audit.Get(r.Context(), id)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"refund": row})
}

func parseRefundFilter(r *http.Request) (auditlog.ListFilter, error) {
	query := r.URL.Query()
	filter := auditlog.ListFilter{
		PaymentMethod: query.Get("payment_method"),
		Limit:         queryInt(r, "limit", 50),
		Offset:        queryInt(r, "offset", 0),
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if raw := query.Get("mysql_user_id"); raw != "" {
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || uid <= 0 {
			return filter, apierrors.Newf(apierrors.KindInvalidUserID, "invalid mysql_user_id %q", raw)
		}
		filter.UserID = uid
	}

	switch status := query.Get("status"); status {
	case "", auditlog.StatusPending, auditlog.StatusSucceeded, auditlog.StatusFailed:
		filter.Status = status
	default:
		return filter, apierrors.Newf(apierrors.KindInvalidRequest, "invalid status %q", status)
	}

	var err error
	if filter.StartAt, err = parseTimeParam(query.Get("start_at")); err != nil {
		return filter, apierrors.Newf(apierrors.KindInvalidRequest, "invalid start_at: %v", err)
	}
	if filter.EndAt, err = parseTimeParam(query.Get("end_at")); err != nil {
		return filter, apierrors.Newf(apierrors.KindInvalidRequest, "invalid end_at: %v", err)
	}
	return filter, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
