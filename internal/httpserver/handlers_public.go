package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/auditlog"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/redact"
	"github.com/quotapay/refund-server/pkg/responders"
)

// publicActivity serves GET /api/public/refunds/activity: the audit log with
// every identifier masked. Raw provider payloads are dropped entirely rather
// than redacted.
func (h handlers) publicActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, err := h.audit.List(r.Context(), auditlog.ListFilter{Limit: limit, Offset: offset})
	if err != nil {
		apierrors.Write(w, err)
		return
	}

	items := make([]json.RawMessage, 0, len(logs))
	for i := range logs {
		if masked := redactLog(r, logs[i]); masked != nil {
			items = append(items, masked)
		}
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"activity": items,
		"limit":    limit,
		"offset":   offset,
	})
}

// publicActivityDetail serves GET /api/public/refunds/activity/{id}.
func (h handlers) publicActivityDetail(w http.ResponseWriter, r *http.Request) {
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

	masked := redactLog(r, row)
	if masked == nil {
		apierrors.WriteKind(w, apierrors.KindInternal, "failed to render refund")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"refund": masked})
}

// redactLog renders one audit row for the public surface. The provider
// payloads never leave the server here, masked or not.
func redactLog(r *http.Request, row auditlog.RefundLog) json.RawMessage {
	row.RawRequest = nil
	row.RawResponse = nil

	raw, err := json.Marshal(row)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Str("refund_id", logger.TruncateID(row.ID)).
			Msg("public.activity.render_failed")
		return nil
	}
	return redact.JSON(raw)
}
