package httpserver

import (
	"net/http"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/estimate"
	"github.com/quotapay/refund-server/pkg/responders"
)

// estimateState serves GET /api/refund-estimate. With autostart=1 an idle
// job is kicked off before the snapshot is taken, so a dashboard can poll a
// single endpoint.
func (h handlers) estimateState(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("autostart") == "1" {
		h.job.Start(r.Context())
	}
	responders.JSON(w, http.StatusOK, h.job.State())
}

// estimateRecompute serves POST /api/refund-estimate/recompute.
func (h handlers) estimateRecompute(w http.ResponseWriter, r *http.Request) {
	started := h.job.Start(r.Context())
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"started": started,
		"state":   h.job.State(),
	})
}

// estimateUsers serves POST /api/refund-estimate/users, the synchronous
// per-user variant.
func (h handlers) estimateUsers(w http.ResponseWriter, r *http.Request) {
	var req estimate.PerUserRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, err)
		return
	}

	result, err := h.job.EstimateUsers(r.Context(), req)
	if err != nil {
		apierrors.Write(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, result)
}
