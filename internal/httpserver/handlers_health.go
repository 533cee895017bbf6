package httpserver

import (
	"net/http"

	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/pkg/responders"
)

// health serves GET /healthz. The business database is the only hard
// dependency probed; the audit store and providers degrade per request.
func (h handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("health.db_unreachable")
		responders.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "database unreachable",
		})
		return
	}
	responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
