package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quotapay/refund-server/internal/apierrors"
)

// decodeJSON decodes a request body strictly: unknown fields are rejected
// so operator typos in refund parameters surface instead of being ignored.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierrors.Newf(apierrors.KindInvalidRequest, "invalid request body: %v", err)
	}
	return nil
}

// urlParamInt64 parses a positive integer path parameter.
func urlParamInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, apierrors.Newf(apierrors.KindInvalidUserID, "invalid %s %q", name, raw)
	}
	return v, nil
}

// queryInt parses an integer query parameter, falling back to def when
// absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
