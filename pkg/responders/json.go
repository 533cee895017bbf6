// Package responders holds the success-path response writers. Error
// envelopes live in apierrors.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON encodes payload as the response body with the given status. A nil
// payload sends headers only. HTML escaping is off so trade numbers and
// provider payloads round-trip verbatim.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
