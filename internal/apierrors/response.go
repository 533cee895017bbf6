package apierrors

import (
	"encoding/json"
	"net/http"
)

// envelope is the wire shape served to clients. The error field carries the
// stable kind string; message and details are optional context.
type envelope struct {
	Error   Kind                   `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Write renders err as a JSON error envelope with the status its kind maps
// to. Non-*Error values are served as internal_error without leaking their
// message to the client.
func Write(w http.ResponseWriter, err error) {
	e := AsError(err)
	if e == nil {
		e = &Error{Kind: KindInternal, Message: "internal server error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Kind.HTTPStatus())
	json.NewEncoder(w).Encode(envelope{
		Error:   e.Kind,
		Message: e.Message,
		Details: e.Details,
	})
}

// WriteKind is a convenience for handlers that have no wrapped error value.
func WriteKind(w http.ResponseWriter, kind Kind, message string) {
	Write(w, New(kind, message))
}
