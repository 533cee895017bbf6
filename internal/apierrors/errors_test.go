package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidAmount, 400},
		{KindTooManyUserIDs, 400},
		{KindInvalidAmountRange, 409},
		{KindUnauthorized, 401},
		{KindForbidden, 403},
		{KindUserNotFound, 404},
		{KindNothingToRefund, 409},
		{KindFeeTooHigh, 409},
		{KindInsufficientQuota, 409},
		{KindTopUpAlreadyUpdated, 409},
		{KindCustomerMismatch, 409},
		{KindMultipleCurrencies, 409},
		{KindProviderError, 500},
		{KindSupabaseError, 500},
		{KindRefundIncomplete, 500},
		{KindInternal, 500},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestWriteEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	err := New(KindFeeTooHigh, "fee exceeds refundable amount").
		WithDetails("fee_bps", 10000)
	Write(w, err)

	if w.Code != 409 {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body struct {
		Error   string                 `json:"error"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "fee_too_high" {
		t.Errorf("error = %q, want fee_too_high", body.Error)
	}
	if body.Message != "fee exceeds refundable amount" {
		t.Errorf("message = %q", body.Message)
	}
	if _, ok := body.Details["fee_bps"]; !ok {
		t.Errorf("details missing fee_bps: %v", body.Details)
	}
}

func TestWriteUnclassified(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, errors.New("sql: connection refused"))

	if w.Code != 500 {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal_error" {
		t.Errorf("error = %v, want internal_error", body["error"])
	}
	if msg, _ := body["message"].(string); msg != "internal server error" {
		t.Errorf("message leaked: %q", msg)
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := New(KindTopUpAlreadyUpdated, "status changed")
	wrapped := fmt.Errorf("refund top-up: %w", base)
	if got := KindOf(wrapped); got != KindTopUpAlreadyUpdated {
		t.Errorf("KindOf(wrapped) = %s", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s", got)
	}
}
