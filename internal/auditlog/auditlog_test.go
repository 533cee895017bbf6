package auditlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.SupabaseConfig{
		URL:            srv.URL,
		ServiceRoleKey: "sr-key",
		RefundTable:    "refund_logs",
		AdminTable:     "admin_users",
	})
}

func TestInsertBackfillsID(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/refund_logs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("apikey") != "sr-key" || r.Header.Get("Authorization") != "Bearer sr-key" {
			t.Error("missing auth headers")
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}

		var body RefundLog
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.QuotaDelta != "5000000" || body.Status != StatusPending {
			t.Errorf("body = %+v", body)
		}

		body.ID = "7f2c5e1a-0000-0000-0000-000000000001"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]RefundLog{body})
	})

	log := &RefundLog{
		UserID:           42,
		PaymentMethod:    "alipay",
		RefundMoney:      "10.00",
		RefundMoneyMinor: 1000,
		QuotaDelta:       "5000000",
		Provider:         ProviderAggregator,
		OutRefundNo:      "aggregator_b1_T1_1000",
		Status:           StatusPending,
	}
	if err := client.Insert(context.Background(), log); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if log.ID == "" {
		t.Error("inserted id not backfilled")
	}
}

func TestMarkSucceededPatch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "eq.abc-123" {
			t.Errorf("id filter = %q", got)
		}
		var patch map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			t.Fatalf("decode patch: %v", err)
		}
		if patch["status"] != StatusSucceeded || patch["provider_refund_no"] != "PR9" {
			t.Errorf("patch = %v", patch)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.MarkSucceeded(context.Background(), "abc-123", "PR9", json.RawMessage(`{"ok":true}`))
	if err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
}

func TestListByUserFiltersTerminalFailures(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("user_id") != "eq.42" {
			t.Errorf("user_id = %q", q.Get("user_id"))
		}
		if q.Get("status") != "in.(pending,succeeded)" {
			t.Errorf("status = %q", q.Get("status"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]RefundLog{
			{ID: "a", UserID: 42, Status: StatusSucceeded, QuotaDelta: "500000"},
			{ID: "b", UserID: 42, Status: StatusPending, QuotaDelta: "250000"},
		})
	})

	logs, err := client.ListByUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(logs) != 2 || logs[0].QuotaDelta != "500000" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestGetNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	})

	_, err := client.Get(context.Background(), "missing-id")
	if apierrors.KindOf(err) != apierrors.KindRefundNotFound {
		t.Errorf("kind = %v, want refund_not_found", apierrors.KindOf(err))
	}
}

func TestServerErrorSurfacesAsSupabaseError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	})

	_, err := client.ListByUser(context.Background(), 1)
	if apierrors.KindOf(err) != apierrors.KindSupabaseError {
		t.Errorf("kind = %v, want supabase_error", apierrors.KindOf(err))
	}
}

func TestIsAdmin(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/admin_users" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("email") == "eq.ops@example.com" {
			w.Write([]byte(`[{"email":"ops@example.com"}]`))
			return
		}
		w.Write([]byte("[]"))
	})

	ok, err := client.IsAdmin(context.Background(), "ops@example.com")
	if err != nil || !ok {
		t.Errorf("IsAdmin(ops) = %v, %v", ok, err)
	}
	ok, err = client.IsAdmin(context.Background(), "nobody@example.com")
	if err != nil || ok {
		t.Errorf("IsAdmin(nobody) = %v, %v", ok, err)
	}
}
