package redact

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStringMasksProcessorIDs(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"refund for ch_3abc123XYZ done", "refund for ch_[redacted] done"},
		{"pi_1a2b3c", "pi_[redacted]"},
		{"customer cus_9zz and charge ch_8yy", "customer cus_[redacted] and charge ch_[redacted]"},
		{"re_0k refund issued", "re_[redacted] refund issued"},
		{"nothing sensitive here", "nothing sensitive here"},
		{"searching for a word like pitch_black", "searching for a word like pitch_black"},
	}
	for _, tt := range tests {
		if got := String(tt.in); got != tt.want {
			t.Errorf("String(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValueBlanksSensitiveKeys(t *testing.T) {
	in := map[string]interface{}{
		"status":             "succeeded",
		"topup_trade_no":     "2024060112345",
		"out_refund_no":      "card_userrefund_1_1700000000000_ch_1_950",
		"provider_refund_no": "re_abc",
		"refund_money":       "9.50",
		"detail": map[string]interface{}{
			"card_charge_id": "ch_3abc",
			"note":           "charge ch_3abc refunded",
		},
	}

	out := Value(in).(map[string]interface{})
	if out["topup_trade_no"] != Placeholder || out["out_refund_no"] != Placeholder {
		t.Errorf("sensitive keys survived: %v", out)
	}
	if out["status"] != "succeeded" || out["refund_money"] != "9.50" {
		t.Errorf("harmless keys changed: %v", out)
	}
	detail := out["detail"].(map[string]interface{})
	if detail["card_charge_id"] != Placeholder {
		t.Errorf("nested sensitive key survived: %v", detail)
	}
	if detail["note"] != "charge ch_[redacted] refunded" {
		t.Errorf("string scrub missed: %v", detail["note"])
	}

	// The input map is untouched.
	if in["topup_trade_no"] != "2024060112345" {
		t.Error("input mutated")
	}
}

func TestValueCollapsesLongArrays(t *testing.T) {
	arr := make([]interface{}, MaxArrayLen+10)
	for i := range arr {
		arr[i] = i
	}

	out := Value(arr).(map[string]interface{})
	if out["count"] != MaxArrayLen+10 || out["truncated"] != true {
		t.Errorf("collapsed = %v", out)
	}

	short := Value(make([]interface{}, MaxArrayLen))
	if _, ok := short.([]interface{}); !ok {
		t.Errorf("array at the cap should survive, got %T", short)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{"calc_trace":[{"name":"op","detail":{"target_id":"ch_9x","amount_cents":"950"}}],"customer_id":"cus_55"}`)

	out := JSON(raw)
	s := string(out)
	if strings.Contains(s, "ch_9x") || strings.Contains(s, "cus_55") {
		t.Errorf("ids leaked: %s", s)
	}
	if !strings.Contains(s, `"amount_cents":"950"`) {
		t.Errorf("harmless values dropped: %s", s)
	}

	if JSON(json.RawMessage(`not json`)) != nil {
		t.Error("undecodable input must be dropped")
	}
	if JSON(nil) != nil {
		t.Error("empty input must stay empty")
	}
}
