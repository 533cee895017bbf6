// Package redact scrubs refund audit rows for the public activity view.
// It walks arbitrary JSON, blanks values under sensitive keys, masks
// processor object ids inside strings, and collapses oversized arrays.
package redact

import (
	"encoding/json"
	"regexp"
)

// Placeholder replaces any value stored under a sensitive key.
const Placeholder = "[redacted]"

// MaxArrayLen is the array cap; longer arrays collapse to a count marker.
const MaxArrayLen = 50

// sensitiveKeys is the fixed blocklist: identifiers that tie a public row
// back to a user or a provider object.
var sensitiveKeys = map[string]bool{
	"trade_no":               true,
	"out_trade_no":           true,
	"topup_trade_no":         true,
	"out_refund_no":          true,
	"provider_refund_no":     true,
	"refund_no":              true,
	"card_charge_id":         true,
	"card_payment_intent_id": true,
	"charge_id":              true,
	"payment_intent_id":      true,
	"customer_id":            true,
	"stripe_customer_id":     true,
	"email":                  true,
	"performed_by":           true,
}

// idPattern matches processor object ids embedded in free-form strings:
// charges, payment intents, customers, refunds, payouts.
var idPattern = regexp.MustCompile(`\b(ch|pi|cus|re|pyr)_[A-Za-z0-9]+`)

// Value redacts a decoded JSON value in place semantics (a new value is
// returned; the input is not modified).
func Value(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if sensitiveKeys[k] {
				out[k] = Placeholder
				continue
			}
			out[k] = Value(child)
		}
		return out
	case []interface{}:
		if len(val) > MaxArrayLen {
			return map[string]interface{}{
				"count":     len(val),
				"truncated": true,
			}
		}
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = Value(child)
		}
		return out
	case string:
		return String(val)
	default:
		return v
	}
}

// String masks processor ids inside a string, keeping the prefix so the
// object type stays readable.
func String(s string) string {
	return idPattern.ReplaceAllStringFunc(s, func(m string) string {
		for i := 0; i < len(m); i++ {
			if m[i] == '_' {
				return m[:i] + "_" + Placeholder
			}
		}
		return Placeholder
	})
}

// JSON redacts a raw JSON blob. Undecodable input is dropped entirely
// rather than leaked.
func JSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	out, err := json.Marshal(Value(v))
	if err != nil {
		return nil
	}
	return out
}
