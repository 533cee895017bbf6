package epay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func TestCanonicalString(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{
			name: "sorted ascii order",
			params: map[string]string{
				"trade_no":      "T100",
				"pid":           "1001",
				"money":         "10.00",
				"out_refund_no": "aggregator_b1_T100_1000",
				"timestamp":     "1700000000",
			},
			want: "money=10.00&out_refund_no=aggregator_b1_T100_1000&pid=1001&timestamp=1700000000&trade_no=T100",
		},
		{
			name: "sign and sign_type dropped",
			params: map[string]string{
				"pid":       "1001",
				"sign":      "abc",
				"sign_type": "RSA2",
				"money":     "1.00",
			},
			want: "money=1.00&pid=1001",
		},
		{
			name: "empty values dropped",
			params: map[string]string{
				"pid":   "1001",
				"money": "",
			},
			want: "pid=1001",
		},
		{
			name:   "empty map",
			params: map[string]string{},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canonicalString(tt.params); got != tt.want {
				t.Errorf("canonicalString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	params := map[string]string{
		"pid":           "1001",
		"trade_no":      "T42",
		"money":         "5.00",
		"out_refund_no": "aggregator_b_T42_500",
		"timestamp":     "1700000000",
	}

	for _, hash := range []crypto.Hash{crypto.SHA256, crypto.SHA1} {
		sig, err := signParams(params, key, hash)
		if err != nil {
			t.Fatalf("signParams: %v", err)
		}
		if err := verifyParams(params, sig, &key.PublicKey, hash); err != nil {
			t.Errorf("verifyParams: %v", err)
		}

		// Tampering with any signed field must break verification.
		tampered := map[string]string{}
		for k, v := range params {
			tampered[k] = v
		}
		tampered["money"] = "500.00"
		if err := verifyParams(tampered, sig, &key.PublicKey, hash); err == nil {
			t.Error("verifyParams accepted tampered params")
		}
	}
}

func TestVerifyRejectsBadBase64(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := verifyParams(map[string]string{"a": "b"}, "!!!", &key.PublicKey, crypto.SHA256); err == nil {
		t.Error("expected error for malformed base64 signature")
	}
}
