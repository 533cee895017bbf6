// Package epay implements the refund client for the Alipay/WeChat payment
// aggregator. Requests are form-encoded and RSA-signed over a canonicalized
// parameter string; responses are JSON, optionally signed by the platform.
package epay

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quotapay/refund-server/internal/apierrors"
)

const refundPath = "/api/refund"

// Config carries the merchant credentials for the aggregator.
type Config struct {
	BaseURL    string
	PID        string
	PrivateKey string
	PublicKey  string // empty disables response signature verification
	SignType   string // RSA (SHA-1) | RSA2 (SHA-256)
}

// Client issues signed refund calls against the aggregator.
type Client struct {
	http *resty.Client
	pid  string
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
	hash crypto.Hash
	sign string
}

// New builds a Client, parsing the configured key material up front so a bad
// key fails at startup rather than mid-refund.
func New(cfg Config) (*Client, error) {
	priv, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("epay: %w", err)
	}

	var pub *rsa.PublicKey
	if cfg.PublicKey != "" {
		pub, err = ParsePublicKey(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("epay: %w", err)
		}
	}

	hash := crypto.SHA256
	signType := "RSA2"
	if cfg.SignType == "RSA" {
		hash = crypto.SHA1
		signType = "RSA"
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(0) // refunds must never auto-retry outside the idempotency protocol

	return &Client{
		http: httpClient,
		pid:  cfg.PID,
		priv: priv,
		pub:  pub,
		hash: hash,
		sign: signType,
	}, nil
}

// RefundRequest identifies one prior payment and the amount to claw back.
type RefundRequest struct {
	OrderNoField string // "trade_no" or "out_trade_no"
	OrderNo      string
	MoneyYuan    string // two-decimal yuan string
	OutRefundNo  string // caller-supplied idempotency key
	Timestamp    int64  // unix seconds; 0 means now
}

// RefundResponse is the parsed aggregator reply. Raw preserves the exact body
// for the audit log.
type RefundResponse struct {
	Code     int64
	Msg      string
	RefundNo string
	Raw      json.RawMessage
}

// Refund posts a signed refund request. The aggregator deduplicates on
// out_refund_no, so repeating a call with the same key is safe.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	if req.OrderNoField != "trade_no" && req.OrderNoField != "out_trade_no" {
		return nil, apierrors.Newf(apierrors.KindInternal, "epay: unsupported order field %q", req.OrderNoField)
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	params := map[string]string{
		"pid":            c.pid,
		req.OrderNoField: req.OrderNo,
		"money":          req.MoneyYuan,
		"out_refund_no":  req.OutRefundNo,
		"timestamp":      strconv.FormatInt(ts, 10),
		"sign_type":      c.sign,
	}
	sig, err := signParams(params, c.priv, c.hash)
	if err != nil {
		return nil, apierrors.New(apierrors.KindInternal, err.Error())
	}
	params["sign"] = sig

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(params).
		Post(refundPath)
	if err != nil {
		return nil, apierrors.Newf(apierrors.KindProviderError, "epay refund request: %v", err)
	}

	return c.parseResponse(resp.Body())
}

// parseResponse decodes the JSON body, verifies the platform signature when a
// public key is configured, and maps code != 0 to a provider error.
func (c *Client) parseResponse(body []byte) (*RefundResponse, error) {
	var fields map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, apierrors.Newf(apierrors.KindProviderError, "epay: non-JSON response: %v", err)
	}

	if c.pub != nil {
		if sig, ok := fields["sign"].(string); ok && sig != "" {
			if err := verifyParams(stringifyFields(fields), sig, c.pub, c.hash); err != nil {
				return nil, apierrors.Newf(apierrors.KindSignatureInvalid, "epay: %v", err)
			}
		}
	}

	out := &RefundResponse{Raw: json.RawMessage(append([]byte(nil), body...))}
	out.Code = numberField(fields, "code")
	if msg, ok := fields["msg"].(string); ok {
		out.Msg = msg
	}
	if refundNo, ok := fields["refund_no"].(string); ok {
		out.RefundNo = refundNo
	}

	if out.Code != 0 {
		msg := out.Msg
		if msg == "" {
			msg = "refund rejected"
		}
		return out, apierrors.Newf(apierrors.KindProviderError, "epay: %s (code %d)", msg, out.Code).
			WithDetails("provider_code", out.Code)
	}
	return out, nil
}

// stringifyFields renders response scalars as strings for canonicalization.
// Nulls, arrays and objects are dropped, matching the request-side rules.
func stringifyFields(fields map[string]interface{}) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

func numberField(fields map[string]interface{}, key string) int64 {
	switch v := fields[key].(type) {
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}
