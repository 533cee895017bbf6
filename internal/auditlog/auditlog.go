// Package auditlog is the client for the refund audit store, a Supabase
// project reached over PostgREST. Every refund attempt is recorded here
// before the provider is called and settled to a terminal state after.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/config"
)

// Providers a refund leg can settle against.
const (
	ProviderAggregator = "aggregator"
	ProviderCard       = "card"
)

// RefundLog lifecycle states: pending -> succeeded | failed.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RefundLog is one refund attempt. QuotaDelta is carried as a decimal string
// because balances exceed int64.
type RefundLog struct {
	ID                  string          `json:"id,omitempty"`
	CreatedAt           time.Time       `json:"created_at,omitempty"`
	UserID              int64           `json:"user_id"`
	TopUpTradeNo        string          `json:"topup_trade_no,omitempty"`
	CardChargeID        string          `json:"card_charge_id,omitempty"`
	CardPaymentIntentID string          `json:"card_payment_intent_id,omitempty"`
	PaymentMethod       string          `json:"payment_method"`
	Currency            string          `json:"currency,omitempty"`
	RefundMoney         string          `json:"refund_money"`
	RefundMoneyMinor    int64           `json:"refund_money_minor"`
	QuotaDelta          string          `json:"quota_delta"`
	Provider            string          `json:"provider"`
	OutRefundNo         string          `json:"out_refund_no"`
	ProviderRefundNo    string          `json:"provider_refund_no,omitempty"`
	Status              string          `json:"status"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	PerformedBy         string          `json:"performed_by,omitempty"`
	ExecutedAt          *time.Time      `json:"executed_at,omitempty"`
	RawRequest          json.RawMessage `json:"raw_request,omitempty"`
	RawResponse         json.RawMessage `json:"raw_response,omitempty"`
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	UserID        int64
	Status        string
	PaymentMethod string
	StartAt       time.Time
	EndAt         time.Time
	Limit         int
	Offset        int
}

// Store is the audit log contract consumed by the refund engine and the
// HTTP layer. Implemented by Client; tests use fakes.
type Store interface {
	Insert(ctx context.Context, log *RefundLog) error
	MarkSucceeded(ctx context.Context, id, providerRefundNo string, rawResponse json.RawMessage) error
	MarkFailed(ctx context.Context, id, errMsg string, rawResponse json.RawMessage) error
	ListByUser(ctx context.Context, uid int64) ([]RefundLog, error)
	ListAll(ctx context.Context) ([]RefundLog, error)
	List(ctx context.Context, filter ListFilter) ([]RefundLog, error)
	Get(ctx context.Context, id string) (RefundLog, error)
	IsAdmin(ctx context.Context, subject string) (bool, error)
}

// Client talks PostgREST with the service-role key.
type Client struct {
	http        *resty.Client
	refundTable string
	adminTable  string
}

// New builds a Client from Supabase config.
func New(cfg config.SupabaseConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.URL+"/rest/v1").
		SetHeader("apikey", cfg.ServiceRoleKey).
		SetHeader("Authorization", "Bearer "+cfg.ServiceRoleKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	return &Client{
		http:        httpClient,
		refundTable: cfg.RefundTable,
		adminTable:  cfg.AdminTable,
	}
}

// Insert writes a new row and backfills the generated id into log.
func (c *Client) Insert(ctx context.Context, log *RefundLog) error {
	var inserted []RefundLog
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(log).
		SetResult(&inserted).
		Post("/" + c.refundTable)
	if err := checkResp(resp, err, "insert refund log"); err != nil {
		return err
	}
	if len(inserted) > 0 {
		log.ID = inserted[0].ID
		log.CreatedAt = inserted[0].CreatedAt
	}
	return nil
}

// MarkSucceeded settles a pending row as succeeded.
func (c *Client) MarkSucceeded(ctx context.Context, id, providerRefundNo string, rawResponse json.RawMessage) error {
	now := time.Now().UTC()
	patch := map[string]interface{}{
		"status":      StatusSucceeded,
		"executed_at": now,
	}
	if providerRefundNo != "" {
		patch["provider_refund_no"] = providerRefundNo
	}
	if len(rawResponse) > 0 {
		patch["raw_response"] = rawResponse
	}
	return c.patchByID(ctx, id, patch, "mark refund succeeded")
}

// MarkFailed settles a pending row as failed.
func (c *Client) MarkFailed(ctx context.Context, id, errMsg string, rawResponse json.RawMessage) error {
	now := time.Now().UTC()
	patch := map[string]interface{}{
		"status":        StatusFailed,
		"error_message": errMsg,
		"executed_at":   now,
	}
	if len(rawResponse) > 0 {
		patch["raw_response"] = rawResponse
	}
	return c.patchByID(ctx, id, patch, "mark refund failed")
}

func (c *Client) patchByID(ctx context.Context, id string, patch map[string]interface{}, op string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetBody(patch).
		Patch("/" + c.refundTable)
	return checkResp(resp, err, op)
}

// ListByUser returns the rows that count against a user's balance: pending
// and succeeded, oldest first. Failed rows are excluded because their
// reserve was released.
func (c *Client) ListByUser(ctx context.Context, uid int64) ([]RefundLog, error) {
	var logs []RefundLog
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+strconv.FormatInt(uid, 10)).
		SetQueryParam("status", fmt.Sprintf("in.(%s,%s)", StatusPending, StatusSucceeded)).
		SetQueryParam("order", "created_at.asc").
		SetResult(&logs).
		Get("/" + c.refundTable)
	if err := checkResp(resp, err, "list refund logs by user"); err != nil {
		return nil, err
	}
	return logs, nil
}

// ListAll returns every pending and succeeded row, used by the fleet
// estimate job to aggregate refunded amounts per trade number.
func (c *Client) ListAll(ctx context.Context) ([]RefundLog, error) {
	var logs []RefundLog
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("status", fmt.Sprintf("in.(%s,%s)", StatusPending, StatusSucceeded)).
		SetQueryParam("order", "created_at.asc").
		SetResult(&logs).
		Get("/" + c.refundTable)
	if err := checkResp(resp, err, "list all refund logs"); err != nil {
		return nil, err
	}
	return logs, nil
}

// List applies an operator filter over the full log, newest first.
func (c *Client) List(ctx context.Context, filter ListFilter) ([]RefundLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("order", "created_at.desc").
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("offset", strconv.Itoa(filter.Offset))
	if filter.UserID > 0 {
		req.SetQueryParam("user_id", "eq."+strconv.FormatInt(filter.UserID, 10))
	}
	if filter.Status != "" {
		req.SetQueryParam("status", "eq."+filter.Status)
	}
	if filter.PaymentMethod != "" {
		req.SetQueryParam("payment_method", "eq."+filter.PaymentMethod)
	}
	if !filter.StartAt.IsZero() {
		req.SetQueryParam("created_at", "gte."+filter.StartAt.UTC().Format(time.RFC3339))
	}
	if !filter.EndAt.IsZero() {
		// PostgREST allows repeating a column with different operators via and=().
		req.SetQueryParam("and", fmt.Sprintf("(created_at.lte.%s)", filter.EndAt.UTC().Format(time.RFC3339)))
	}

	var logs []RefundLog
	resp, err := req.SetResult(&logs).Get("/" + c.refundTable)
	if err := checkResp(resp, err, "list refund logs"); err != nil {
		return nil, err
	}
	return logs, nil
}

// Get fetches one row by uuid.
func (c *Client) Get(ctx context.Context, id string) (RefundLog, error) {
	var logs []RefundLog
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("limit", "1").
		SetResult(&logs).
		Get("/" + c.refundTable)
	if err := checkResp(resp, err, "get refund log"); err != nil {
		return RefundLog{}, err
	}
	if len(logs) == 0 {
		return RefundLog{}, apierrors.Newf(apierrors.KindRefundNotFound, "refund %s not found", id)
	}
	return logs[0], nil
}

// IsAdmin checks the admin table for the JWT subject.
func (c *Client) IsAdmin(ctx context.Context, subject string) (bool, error) {
	var rows []struct {
		Email string `json:"email"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("email", "eq."+subject).
		SetQueryParam("select", "email").
		SetQueryParam("limit", "1").
		SetResult(&rows).
		Get("/" + c.adminTable)
	if err := checkResp(resp, err, "admin lookup"); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// checkResp folds transport and HTTP-level failures into supabase_error.
func checkResp(resp *resty.Response, err error, op string) error {
	if err != nil {
		return apierrors.Newf(apierrors.KindSupabaseError, "%s: %v", op, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return apierrors.Newf(apierrors.KindSupabaseError, "%s: status %d: %s",
			op, resp.StatusCode(), truncateBody(resp.Body())).
			WithDetails("status", resp.StatusCode())
	}
	return nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
