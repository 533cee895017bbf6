// Package apierrors defines the machine-readable error kinds shared by the
// refund engine, the estimate job and the HTTP layer, plus the JSON envelope
// they are rendered with.
package apierrors

// Kind is a stable string identifier carried in the `error` field of every
// error envelope. Frontends branch on kinds, never on messages.
type Kind string

// Validation errors (malformed input).
const (
	KindInvalidRequest Kind = "invalid_request"
	KindInvalidUserID  Kind = "invalid_user_id"
	KindInvalidAmount  Kind = "invalid_amount"
	KindInvalidFee     Kind = "invalid_fee_percent"
	KindInvalidUserIDs Kind = "invalid_user_ids"
	KindTooManyUserIDs Kind = "too_many_user_ids"
)

// Not-found errors.
const (
	KindUserNotFound   Kind = "user_not_found"
	KindTopUpNotFound  Kind = "topup_not_found"
	KindRefundNotFound Kind = "refund_not_found"
)

// State conflicts (the request is well-formed but the world disagrees).
const (
	KindNothingToRefund    Kind = "nothing_to_refund"
	KindTopUpNotRefundable Kind = "topup_not_refundable"
	KindFeeTooHigh         Kind = "fee_too_high"
	KindAmountOutOfRange   Kind = "refund_amount_out_of_range"
	KindInvalidAmountRange Kind = "invalid_refund_amount_range"
	KindMultipleCurrencies Kind = "stripe_multiple_currencies"
	KindNonCNYCurrency     Kind = "stripe_non_cny_currency"
)

// Integrity conflicts (a conditional write lost its race).
const (
	KindInsufficientQuota   Kind = "insufficient_user_quota"
	KindTopUpAlreadyUpdated Kind = "topup_already_updated"
	KindCustomerMismatch    Kind = "customer_mismatch"
	KindNotSucceeded        Kind = "not_succeeded"
)

// External failures.
const (
	KindProviderError    Kind = "provider_error"
	KindSignatureInvalid Kind = "signature_verification_failed"
	KindSupabaseError    Kind = "supabase_error"
)

// Partial success: some legs refunded, the batch did not finish.
const KindRefundIncomplete Kind = "refund_incomplete"

// Auth and fallback.
const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal_error"
)

// HTTPStatus maps an error kind to the HTTP status code it is served with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindInvalidUserID, KindInvalidAmount, KindInvalidFee,
		KindInvalidUserIDs, KindTooManyUserIDs:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindUserNotFound, KindTopUpNotFound, KindRefundNotFound:
		return 404
	case KindNothingToRefund, KindTopUpNotRefundable, KindFeeTooHigh,
		KindAmountOutOfRange, KindInvalidAmountRange, KindMultipleCurrencies, KindNonCNYCurrency,
		KindInsufficientQuota, KindTopUpAlreadyUpdated, KindCustomerMismatch,
		KindNotSucceeded:
		return 409
	default:
		// provider_error, supabase_error, refund_incomplete, internal_error
		return 500
	}
}
