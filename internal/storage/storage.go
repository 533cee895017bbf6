// Package storage is the read/write layer over the business MySQL database,
// which owns users and their top-up history. The refund audit log lives in a
// separate store (internal/auditlog).
package storage

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// Payment method values as stored in the top-up table.
const (
	MethodAlipay = "alipay"
	MethodWxpay  = "wxpay"
	MethodStripe = "stripe"
)

// Top-up status values.
const (
	TopUpStatusSuccess = "success"
	TopUpStatusRefund  = "refund"
)

// User is a product account. Quota counters are big integers: balances can
// exceed int64 after years of promotions.
type User struct {
	ID               int64
	Email            string
	StripeCustomerID string
	Quota            *big.Int
	UsedQuota        *big.Int
}

// TopUp is a completed payment. Money and Amount are two-decimal yuan
// strings straight from the database; Money is the paid cash and Amount the
// granted quota expressed in yuan-equivalent (x 500000 quota units).
type TopUp struct {
	ID            int64
	UserID        int64
	Money         string
	Amount        string
	TradeNo       string
	CreateTime    time.Time
	CompleteTime  time.Time
	PaymentMethod string
	Status        string
}

// TopUpFilter narrows ListTopUps. Zero values mean "any".
type TopUpFilter struct {
	UserID        int64
	TradeNo       string
	PaymentMethod string
	Status        string
	Limit         int
	Offset        int
}

// Store captures the persistence requirements of the refund engine against
// the business database.
type Store interface {
	GetUser(ctx context.Context, uid int64) (User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]User, error)
	ListAllUsers(ctx context.Context) ([]User, error)

	ListTopUps(ctx context.Context, filter TopUpFilter) ([]TopUp, error)
	ListUserTopUps(ctx context.Context, uid int64) ([]TopUp, error)
	ListAllTopUps(ctx context.Context) ([]TopUp, error)
	GetTopUpByTradeNo(ctx context.Context, tradeNo string) (TopUp, error)

	// ReserveQuota conditionally decrements user quota. The decrement only
	// applies when quota >= delta; otherwise insufficient_user_quota.
	ReserveQuota(ctx context.Context, uid int64, delta *big.Int) error
	// ReleaseQuota returns previously reserved quota after a failed leg.
	ReleaseQuota(ctx context.Context, uid int64, delta *big.Int) error

	// RefundTopUpTx runs the legacy single-top-up refund: the row is locked
	// FOR UPDATE, fn performs the provider call and returns the quota to
	// remove, then status flips and the quota decrement commits atomically.
	RefundTopUpTx(ctx context.Context, tradeNo string, fn func(TopUp) (*big.Int, error)) (TopUp, error)

	Ping(ctx context.Context) error
	Close() error
}
