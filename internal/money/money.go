// Package money implements exact integer conversion between the three units
// the refund engine deals in: yuan (two-decimal display strings), cents
// (1/100 yuan) and quota (internal credit, 1 cent = 5000 quota).
//
// All value-carrying arithmetic is performed on big.Int. Floating point is
// never used: quota balances can exceed 2^53 and refund math must be exact.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// QuotaPerCent is the fixed conversion ratio: 1 cent buys 5000 quota units,
// so 1 yuan = 500000 quota.
const QuotaPerCent = 5000

// ErrInvalidAmount is returned for malformed yuan or percent strings.
var ErrInvalidAmount = errors.New("money: invalid amount")

var (
	centsPerYuan = big.NewInt(100)
	quotaPerCent = big.NewInt(QuotaPerCent)
)

// ParseYuanToCents converts a decimal yuan string to cents exactly.
// The input may carry an optional leading minus, a decimal integer part and
// up to two fractional digits; fractional digits beyond the second are
// truncated. Empty input is an error.
func ParseYuanToCents(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	if intPart == "" || !isDigits(intPart) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if fracPart != "" && !isDigits(fracPart) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	// Truncate, never round: 10.999 parses as 10.99.
	if len(fracPart) > 2 {
		fracPart = fracPart[:2]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	whole, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	frac, ok := new(big.Int).SetString(fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	cents := whole.Mul(whole, centsPerYuan)
	cents.Add(cents, frac)
	if negative {
		cents.Neg(cents)
	}
	return cents, nil
}

// FormatCentsToYuan renders cents as a yuan string with exactly two
// fractional digits, preserving the sign.
func FormatCentsToYuan(cents *big.Int) string {
	if cents == nil {
		return "0.00"
	}
	abs := new(big.Int).Abs(cents)
	whole, frac := new(big.Int).QuoRem(abs, centsPerYuan, new(big.Int))
	sign := ""
	if cents.Sign() < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%02d", sign, whole.String(), frac.Int64())
}

// CentsToQuota converts cents to quota units (exact, × 5000).
func CentsToQuota(cents *big.Int) *big.Int {
	return new(big.Int).Mul(cents, quotaPerCent)
}

// QuotaToCentsFloor converts quota units to cents by integer division,
// discarding any sub-cent remainder.
func QuotaToCentsFloor(quota *big.Int) *big.Int {
	return new(big.Int).Quo(quota, quotaPerCent)
}

// ParseFeePercentBps parses an operator-supplied fee percentage into integer
// basis points. The input accepts 0–100 with at most two decimal digits;
// an empty string yields def. "5" parses to 500, "2.75" to 275.
func ParseFeePercentBps(s string, def int64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	if intPart == "" || !isDigits(intPart) || len(fracPart) > 2 || (fracPart != "" && !isDigits(fracPart)) {
		return 0, fmt.Errorf("%w: fee percent %q", ErrInvalidAmount, s)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	whole, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return 0, fmt.Errorf("%w: fee percent %q", ErrInvalidAmount, s)
	}
	frac, ok := new(big.Int).SetString(fracPart, 10)
	if !ok {
		return 0, fmt.Errorf("%w: fee percent %q", ErrInvalidAmount, s)
	}

	bps := whole.Mul(whole, big.NewInt(100))
	bps.Add(bps, frac)
	if !bps.IsInt64() || bps.Int64() < 0 || bps.Int64() > 10000 {
		return 0, fmt.Errorf("%w: fee percent %q out of range", ErrInvalidAmount, s)
	}
	return bps.Int64(), nil
}

// MinBig returns the smaller of a and b without mutating either.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// MaxZero clamps negative values to zero, returning a fresh value.
func MaxZero(a *big.Int) *big.Int {
	if a.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(a)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
