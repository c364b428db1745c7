// Package money converts decimal currency amounts to the minor-unit integers
// used by the payment gateway and the payments table.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount (must be > 0)")

	// MaxAmount is the largest value payments.amount numeric(12,2) holds.
	MaxAmount = decimal.RequireFromString("9999999999.99")

	hundred = decimal.NewFromInt(100)
)

// MinorUnits multiplies amount by 100 and truncates toward zero, so 19.999
// becomes 1999. Amounts that truncate to zero or exceed MaxAmount are
// rejected.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if amount.GreaterThan(MaxAmount) {
		return 0, fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.StringFixed(2))
	}
	minor := amount.Mul(hundred).IntPart()
	if minor <= 0 {
		return 0, ErrInvalidAmount
	}
	return minor, nil
}

// FromMinorUnits is the inverse of MinorUnits for whole minor amounts.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Normalize truncates amount to whole minor units and returns both forms, so
// a stored decimal always agrees with its minor-unit column.
func Normalize(amount decimal.Decimal) (decimal.Decimal, int64, error) {
	minor, err := MinorUnits(amount)
	if err != nil {
		return decimal.Decimal{}, 0, err
	}
	return FromMinorUnits(minor), minor, nil
}
