// Package money converts user-entered decimal amounts into minor currency units.
package money

import (
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when the input is not a decimal number.
	ErrInvalidAmount = errors.New("amount is not a number")
	// ErrAmountOutOfRange is returned when the amount does not fit in int64 cents.
	ErrAmountOutOfRange = errors.New("amount is out of range")
)

// maxInputLen bounds the raw amount text.
const maxInputLen = 64

const (
	// maxIntegerDigits is the widest integer part whose cents can fit in int64.
	maxIntegerDigits = 17
	// Amounts below 10^minMagnitude are under a tenth of a cent and round to 0.
	minMagnitude = -3
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount parses a decimal string such as "12.50" into an exact decimal.
// Exponent notation is accepted.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxInputLen {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ToCents multiplies amount by 100 and rounds half to even, so 12.505 becomes
// 1250 and 12.515 becomes 1252. The magnitude is checked from the digit count
// and exponent before any arithmetic, so huge exponents fail fast.
func ToCents(amount decimal.Decimal) (int64, error) {
	if amount.IsZero() {
		return 0, nil
	}
	// amount has digits+exponent digits left of the decimal point.
	magnitude := int64(digits(amount)) + int64(amount.Exponent())
	if magnitude > maxIntegerDigits {
		return 0, ErrAmountOutOfRange
	}
	if magnitude <= minMagnitude {
		return 0, nil
	}

	cents := amount.Mul(hundred).RoundBank(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, ErrAmountOutOfRange
	}
	return cents.IntPart(), nil
}

// digits counts the decimal digits of the coefficient of d.
func digits(d decimal.Decimal) int {
	return len(new(big.Int).Abs(d.Coefficient()).String())
}

// ParseCents is ParseAmount followed by ToCents.
func ParseCents(raw string) (int64, error) {
	amount, err := ParseAmount(raw)
	if err != nil {
		return 0, err
	}
	return ToCents(amount)
}

// FormatCents renders cents as a plain decimal string with two places.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
