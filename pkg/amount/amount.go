// Package amount parses user supplied monetary values.
//
// Both ',' and '.' are accepted. When a string carries both of them the
// comma is the decimal point and every period is a thousands separator
// ("1.234,56" is 1234.56). Otherwise a comma is read as the decimal point.
// A lone period stays a decimal point, so "1.234" is 1.234 and is rounded
// to 1.23: grouped integers without a fractional part are ambiguous and
// are not guessed at.
package amount

import (
	"fmt"
	"strings"

	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/shopspring/decimal"
)

// Places is the number of fraction digits of every ledger amount.
const Places = 2

const (
	// MaxIntegerDigits bounds the integer part of a parsed amount:
	// 28 significant digits minus the fraction digits.
	MaxIntegerDigits = 28 - Places
	// MaxLength bounds the normalized input.
	MaxLength = 64
)

// Parse normalizes raw and returns it as a decimal rounded half-up
// to two fraction digits. Errors wrap errs.ErrInvalidAmount.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", errs.ErrInvalidAmount)
	}

	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.ReplaceAll(s, ",", ".")

	if len(s) > MaxLength {
		return decimal.Zero, fmt.Errorf("%w: longer than %d characters", errs.ErrInvalidAmount, MaxLength)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", errs.ErrInvalidAmount, raw)
	}

	// Digits left of the decimal point, negative for values below 0.1.
	// Checked before Round, which rescales the coefficient to the exponent.
	intDigits := int64(d.NumDigits()) + int64(d.Exponent())

	if intDigits > MaxIntegerDigits+1 {
		return decimal.Zero, fmt.Errorf("%w: %q is too large", errs.ErrInvalidAmount, raw)
	}

	// Below 0.001 everything rounds to zero.
	if intDigits < -Places {
		return decimal.New(0, -Places), nil
	}

	// Round is half away from zero, which is half-up for the
	// positive values the ledger accepts.
	d = d.Round(Places)

	// Rounding may carry into one more digit.
	if int64(d.NumDigits())+int64(d.Exponent()) > MaxIntegerDigits {
		return decimal.Zero, fmt.Errorf("%w: %q is too large", errs.ErrInvalidAmount, raw)
	}

	return d, nil
}

// Format renders d with exactly two fraction digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
