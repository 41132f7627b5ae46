package errs

import (
	"errors"
	"fmt"
)

// Ledger rejections. Every one of them leaves the ledger untouched.
var (
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrPerTransactionLimitExceeded = errors.New("per-transaction limit exceeded")
	ErrDailyLimitExceeded          = errors.New("daily limit exceeded")
)

// Common sentinel errors.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("concurrent update conflict")
	ErrRateLimit      = errors.New("rate limit")
)

// Type just for murshallig purpose.
// Should only be used immediately before marshalling.
type JSON struct {
	Error string `json:"error"`
}

// IsRejection reports whether err is one of the user facing ledger
// rejections rather than an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrPerTransactionLimitExceeded) ||
		errors.Is(err, ErrDailyLimitExceeded)
}

// Reason returns a short machine friendly name of the rejection,
// used as a metrics label. Empty string for anything else.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrPerTransactionLimitExceeded):
		return "per_transaction_limit"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "daily_limit"
	}
	return ""
}

// Let users know which request parameter could not be used.
type InvalidParamError struct {
	ParamName string
	Message   string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidRequest, e.ParamName, e.Message)
}

func (e *InvalidParamError) Unwrap() error {
	return ErrInvalidRequest
}
