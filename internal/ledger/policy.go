package ledger

import (
	"errors"
	"fmt"

	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/KretovDmitry/ledger-service/pkg/amount"
	"github.com/shopspring/decimal"
)

// Default limits.
const (
	LimitPerWithdraw   = "500.00"
	MaxWithdrawsPerDay = 3
)

// Policy decides whether an operation may be appended to the ledger.
// It holds no state besides its limits.
type Policy struct {
	limitPerWithdraw   decimal.Decimal
	maxWithdrawsPerDay int
}

func NewPolicy(limitPerWithdraw string, maxWithdrawsPerDay int) (*Policy, error) {
	limit, err := amount.Parse(limitPerWithdraw)
	if err != nil {
		return nil, fmt.Errorf("limit per withdraw: %w", err)
	}
	if !limit.IsPositive() {
		return nil, errors.New("limit per withdraw must be greater than zero")
	}
	if maxWithdrawsPerDay < 1 {
		return nil, errors.New("max withdraws per day must be at least 1")
	}

	return &Policy{limitPerWithdraw: limit, maxWithdrawsPerDay: maxWithdrawsPerDay}, nil
}

func DefaultPolicy() *Policy {
	return &Policy{
		limitPerWithdraw:   decimal.RequireFromString(LimitPerWithdraw),
		maxWithdrawsPerDay: MaxWithdrawsPerDay,
	}
}

func (p *Policy) LimitPerWithdraw() decimal.Decimal { return p.limitPerWithdraw }

func (p *Policy) MaxWithdrawsPerDay() int { return p.maxWithdrawsPerDay }

func (p *Policy) EvaluateDeposit(sum decimal.Decimal) error {
	if !sum.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", errs.ErrInvalidAmount)
	}
	return nil
}

// EvaluateWithdraw applies the checks in a fixed order and reports the
// first one that fails. Insufficient funds wins over the limits.
func (p *Policy) EvaluateWithdraw(sum, balance decimal.Decimal, withdrawsToday int) error {
	switch {
	case !sum.IsPositive():
		return fmt.Errorf("%w: must be greater than zero", errs.ErrInvalidAmount)

	case sum.GreaterThan(balance):
		return errs.ErrInsufficientFunds

	case sum.GreaterThan(p.limitPerWithdraw):
		return fmt.Errorf("%w: limit per withdrawal is %s",
			errs.ErrPerTransactionLimitExceeded, amount.Format(p.limitPerWithdraw))

	case withdrawsToday >= p.maxWithdrawsPerDay:
		return fmt.Errorf("%w: at most %d withdrawals per day",
			errs.ErrDailyLimitExceeded, p.maxWithdrawsPerDay)
	}

	return nil
}
