package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/KretovDmitry/ledger-service/internal/config"
	"github.com/KretovDmitry/ledger-service/internal/metrics"
	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/KretovDmitry/ledger-service/internal/models/operation"
	"github.com/KretovDmitry/ledger-service/pkg/amount"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/avito-tech/go-transaction-manager/trm/v2/settings"
	"github.com/shopspring/decimal"
)

// DefaultExtractLimit is the number of operations returned by Extract
// unless configured otherwise.
const DefaultExtractLimit = 200

// Receipt describes an accepted deposit or withdrawal.
type Receipt struct {
	Operation *operation.Operation
	Balance   decimal.Decimal
	// Withdrawals made today including this one. Zero for deposits.
	WithdrawsToday int
}

// Extract is the current balance with the most recent operations.
type Extract struct {
	Balance    decimal.Decimal
	Operations []*operation.Operation
}

// Service sequences parsing, limit checks and persistence of ledger operations.
// A rejected request never writes anything.
type Service struct {
	repo         Repository
	trm          *manager.Manager
	policy       *Policy
	logger       logger.Logger
	extractLimit int

	// Transaction settings of withdrawals, nil for the manager's defaults.
	withdrawSettings trm.Settings
}

func NewService(repo Repository, trm *manager.Manager, logger logger.Logger, config *config.Config) (*Service, error) {
	if repo == nil {
		return nil, errors.New("nil dependency: repository")
	}
	if trm == nil {
		return nil, errors.New("nil dependency: transaction manager")
	}
	if config == nil {
		return nil, errors.New("nil dependency: config")
	}

	policy, err := NewPolicy(config.Ledger.LimitPerWithdraw, config.Ledger.MaxWithdrawsPerDay)
	if err != nil {
		return nil, fmt.Errorf("init policy: %w", err)
	}

	extractLimit := config.Ledger.ExtractLimit
	if extractLimit <= 0 {
		extractLimit = DefaultExtractLimit
	}

	s := &Service{
		repo:         repo,
		trm:          trm,
		policy:       policy,
		logger:       logger,
		extractLimit: extractLimit,
	}

	if config.Ledger.SerializableWithdrawals {
		s.withdrawSettings = trmsql.MustSettings(settings.Must(),
			trmsql.WithTxOptions(&sql.TxOptions{Isolation: sql.LevelSerializable}))
	}

	return s, nil
}

func (s *Service) Policy() *Policy {
	return s.policy
}

// Deposit parses raw, appends a deposit and returns the new balance.
func (s *Service) Deposit(ctx context.Context, raw string) (*Receipt, error) {
	sum, err := amount.Parse(raw)
	if err != nil {
		return nil, s.reject(ctx, operation.DEPOSIT, err)
	}

	if err = s.policy.EvaluateDeposit(sum); err != nil {
		return nil, s.reject(ctx, operation.DEPOSIT, err)
	}

	receipt := new(Receipt)

	err = s.trm.Do(ctx, func(ctx context.Context) error {
		var err error

		// Write the deposit to the operations log.
		if receipt.Operation, err = s.repo.Append(ctx, operation.DEPOSIT, sum); err != nil {
			return err
		}

		// Re-read the derived balance.
		if receipt.Balance, err = s.repo.Balance(ctx); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, storageError(fmt.Errorf("deposit: %w", err))
	}

	s.accept(ctx, receipt)

	return receipt, nil
}

// Withdraw parses raw, checks it against the balance and the limits,
// appends a withdrawal and returns the new balance and today's count.
//
// The balance and the count the decision is based on come from one
// statement. Unless withdrawals run serializable, two concurrent
// withdrawals may still both pass.
func (s *Service) Withdraw(ctx context.Context, raw string) (*Receipt, error) {
	sum, err := amount.Parse(raw)
	if err != nil {
		return nil, s.reject(ctx, operation.WITHDRAW, err)
	}

	var (
		receipt   = new(Receipt)
		rejection error
	)

	err = s.withdrawTx(ctx, func(ctx context.Context) error {
		before, err := s.repo.Snapshot(ctx)
		if err != nil {
			return err
		}

		// Rolled back, nothing was written.
		if rejection = s.policy.EvaluateWithdraw(sum, before.Balance, before.WithdrawsToday); rejection != nil {
			return rejection
		}

		if receipt.Operation, err = s.repo.Append(ctx, operation.WITHDRAW, sum); err != nil {
			return err
		}

		after, err := s.repo.Snapshot(ctx)
		if err != nil {
			return err
		}

		receipt.Balance = after.Balance
		receipt.WithdrawsToday = after.WithdrawsToday

		return nil
	})
	if err != nil {
		if rejection != nil {
			return nil, s.reject(ctx, operation.WITHDRAW, rejection)
		}
		return nil, storageError(fmt.Errorf("withdraw: %w", err))
	}

	s.accept(ctx, receipt)

	return receipt, nil
}

// Extract returns the balance and up to the configured number of
// most recent operations, both read from the same snapshot.
func (s *Service) Extract(ctx context.Context) (*Extract, error) {
	extract, err := s.repo.Statement(ctx, s.extractLimit)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	return extract, nil
}

// Reset destroys the whole ledger. Resetting an empty ledger is a no-op.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.repo.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	metrics.ResetsTotal.Inc()
	s.logger.With(ctx).Warn("ledger reset: all operations removed")

	return nil
}

func (s *Service) withdrawTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.withdrawSettings != nil {
		return s.trm.DoWithSettings(ctx, s.withdrawSettings, fn)
	}
	return s.trm.Do(ctx, fn)
}

func (s *Service) accept(ctx context.Context, receipt *Receipt) {
	op := receipt.Operation

	metrics.OperationsTotal.WithLabelValues(string(op.Type)).Inc()

	s.logger.With(ctx,
		"operation_id", op.ID,
		"type", op.Type,
		"amount", amount.Format(op.Amount),
		"balance", amount.Format(receipt.Balance),
	).Infof("%s accepted", op.Type)
}

func (s *Service) reject(ctx context.Context, typ operation.Type, err error) error {
	metrics.RejectionsTotal.WithLabelValues(string(typ), errs.Reason(err)).Inc()

	s.logger.With(ctx, "type", typ, "reason", errs.Reason(err)).
		Infof("%s rejected: %s", typ, err)

	return err
}
