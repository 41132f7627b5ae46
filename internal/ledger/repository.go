package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/KretovDmitry/ledger-service/internal/models/operation"
	"github.com/KretovDmitry/ledger-service/pkg/amount"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Snapshot is the balance and today's withdrawal count read together.
type Snapshot struct {
	Balance        decimal.Decimal
	WithdrawsToday int
}

type Repository interface {
	Append(ctx context.Context, typ operation.Type, sum decimal.Decimal) (*operation.Operation, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	WithdrawCountToday(ctx context.Context) (int, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
	ListRecent(ctx context.Context, limit int) ([]*operation.Operation, error)
	Statement(ctx context.Context, limit int) (*Extract, error)
	Reset(ctx context.Context) error
}

type Repo struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger logger.Logger
	now    func() time.Time
}

func NewRepository(db *sql.DB, getter *trmsql.CtxGetter, logger logger.Logger) (*Repo, error) {
	if db == nil {
		return nil, errors.New("nil dependency: database")
	}
	if getter == nil {
		return nil, errors.New("nil dependency: transaction getter")
	}

	return &Repo{db: db, getter: getter, logger: logger, now: time.Now}, nil
}

var _ Repository = (*Repo)(nil)

// Append inserts a new operation. Id and creation time are assigned by the database.
func (r *Repo) Append(ctx context.Context, typ operation.Type, sum decimal.Decimal) (*operation.Operation, error) {
	const query = "INSERT INTO operations (type, amount) VALUES ($1, $2) RETURNING id, created_at"

	op := &operation.Operation{Type: typ, Amount: sum}

	err := r.getter.DefaultTrOrDB(ctx, r.db).
		QueryRowContext(ctx, query, string(typ), sum).
		Scan(&op.ID, &op.CreatedAt)
	if err != nil {
		return nil, storageError(fmt.Errorf("append %s: %w", typ, err))
	}

	return op, nil
}

// Balance sums all deposits minus all withdrawals.
func (r *Repo) Balance(ctx context.Context) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN type = 'deposit' THEN amount ELSE -amount END), 0)
		FROM operations;
	`

	var balance decimal.Decimal

	err := r.getter.DefaultTrOrDB(ctx, r.db).QueryRowContext(ctx, query).Scan(&balance)
	if err != nil {
		return decimal.Zero, storageError(fmt.Errorf("balance: %w", err))
	}

	return balance.Round(amount.Places), nil
}

// WithdrawCountToday counts withdrawals created on the current local calendar day.
func (r *Repo) WithdrawCountToday(ctx context.Context) (int, error) {
	const query = `
		SELECT COUNT(*) FROM operations
		WHERE type = 'withdraw' AND created_at >= $1 AND created_at < $2;
	`

	from, to := dayBounds(r.now())

	var count int

	err := r.getter.DefaultTrOrDB(ctx, r.db).QueryRowContext(ctx, query, from, to).Scan(&count)
	if err != nil {
		return 0, storageError(fmt.Errorf("withdraw count: %w", err))
	}

	return count, nil
}

// Snapshot reads the balance and today's withdrawal count with
// a single statement so both come from the same database snapshot.
func (r *Repo) Snapshot(ctx context.Context) (*Snapshot, error) {
	const query = `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'deposit' THEN amount ELSE -amount END), 0),
			COUNT(*) FILTER (WHERE type = 'withdraw' AND created_at >= $1 AND created_at < $2)
		FROM operations;
	`

	from, to := dayBounds(r.now())

	s := new(Snapshot)

	err := r.getter.DefaultTrOrDB(ctx, r.db).
		QueryRowContext(ctx, query, from, to).
		Scan(&s.Balance, &s.WithdrawsToday)
	if err != nil {
		return nil, storageError(fmt.Errorf("snapshot: %w", err))
	}

	s.Balance = s.Balance.Round(amount.Places)

	return s, nil
}

// ListRecent returns up to limit operations, most recent first.
// Operations created at the same instant are ordered by id.
func (r *Repo) ListRecent(ctx context.Context, limit int) ([]*operation.Operation, error) {
	const query = `
		SELECT id, type, amount, created_at FROM operations
		ORDER BY created_at DESC, id DESC
		LIMIT $1;
	`

	operations := make([]*operation.Operation, 0)

	if limit <= 0 {
		return operations, nil
	}

	rows, err := r.getter.DefaultTrOrDB(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storageError(fmt.Errorf("list operations: %w", err))
	}

	defer func() {
		if err = rows.Close(); err != nil {
			r.logger.Errorf("close rows: %s", err)
		}
	}()

	for rows.Next() {
		op := new(operation.Operation)
		err = rows.Scan(
			&op.ID,
			&op.Type,
			&op.Amount,
			&op.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}

		operations = append(operations, op)
	}

	// Rows.Err will report the last error encountered by Rows.Scan.
	if err = rows.Err(); err != nil {
		return nil, storageError(fmt.Errorf("list operations: %w", err))
	}

	return operations, nil
}

// Statement returns the balance and up to limit most recent operations
// with a single statement, so the list always adds up to the balance
// of the same database snapshot.
func (r *Repo) Statement(ctx context.Context, limit int) (*Extract, error) {
	const query = `
		WITH balance AS (
			SELECT COALESCE(SUM(CASE WHEN type = 'deposit' THEN amount ELSE -amount END), 0) AS total
			FROM operations
		)
		SELECT b.total, o.id, o.type, o.amount, o.created_at
		FROM balance b
		LEFT JOIN LATERAL (
			SELECT id, type, amount, created_at FROM operations
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		) o ON true
		ORDER BY o.created_at DESC, o.id DESC;
	`

	if limit < 0 {
		limit = 0
	}

	rows, err := r.getter.DefaultTrOrDB(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storageError(fmt.Errorf("statement: %w", err))
	}

	defer func() {
		if err = rows.Close(); err != nil {
			r.logger.Errorf("close rows: %s", err)
		}
	}()

	extract := &Extract{Operations: make([]*operation.Operation, 0)}

	for rows.Next() {
		var (
			id        sql.NullInt64
			typ       sql.NullString
			sum       decimal.NullDecimal
			createdAt sql.NullTime
		)

		if err = rows.Scan(&extract.Balance, &id, &typ, &sum, &createdAt); err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}

		// The empty ledger yields one row without an operation.
		if !id.Valid {
			continue
		}

		op := &operation.Operation{
			ID:        id.Int64,
			Type:      operation.Type(typ.String),
			Amount:    sum.Decimal,
			CreatedAt: createdAt.Time,
		}
		if !op.Type.Valid() {
			return nil, fmt.Errorf("scan statement: invalid operation type %q", typ.String)
		}

		extract.Operations = append(extract.Operations, op)
	}

	if err = rows.Err(); err != nil {
		return nil, storageError(fmt.Errorf("statement: %w", err))
	}

	extract.Balance = extract.Balance.Round(amount.Places)

	return extract, nil
}

// Reset removes every operation at once and restarts the id sequence.
func (r *Repo) Reset(ctx context.Context) error {
	const query = "TRUNCATE TABLE operations RESTART IDENTITY;"

	_, err := r.getter.DefaultTrOrDB(ctx, r.db).ExecContext(ctx, query)
	if err != nil {
		return storageError(fmt.Errorf("reset: %w", err))
	}

	return nil
}

// dayBounds returns the local calendar day containing t as [start, end).
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// storageError marks failures caused by concurrent transactions with errs.ErrConflict.
func storageError(err error) error {
	if errors.Is(err, errs.ErrConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return fmt.Errorf("%w: %w", errs.ErrConflict, err)
		}
	}
	return err
}
