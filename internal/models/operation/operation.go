package operation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	DEPOSIT  Type = "deposit"
	WITHDRAW Type = "withdraw"
)

// Scan implements sql.Scanner for the operation_type column.
func (t *Type) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*t = Type(v)
	case []byte:
		*t = Type(v)
	default:
		return fmt.Errorf("scan operation type: unsupported source %T", src)
	}
	if !t.Valid() {
		return fmt.Errorf("scan operation type: unknown type %q", *t)
	}
	return nil
}

func (t Type) Valid() bool {
	return t == DEPOSIT || t == WITHDRAW
}

// Operation is a single immutable ledger record.
// Fields aligned for the GC optimal scanning.
type Operation struct {
	CreatedAt time.Time       `db:"created_at"`
	Amount    decimal.Decimal `db:"amount"`
	Type      Type            `db:"type"`
	ID        int64           `db:"id"`
}

// Signed returns the amount with the sign it contributes to the balance.
func (o *Operation) Signed() decimal.Decimal {
	if o.Type == WITHDRAW {
		return o.Amount.Neg()
	}
	return o.Amount
}
