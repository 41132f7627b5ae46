package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/KretovDmitry/ledger-service/internal/models/operation"
	"github.com/shopspring/decimal"
)

var errDontPanic = errors.New("don't panic!")

// Lock in case of t.Parallel call.
type mockRepository struct {
	items  []operation.Operation
	now    func() time.Time
	nextID int64
	mu     sync.RWMutex

	// Name of the method that fails with failErr or errDontPanic.
	failOn  string
	failErr error
}

var _ Repository = (*mockRepository)(nil)

func newMockRepository(now time.Time) *mockRepository {
	return &mockRepository{now: func() time.Time { return now }}
}

func (m *mockRepository) Append(_ context.Context, typ operation.Type, sum decimal.Decimal) (*operation.Operation, error) {
	if m.failOn == "Append" {
		return nil, m.fail()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	op := operation.Operation{
		ID:        m.nextID,
		Type:      typ,
		Amount:    sum,
		CreatedAt: m.now(),
	}
	m.items = append(m.items, op)
	return &op, nil
}

func (m *mockRepository) Balance(_ context.Context) (decimal.Decimal, error) {
	if m.failOn == "Balance" {
		return decimal.Zero, m.fail()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance(), nil
}

func (m *mockRepository) WithdrawCountToday(_ context.Context) (int, error) {
	if m.failOn == "WithdrawCountToday" {
		return 0, m.fail()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.withdrawsToday(), nil
}

func (m *mockRepository) Snapshot(_ context.Context) (*Snapshot, error) {
	if m.failOn == "Snapshot" {
		return nil, m.fail()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Snapshot{Balance: m.balance(), WithdrawsToday: m.withdrawsToday()}, nil
}

func (m *mockRepository) ListRecent(_ context.Context, limit int) ([]*operation.Operation, error) {
	if m.failOn == "ListRecent" {
		return nil, m.fail()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent(limit), nil
}

func (m *mockRepository) Statement(_ context.Context, limit int) (*Extract, error) {
	if m.failOn == "Statement" {
		return nil, m.fail()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Extract{Balance: m.balance(), Operations: m.recent(limit)}, nil
}

func (m *mockRepository) recent(limit int) []*operation.Operation {
	ops := make([]*operation.Operation, 0, len(m.items))
	for i := range m.items {
		op := m.items[i]
		ops = append(ops, &op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].ID > ops[j].ID
		}
		return ops[i].CreatedAt.After(ops[j].CreatedAt)
	})
	if limit < 0 {
		limit = 0
	}
	if len(ops) > limit {
		ops = ops[:limit]
	}
	return ops
}

func (m *mockRepository) Reset(_ context.Context) error {
	if m.failOn == "Reset" {
		return m.fail()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	m.nextID = 0
	return nil
}

func (m *mockRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *mockRepository) balance() decimal.Decimal {
	balance := decimal.Zero
	for i := range m.items {
		balance = balance.Add(m.items[i].Signed())
	}
	return balance.Round(2)
}

func (m *mockRepository) withdrawsToday() int {
	from, to := dayBounds(m.now())
	count := 0
	for _, op := range m.items {
		if op.Type == operation.WITHDRAW && !op.CreatedAt.Before(from) && op.CreatedAt.Before(to) {
			count++
		}
	}
	return count
}

func (m *mockRepository) fail() error {
	if m.failErr != nil {
		return m.failErr
	}
	return errDontPanic
}
