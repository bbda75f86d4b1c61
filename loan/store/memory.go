/*
memory.go - In-memory loan store

PURPOSE:
  Reference implementation of loan.Store for tests and demo scenarios.
  Holds deep copies on both write and read so callers can never mutate
  stored state through a shared pointer.

NOT FOR PRODUCTION:
  Everything lives in a map guarded by one RWMutex; nothing survives a
  restart. The SQLite store is the durable implementation.
*/
package store

import (
	"context"
	"sync"

	"github.com/warp/loan-engine/loan"
)

type Memory struct {
	mu       sync.RWMutex
	accounts map[loan.LoanID]*loan.LoanAccount
	order    []loan.LoanID // submission order for List
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[loan.LoanID]*loan.LoanAccount)}
}

func (m *Memory) Save(ctx context.Context, account *loan.LoanAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[account.ID]; !exists {
		m.order = append(m.order, account.ID)
	}
	m.accounts[account.ID] = account.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id loan.LoanID) (*loan.LoanAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) GetByExternalID(ctx context.Context, externalID string) (*loan.LoanAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.ExternalID == externalID {
			return a.Clone(), nil
		}
	}
	return nil, loan.ErrLoanNotFound
}

func (m *Memory) List(ctx context.Context) ([]*loan.LoanAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*loan.LoanAccount, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.accounts[id].Clone())
	}
	return out, nil
}

func (m *Memory) TransactionExternalIDExists(ctx context.Context, externalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		for _, tx := range a.Transactions {
			if tx.ExternalID == externalID || tx.ReversalExternalID == externalID {
				return true, nil
			}
		}
	}
	return false, nil
}
