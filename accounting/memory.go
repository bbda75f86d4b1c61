package accounting

import (
	"context"
	"sync"

	"github.com/warp/loan-engine/loan"
)

// MemoryJournal is the in-memory JournalStore for tests and demos.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Append(ctx context.Context, entries []JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MemoryJournal) ByTransaction(ctx context.Context, txID loan.TransactionID) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []JournalEntry
	for _, e := range m.entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryJournal) ByLoan(ctx context.Context, loanID loan.LoanID) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []JournalEntry
	for _, e := range m.entries {
		if e.LoanID == loanID {
			out = append(out, e)
		}
	}
	return out, nil
}
