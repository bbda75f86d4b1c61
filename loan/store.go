/*
store.go - Storage abstraction for loan accounts

PURPOSE:
  Defines the interface between the engine and the database. The engine
  persists whole aggregates: the terms, the charges, and the append-only
  transaction log. Derived state (schedule, summary) is recomputed on load,
  never trusted from storage.

IMPLEMENTATIONS:
  - store/memory.go:  In-memory store for tests and demos
  - store/sqlite/:    SQLite-backed store for production use
*/
package loan

import (
	"context"
)

type Store interface {
	// Save persists the aggregate: terms, charges, and transaction log.
	Save(ctx context.Context, account *LoanAccount) error

	// Get returns the aggregate, rebuilt as of the given business date.
	Get(ctx context.Context, id LoanID) (*LoanAccount, error)

	// GetByExternalID looks an account up by its client-assigned id.
	GetByExternalID(ctx context.Context, externalID string) (*LoanAccount, error)

	// List returns every account, ordered by submission.
	List(ctx context.Context) ([]*LoanAccount, error)

	// TransactionExternalIDExists reports whether any transaction, on any
	// loan, already carries the given external id. Used for idempotency.
	TransactionExternalIDExists(ctx context.Context, externalID string) (bool, error)
}
