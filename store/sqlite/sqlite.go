/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements loan.Store and accounting.JournalStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The loan_transactions table is append-only for monetary columns: rows
  are inserted once and never deleted. The only UPDATE the store issues
  touches the reversal columns, which is how the engine voids a
  transaction without rewriting history. Journal entries are never
  updated or deleted at all; reversals are mirror rows.

DERIVED STATE:
  Schedules, summaries, and per-transaction allocation portions are NOT
  persisted (except accrual portions, which are recorded facts). Loading
  an account replays its transaction log, so storage can never disagree
  with the projection.

KEY TABLES:
  loans:             Terms, approval metadata, and charge configs (JSON)
  loan_transactions: Immutable command log, one row per transaction
  journal_entries:   Double-entry journal lines

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, a single writer at a time, better crash
  recovery.

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  processor := loan.NewProcessor(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/loan-engine/accounting"
	"github.com/warp/loan-engine/loan"
)

// Store implements loan.Store and accounting.JournalStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Loan accounts: terms and charge configs as JSON, approval metadata flat
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		external_id TEXT UNIQUE,
		terms_json TEXT NOT NULL,
		charges_json TEXT NOT NULL,
		submitted_on TEXT NOT NULL,
		approved BOOLEAN DEFAULT FALSE,
		approved_on TEXT,
		approved_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Transaction log (append-only; only reversal columns are ever updated)
	CREATE TABLE IF NOT EXISTS loan_transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		charge_id TEXT,
		external_id TEXT,
		reversed BOOLEAN DEFAULT FALSE,
		manually_reversed BOOLEAN DEFAULT FALSE,
		reversal_external_id TEXT,
		relations_json TEXT,
		reason TEXT,
		actor TEXT,
		interest_portion TEXT,
		fee_portion TEXT,
		penalty_portion TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (loan_id) REFERENCES loans(id)
	);

	CREATE INDEX IF NOT EXISTS idx_loan_transactions_loan
		ON loan_transactions(loan_id, position);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loan_transactions_external
		ON loan_transactions(external_id) WHERE external_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_loan_transactions_type
		ON loan_transactions(tx_type);

	-- Double-entry journal (append-only, no exceptions)
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		account TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		description TEXT,
		reversal BOOLEAN DEFAULT FALSE,
		reversal_of TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_loan
		ON journal_entries(loan_id);
	CREATE INDEX IF NOT EXISTS idx_journal_transaction
		ON journal_entries(transaction_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOAN STORE (loan.Store interface)
// =============================================================================

// Save persists the aggregate: loan row, charge configs, and any new or
// newly-reversed transactions. Runs in one database transaction.
func (s *Store) Save(ctx context.Context, a *loan.LoanAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	termsJSON, err := json.Marshal(a.Terms)
	if err != nil {
		return fmt.Errorf("failed to marshal terms: %w", err)
	}
	chargesJSON, err := json.Marshal(chargeConfigs(a.Charges))
	if err != nil {
		return fmt.Errorf("failed to marshal charges: %w", err)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO loans (id, external_id, terms_json, charges_json, submitted_on, approved, approved_on, approved_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			terms_json = excluded.terms_json,
			charges_json = excluded.charges_json,
			approved = excluded.approved,
			approved_on = excluded.approved_on,
			approved_by = excluded.approved_by
	`,
		string(a.ID), nullString(a.ExternalID), string(termsJSON), string(chargesJSON),
		a.SubmittedOn.String(), a.Approved, nullString(dateOrEmpty(a.ApprovedOn)), nullString(a.ApprovedBy),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return loan.ErrDuplicateExternalID
		}
		return fmt.Errorf("failed to save loan: %w", err)
	}

	for i, tx := range a.Transactions {
		if err := s.upsertTransaction(ctx, sqlTx, a.ID, i, tx); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// upsertTransaction inserts a new log entry or refreshes the reversal
// columns of an existing one. Monetary columns never change after insert.
func (s *Store) upsertTransaction(ctx context.Context, sqlTx *sql.Tx, loanID loan.LoanID, position int, tx *loan.LoanTransaction) error {
	relationsJSON, _ := json.Marshal(tx.Relations)

	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO loan_transactions
		(id, loan_id, position, tx_type, tx_date, amount, charge_id, external_id,
		 reversed, manually_reversed, reversal_external_id, relations_json, reason, actor,
		 interest_portion, fee_portion, penalty_portion, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reversed = excluded.reversed,
			manually_reversed = excluded.manually_reversed,
			reversal_external_id = excluded.reversal_external_id,
			relations_json = excluded.relations_json
	`,
		string(tx.ID), string(loanID), position, string(tx.Type), tx.Date.String(),
		tx.Amount.Value.String(), nullString(string(tx.ChargeID)), nullString(tx.ExternalID),
		tx.Reversed, tx.ManuallyReversed, nullString(tx.ReversalExternalID),
		string(relationsJSON), nullString(tx.Reason), nullString(tx.Actor),
		tx.InterestPortion.Value.String(), tx.FeePortion.Value.String(), tx.PenaltyPortion.Value.String(),
		tx.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return loan.ErrDuplicateExternalID
		}
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// Get loads the aggregate and replays its log.
func (s *Store) Get(ctx context.Context, id loan.LoanID) (*loan.LoanAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLoan(ctx, "WHERE id = ?", string(id))
}

// GetByExternalID looks an account up by its client-assigned id.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*loan.LoanAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLoan(ctx, "WHERE external_id = ?", externalID)
}

func (s *Store) loadLoan(ctx context.Context, where string, arg any) (*loan.LoanAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, terms_json, charges_json, submitted_on, approved, approved_on, approved_by
		FROM loans `+where, arg)

	a, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, loan.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Transactions, err = s.loadTransactions(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if err := a.Rebuild(loan.DateFromTime(time.Now())); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns every account, ordered by submission.
func (s *Store) List(ctx context.Context) ([]*loan.LoanAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, terms_json, charges_json, submitted_on, approved, approved_on, approved_by
		FROM loans ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*loan.LoanAccount
	for rows.Next() {
		a, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	today := loan.DateFromTime(time.Now())
	for _, a := range accounts {
		a.Transactions, err = s.loadTransactions(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if err := a.Rebuild(today); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// TransactionExternalIDExists checks the idempotency index.
func (s *Store) TransactionExternalIDExists(ctx context.Context, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loan_transactions
		WHERE external_id = ? OR reversal_external_id = ?
	`, externalID, externalID).Scan(&count)
	return count > 0, err
}

// -----------------------------------------------------------------------------
// Row scanning
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*loan.LoanAccount, error) {
	var (
		a           loan.LoanAccount
		id          string
		externalID  sql.NullString
		termsJSON   string
		chargesJSON string
		submittedOn string
		approvedOn  sql.NullString
		approvedBy  sql.NullString
	)
	err := row.Scan(&id, &externalID, &termsJSON, &chargesJSON, &submittedOn, &a.Approved, &approvedOn, &approvedBy)
	if err != nil {
		return nil, err
	}

	a.ID = loan.LoanID(id)
	a.ExternalID = externalID.String
	if err := json.Unmarshal([]byte(termsJSON), &a.Terms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal terms: %w", err)
	}
	var configs []chargeConfig
	if err := json.Unmarshal([]byte(chargesJSON), &configs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal charges: %w", err)
	}
	a.Charges = chargesFromConfigs(configs, a.Terms.Currency)

	a.SubmittedOn, _ = loan.ParseDate(submittedOn)
	if approvedOn.Valid && approvedOn.String != "" {
		a.ApprovedOn, _ = loan.ParseDate(approvedOn.String)
	}
	a.ApprovedBy = approvedBy.String
	return &a, nil
}

func (s *Store) loadTransactions(ctx context.Context, loanID loan.LoanID) ([]*loan.LoanTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_type, tx_date, amount, charge_id, external_id,
		       reversed, manually_reversed, reversal_external_id, relations_json,
		       reason, actor, interest_portion, fee_portion, penalty_portion, created_at
		FROM loan_transactions
		WHERE loan_id = ?
		ORDER BY position ASC
	`, string(loanID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cur, err := s.loanCurrency(ctx, loanID)
	if err != nil {
		return nil, err
	}

	var txs []*loan.LoanTransaction
	for rows.Next() {
		var (
			tx            loan.LoanTransaction
			id, txType    string
			txDate        string
			amount        string
			chargeID      sql.NullString
			externalID    sql.NullString
			reversalExtID sql.NullString
			relationsJSON sql.NullString
			reason, actor sql.NullString
			interest      sql.NullString
			fee, penalty  sql.NullString
			createdAt     string
		)
		if err := rows.Scan(&id, &txType, &txDate, &amount, &chargeID, &externalID,
			&tx.Reversed, &tx.ManuallyReversed, &reversalExtID, &relationsJSON,
			&reason, &actor, &interest, &fee, &penalty, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		tx.ID = loan.TransactionID(id)
		tx.Type = loan.TransactionType(txType)
		tx.Date, _ = loan.ParseDate(txDate)
		tx.Amount = loan.NewMoneyFromDecimal(loan.MustParseDecimal(amount), cur)
		tx.ChargeID = loan.ChargeID(chargeID.String)
		tx.ExternalID = externalID.String
		tx.ReversalExternalID = reversalExtID.String
		tx.Reason = reason.String
		tx.Actor = actor.String
		// Accrual portions are recorded facts; everything else is replayed.
		tx.InterestPortion = loan.NewMoneyFromDecimal(loan.MustParseDecimal(interest.String), cur)
		tx.FeePortion = loan.NewMoneyFromDecimal(loan.MustParseDecimal(fee.String), cur)
		tx.PenaltyPortion = loan.NewMoneyFromDecimal(loan.MustParseDecimal(penalty.String), cur)
		if relationsJSON.Valid && relationsJSON.String != "" {
			json.Unmarshal([]byte(relationsJSON.String), &tx.Relations)
		}
		tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

func (s *Store) loanCurrency(ctx context.Context, loanID loan.LoanID) (loan.Currency, error) {
	var termsJSON string
	err := s.db.QueryRowContext(ctx, "SELECT terms_json FROM loans WHERE id = ?", string(loanID)).Scan(&termsJSON)
	if err != nil {
		return loan.Currency{}, err
	}
	var terms loan.LoanTerms
	if err := json.Unmarshal([]byte(termsJSON), &terms); err != nil {
		return loan.Currency{}, err
	}
	return terms.Currency, nil
}

// -----------------------------------------------------------------------------
// Charge config serialization - configuration only, derived state excluded
// -----------------------------------------------------------------------------

type chargeConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Calculation string    `json:"calculation"`
	Time        string    `json:"time"`
	Penalty     bool      `json:"penalty,omitempty"`
	Value       string    `json:"value"`
	DueDate     loan.Date `json:"due_date,omitempty"`
}

func chargeConfigs(charges []*loan.LoanCharge) []chargeConfig {
	out := make([]chargeConfig, 0, len(charges))
	for _, c := range charges {
		out = append(out, chargeConfig{
			ID:          string(c.ID),
			Name:        c.Name,
			Calculation: string(c.Calculation),
			Time:        string(c.Time),
			Penalty:     c.Penalty,
			Value:       c.AmountOrPercentage.String(),
			DueDate:     c.DueDate,
		})
	}
	return out
}

func chargesFromConfigs(configs []chargeConfig, cur loan.Currency) []*loan.LoanCharge {
	out := make([]*loan.LoanCharge, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, &loan.LoanCharge{
			ID:                 loan.ChargeID(cfg.ID),
			Name:               cfg.Name,
			Calculation:        loan.ChargeCalculation(cfg.Calculation),
			Time:               loan.ChargeTime(cfg.Time),
			Penalty:            cfg.Penalty,
			AmountOrPercentage: loan.MustParseDecimal(cfg.Value),
			DueDate:            cfg.DueDate,
		})
	}
	return out
}

// =============================================================================
// JOURNAL STORE (accounting.JournalStore interface)
// =============================================================================

// Append writes journal lines. Insert-only: no update path exists.
func (s *Store) Append(ctx context.Context, entries []accounting.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, e := range entries {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO journal_entries
			(id, loan_id, transaction_id, entry_date, account, entry_type, amount, currency,
			 description, reversal, reversal_of, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID, string(e.LoanID), string(e.TransactionID), e.Date.String(),
			string(e.Account), string(e.Type), e.Amount.Value.String(), e.Amount.Currency.Code,
			nullString(e.Description), e.Reversal, nullString(e.ReversalOf),
			e.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to append journal entry: %w", err)
		}
	}
	return sqlTx.Commit()
}

// ByTransaction returns every line posted for a loan transaction.
func (s *Store) ByTransaction(ctx context.Context, txID loan.TransactionID) ([]accounting.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryJournal(ctx, "WHERE transaction_id = ?", string(txID))
}

// ByLoan returns every line posted for a loan.
func (s *Store) ByLoan(ctx context.Context, loanID loan.LoanID) ([]accounting.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryJournal(ctx, "WHERE loan_id = ?", string(loanID))
}

func (s *Store) queryJournal(ctx context.Context, where string, arg any) ([]accounting.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, transaction_id, entry_date, account, entry_type, amount, currency,
		       description, reversal, reversal_of, created_at
		FROM journal_entries `+where+` ORDER BY created_at ASC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []accounting.JournalEntry
	for rows.Next() {
		var (
			e           accounting.JournalEntry
			loanID      string
			txID        string
			entryDate   string
			account     string
			entryType   string
			amount      string
			currency    string
			description sql.NullString
			reversalOf  sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &loanID, &txID, &entryDate, &account, &entryType,
			&amount, &currency, &description, &e.Reversal, &reversalOf, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.LoanID = loan.LoanID(loanID)
		e.TransactionID = loan.TransactionID(txID)
		e.Date, _ = loan.ParseDate(entryDate)
		e.Account = accounting.GLAccount(account)
		e.Type = accounting.EntryType(entryType)
		e.Amount = loan.NewMoneyFromDecimal(loan.MustParseDecimal(amount), loan.Currency{Code: currency, Decimals: 2})
		e.Description = description.String
		e.ReversalOf = reversalOf.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"journal_entries", "loan_transactions", "loans"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func dateOrEmpty(d loan.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
