/*
Package accounting posts loan transactions to a double-entry journal.

PURPOSE:
  Translates every monetary loan transaction into balanced debit/credit
  journal lines against a configurable chart of accounts. The journal is
  append-only: a reversed loan transaction gets mirror entries (debits and
  credits swapped), never a deletion.

REGIMES:
  cash_based       - income recognized when cash arrives
  accrual_upfront  - all scheduled income recognized at disbursement
  accrual_periodic - income recognized by the periodic accrual job
  none             - no journal lines at all

INVARIANT:
  Every posting produced by this package balances: the sum of debits
  equals the sum of credits, per loan transaction.
*/
package accounting

import (
	"time"

	"github.com/google/uuid"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

type GLAccount string

// ChartOfAccounts maps the engine's posting slots to ledger account codes.
// Codes are opaque to the engine; the general ledger owns their meaning.
type ChartOfAccounts struct {
	FundSource           GLAccount // asset: cash/bank funding disbursements
	LoanPortfolio        GLAccount // asset: outstanding principal
	InterestReceivable   GLAccount // asset: accrued, uncollected interest
	FeeReceivable        GLAccount // asset: accrued, uncollected fees
	PenaltyReceivable    GLAccount // asset: accrued, uncollected penalties
	InterestIncome       GLAccount // income
	FeeIncome            GLAccount // income
	PenaltyIncome        GLAccount // income
	WriteOffExpense      GLAccount // expense: charged-off balances
	WaiveExpense         GLAccount // expense: waived charges
	OverpaymentLiability GLAccount // liability: borrower credit balances
}

// DefaultChart is a sensible numbering for demos and tests.
var DefaultChart = ChartOfAccounts{
	FundSource:           "1000",
	LoanPortfolio:        "1100",
	InterestReceivable:   "1200",
	FeeReceivable:        "1210",
	PenaltyReceivable:    "1220",
	InterestIncome:       "4000",
	FeeIncome:            "4100",
	PenaltyIncome:        "4200",
	WriteOffExpense:      "5000",
	WaiveExpense:         "5100",
	OverpaymentLiability: "2000",
}

// =============================================================================
// JOURNAL ENTRY
// =============================================================================

type EntryType string

const (
	Debit  EntryType = "debit"
	Credit EntryType = "credit"
)

// JournalEntry is one line of a balanced posting. Lines from the same loan
// transaction share its TransactionID.
type JournalEntry struct {
	ID            string
	LoanID        loan.LoanID
	TransactionID loan.TransactionID
	Date          loan.Date
	Account       GLAccount
	Type          EntryType
	Amount        loan.Money
	Description   string

	// Reversal marks a mirror line written to back out an earlier posting.
	Reversal   bool
	ReversalOf string // id of the line being mirrored

	CreatedAt time.Time
}

func newEntry(a *loan.LoanAccount, tx *loan.LoanTransaction, account GLAccount, entryType EntryType, amount loan.Money, description string) JournalEntry {
	return JournalEntry{
		ID:            uuid.NewString(),
		LoanID:        a.ID,
		TransactionID: tx.ID,
		Date:          tx.Date,
		Account:       account,
		Type:          entryType,
		Amount:        amount,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
}

// Mirror returns the reversing line: same account and amount, opposite side.
func (e JournalEntry) Mirror(date loan.Date) JournalEntry {
	m := e
	m.ID = uuid.NewString()
	m.Date = date
	m.Reversal = true
	m.ReversalOf = e.ID
	m.Description = "reversal: " + e.Description
	m.CreatedAt = time.Now().UTC()
	if e.Type == Debit {
		m.Type = Credit
	} else {
		m.Type = Debit
	}
	return m
}
