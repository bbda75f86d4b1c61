package loan

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LOAN TRANSACTION - Immutable ledger entry
// =============================================================================
//
// A transaction is never edited after commit. The only mutations allowed are
// the reversal flags and relation links; corrections happen by reversing and
// replaying, never by rewriting history. Per-component portions are derived:
// replay recomputes them so they always reflect the corrected timeline.

type LoanTransaction struct {
	ID       TransactionID
	Type     TransactionType
	Date     Date
	Amount   Money
	ChargeID ChargeID // set for charge-linked transactions

	// Derived allocation portions, recomputed on every replay.
	PrincipalPortion   Money
	InterestPortion    Money
	FeePortion         Money
	PenaltyPortion     Money
	OverpaymentPortion Money

	ExternalID string

	// Reversal bookkeeping. The transaction stays in the log for audit but
	// is excluded from balance computation once reversed.
	Reversed           bool
	ManuallyReversed   bool
	ReversalExternalID string

	Relations []TransactionRelation

	// Charge-off metadata, set only on charge-off transactions.
	Reason string
	Actor  string

	CreatedAt time.Time
}

// newID mints a fresh identifier for any aggregate member.
func newID() string { return uuid.NewString() }

func NewTransaction(txType TransactionType, date Date, amount Money) *LoanTransaction {
	return &LoanTransaction{
		ID:        TransactionID(uuid.NewString()),
		Type:      txType,
		Date:      date,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}

// IsActive reports whether the transaction still counts toward balances.
func (t *LoanTransaction) IsActive() bool { return !t.Reversed }

// IsMonetary reports whether the transaction moves money against the
// schedule (accruals recognize income but move no cash).
func (t *LoanTransaction) IsMonetary() bool { return t.Type != TxAccrual }

func (t *LoanTransaction) resetPortions() {
	z := t.Amount.Zero()
	t.PrincipalPortion = z
	t.InterestPortion = z
	t.FeePortion = z
	t.PenaltyPortion = z
	t.OverpaymentPortion = z
}

func (t *LoanTransaction) clone() *LoanTransaction {
	cp := *t
	cp.Relations = append([]TransactionRelation(nil), t.Relations...)
	return &cp
}

// =============================================================================
// TRANSACTION RELATIONS - Audit links between transactions and charges
// =============================================================================

type RelationType string

const (
	RelationChargeback RelationType = "chargeback"
	RelationAdjusts    RelationType = "adjusts"
	RelationReverses   RelationType = "reverses"
	RelationReplays    RelationType = "replays"
)

type TransactionRelation struct {
	Type          RelationType
	ToTransaction TransactionID
	ToCharge      ChargeID
}
