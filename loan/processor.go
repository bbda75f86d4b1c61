/*
processor.go - The transaction processor: command surface of the engine

PURPOSE:
  Applies life-cycle commands to loan accounts: approval, disbursement,
  repayments, charge operations, charge-off, reversal, foreclosure, and
  refunds. Every command follows the same shape:

    1. Lock the loan (single writer per loan)
    2. Load and CLONE the aggregate
    3. Check guards against the clone
    4. Append the candidate transaction and replay
    5. Persist the clone and swap it in

  Because mutation happens on a clone, a failed guard or failed replay
  leaves the stored aggregate untouched: operations are all-or-nothing.

REVERSAL-AND-REPLAY:
  Reversing a transaction flags it and recomputes the projection from the
  surviving log. Replaying the same log twice yields the same state, so
  reversal is idempotent by construction.

CONCURRENCY:
  One mutex per loan id. Commands on different loans proceed in parallel;
  commands on the same loan serialize. Reads go through the store and see
  the last committed aggregate.
*/
package loan

import (
	"context"
	"sync"
)

// =============================================================================
// KEYED MUTEX - Single writer per loan
// =============================================================================

type keyedMutex struct {
	mu    sync.Mutex
	locks map[LoanID]*sync.Mutex
}

func (k *keyedMutex) get(id LoanID) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[LoanID]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	return m
}

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	store Store
	locks keyedMutex
}

func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// mutate runs fn against a clone of the aggregate under the loan's lock,
// replays, and persists. The stored aggregate is untouched on any error.
func (p *Processor) mutate(ctx context.Context, id LoanID, businessDate Date, fn func(a *LoanAccount) error) (*LoanAccount, error) {
	lock := p.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	candidate := current.Clone()
	if err := fn(candidate); err != nil {
		return nil, err
	}
	if err := candidate.rebuild(businessDate); err != nil {
		return nil, consistencyErr("loan.consistency.replay", ErrReplayFailed, "replay failed: %v", err)
	}
	if err := p.store.Save(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// -----------------------------------------------------------------------------
// Temporal guards
// -----------------------------------------------------------------------------

// guardTransactionDate enforces the two ordering rules every monetary
// command obeys: no future-dating past the business date, and no dating
// before the last committed transaction.
func guardTransactionDate(a *LoanAccount, requested, business Date) error {
	if requested.After(business) {
		return temporalErr("loan.temporal.future-date", ErrFutureDate,
			"requested date %s is after business date %s", requested, business)
	}
	if last := a.lastActiveTransaction(); last != nil && requested.Before(last.Date) {
		return temporalErr("loan.temporal.out-of-order", ErrDateOutOfOrder,
			"requested date %s precedes last transaction on %s", requested, last.Date)
	}
	return nil
}

// guardCurrentDated is for commands that must carry the current business
// date (charge-off, foreclosure): backdating them would rewrite the past.
func guardCurrentDated(requested, business Date) error {
	if requested.Before(business) {
		return temporalErr("loan.temporal.business-date-moved", ErrBusinessDateMoved,
			"operation must be dated on the business date %s, got %s", business, requested)
	}
	return nil
}

func guardActive(a *LoanAccount) error {
	switch a.Status {
	case StatusActive, StatusOverpaid:
		return nil
	case StatusClosedObligationsMet, StatusClosedForeclosed:
		return stateErr("loan.state.closed", ErrAlreadyClosed, "loan %s is closed", a.ID)
	default:
		return stateErr("loan.state.not-active", ErrNotActive, "loan %s is %s", a.ID, a.Status)
	}
}

func guardPositive(m Money) error {
	if !m.IsPositive() {
		return validationErr("loan.validation.amount", ErrNonPositiveAmount, "amount must be positive, got %s", m)
	}
	return nil
}

// =============================================================================
// APPROVAL
// =============================================================================

func (p *Processor) Approve(ctx context.Context, id LoanID, approvedOn Date, approvedBy string) (*LoanAccount, error) {
	return p.mutate(ctx, id, approvedOn, func(a *LoanAccount) error {
		if a.Status != StatusPending {
			return stateErr("loan.state.not-pending", ErrNotPending, "loan %s is %s", a.ID, a.Status)
		}
		if approvedOn.Before(a.SubmittedOn) {
			return temporalErr("loan.temporal.out-of-order", ErrDateOutOfOrder,
				"approval date %s precedes submission on %s", approvedOn, a.SubmittedOn)
		}
		a.Approved = true
		a.ApprovedOn = approvedOn
		a.ApprovedBy = approvedBy
		return nil
	})
}

func (p *Processor) UndoApproval(ctx context.Context, id LoanID, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if a.Status != StatusApproved {
			return stateErr("loan.state.not-approved", ErrNotApproved, "loan %s is %s", a.ID, a.Status)
		}
		a.Approved = false
		a.ApprovedOn = Date{}
		a.ApprovedBy = ""
		return nil
	})
}

// =============================================================================
// DISBURSEMENT
// =============================================================================

func (p *Processor) Disburse(ctx context.Context, id LoanID, date Date, amount Money, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardPositive(amount); err != nil {
			return err
		}
		switch a.Status {
		case StatusApproved:
			// first disbursement
		case StatusActive:
			if a.ChargedOff {
				return stateErr("loan.state.charged-off", ErrChargedOff, "loan %s is charged off", a.ID)
			}
			if !a.Terms.MultiTranche {
				return stateErr("loan.state.single-tranche", ErrNotMultiTranche,
					"loan %s does not allow additional tranches", a.ID)
			}
		default:
			return stateErr("loan.state.not-approved", ErrNotApproved, "loan %s is %s", a.ID, a.Status)
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		if a.DisbursedAmount.Add(amount).GreaterThan(a.Terms.Principal) {
			return validationErr("loan.validation.over-principal", ErrNonPositiveAmount,
				"total disbursed %s would exceed approved principal %s",
				a.DisbursedAmount.Add(amount), a.Terms.Principal)
		}
		a.Transactions = append(a.Transactions, NewTransaction(TxDisbursement, date, amount))
		return nil
	})
}

// =============================================================================
// REPAYMENT
// =============================================================================

func (p *Processor) MakeRepayment(ctx context.Context, id LoanID, date Date, amount Money, externalID string, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardPositive(amount); err != nil {
			return err
		}
		if err := guardActive(a); err != nil {
			return err
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		if err := p.guardExternalID(ctx, a, externalID); err != nil {
			return err
		}
		tx := NewTransaction(TxRepayment, date, amount)
		tx.ExternalID = externalID
		a.Transactions = append(a.Transactions, tx)
		return nil
	})
}

// guardExternalID rejects a client transaction id that was already used, on
// this loan or any other. Retries with the same id are idempotency signals,
// not new money.
func (p *Processor) guardExternalID(ctx context.Context, a *LoanAccount, externalID string) error {
	if externalID == "" {
		return nil
	}
	for _, tx := range a.Transactions {
		if tx.ExternalID == externalID || tx.ReversalExternalID == externalID {
			return validationErr("loan.validation.duplicate-external-id", ErrDuplicateExternalID,
				"external id %q already used", externalID)
		}
	}
	exists, err := p.store.TransactionExternalIDExists(ctx, externalID)
	if err != nil {
		return err
	}
	if exists {
		return validationErr("loan.validation.duplicate-external-id", ErrDuplicateExternalID,
			"external id %q already used", externalID)
	}
	return nil
}

// =============================================================================
// CHARGE LIFE-CYCLE
// =============================================================================

func (p *Processor) AddCharge(ctx context.Context, id LoanID, charge *LoanCharge, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if a.Status == StatusClosedObligationsMet || a.Status == StatusClosedForeclosed {
			return stateErr("loan.state.closed", ErrAlreadyClosed, "loan %s is closed", a.ID)
		}
		if a.ChargedOff {
			return stateErr("loan.state.charged-off", ErrChargedOff, "loan %s is charged off", a.ID)
		}
		if charge.AmountOrPercentage.IsNegative() || charge.AmountOrPercentage.IsZero() {
			return validationErr("loan.validation.charge-amount", ErrNonPositiveAmount,
				"charge value must be positive")
		}
		if charge.ID == "" {
			charge.ID = ChargeID(newID())
		}
		a.Charges = append(a.Charges, charge)
		return nil
	})
}

func (p *Processor) UpdateCharge(ctx context.Context, id LoanID, chargeID ChargeID, value Money, dueDate Date, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		c := a.chargeByID(chargeID)
		if c == nil {
			return validationErr("loan.validation.charge-not-found", ErrChargeNotFound, "charge %s not found", chargeID)
		}
		if err := guardChargeUntouched(c); err != nil {
			return err
		}
		if err := guardPositive(value); err != nil {
			return err
		}
		c.AmountOrPercentage = value.Value
		if !dueDate.IsZero() {
			c.DueDate = dueDate
		}
		c.Amount = Money{} // recomputed on replay
		return nil
	})
}

func (p *Processor) DeleteCharge(ctx context.Context, id LoanID, chargeID ChargeID, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		c := a.chargeByID(chargeID)
		if c == nil {
			return validationErr("loan.validation.charge-not-found", ErrChargeNotFound, "charge %s not found", chargeID)
		}
		if err := guardChargeUntouched(c); err != nil {
			return err
		}
		kept := a.Charges[:0]
		for _, other := range a.Charges {
			if other.ID != chargeID {
				kept = append(kept, other)
			}
		}
		a.Charges = kept
		return nil
	})
}

// guardChargeUntouched blocks edits to a charge that already has money
// against it. Corrections to settled charges go through adjustment or
// reversal, never in-place edits.
func guardChargeUntouched(c *LoanCharge) error {
	if c.Paid.IsPositive() || c.Waived.IsPositive() || c.WrittenOff.IsPositive() {
		return stateErr("loan.state.charge-settled", ErrChargePaidOrWaived,
			"charge %s already has payments or waivers", c.ID)
	}
	return nil
}

func (p *Processor) PayCharge(ctx context.Context, id LoanID, chargeID ChargeID, date Date, amount Money, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardPositive(amount); err != nil {
			return err
		}
		if err := guardActive(a); err != nil {
			return err
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		c := a.chargeByID(chargeID)
		if c == nil {
			return validationErr("loan.validation.charge-not-found", ErrChargeNotFound, "charge %s not found", chargeID)
		}
		if c.IsFullySettled() {
			return stateErr("loan.state.charge-settled", ErrChargePaidOrWaived, "charge %s is settled", chargeID)
		}
		if amount.GreaterThan(c.Outstanding()) {
			return validationErr("loan.validation.charge-overpay", ErrNonPositiveAmount,
				"payment %s exceeds charge outstanding %s", amount, c.Outstanding())
		}
		tx := NewTransaction(TxChargePayment, date, amount)
		tx.ChargeID = chargeID
		tx.Relations = append(tx.Relations, TransactionRelation{Type: RelationChargeback, ToCharge: chargeID})
		a.Transactions = append(a.Transactions, tx)
		return nil
	})
}

func (p *Processor) WaiveCharge(ctx context.Context, id LoanID, chargeID ChargeID, date Date, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardActive(a); err != nil {
			return err
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		c := a.chargeByID(chargeID)
		if c == nil {
			return validationErr("loan.validation.charge-not-found", ErrChargeNotFound, "charge %s not found", chargeID)
		}
		if c.IsFullySettled() {
			return stateErr("loan.state.charge-settled", ErrChargePaidOrWaived, "charge %s is settled", chargeID)
		}
		tx := NewTransaction(TxWaiveCharge, date, c.Outstanding())
		tx.ChargeID = chargeID
		tx.Relations = append(tx.Relations, TransactionRelation{Type: RelationChargeback, ToCharge: chargeID})
		a.Transactions = append(a.Transactions, tx)
		return nil
	})
}

// UndoWaiveCharge reverses the most recent active waive of the charge.
func (p *Processor) UndoWaiveCharge(ctx context.Context, id LoanID, chargeID ChargeID, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		var waive *LoanTransaction
		for i := len(a.Transactions) - 1; i >= 0; i-- {
			tx := a.Transactions[i]
			if tx.IsActive() && tx.Type == TxWaiveCharge && tx.ChargeID == chargeID {
				waive = tx
				break
			}
		}
		if waive == nil {
			return consistencyErr("loan.consistency.no-waive", ErrTransactionNotFound,
				"charge %s has no active waive to undo", chargeID)
		}
		waive.Reversed = true
		waive.ManuallyReversed = true
		return nil
	})
}

func (p *Processor) ChargeAdjustment(ctx context.Context, id LoanID, chargeID ChargeID, date Date, amount Money, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardPositive(amount); err != nil {
			return err
		}
		if err := guardActive(a); err != nil {
			return err
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		if a.chargeByID(chargeID) == nil {
			return validationErr("loan.validation.charge-not-found", ErrChargeNotFound, "charge %s not found", chargeID)
		}
		tx := NewTransaction(TxChargeAdjustment, date, amount)
		tx.ChargeID = chargeID
		tx.Relations = append(tx.Relations, TransactionRelation{Type: RelationAdjusts, ToCharge: chargeID})
		a.Transactions = append(a.Transactions, tx)
		return nil
	})
}

// =============================================================================
// CHARGE-OFF
// =============================================================================

func (p *Processor) ChargeOff(ctx context.Context, id LoanID, date Date, reason, actor string, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardActive(a); err != nil {
			return err
		}
		if a.ChargedOff {
			return stateErr("loan.state.charged-off", ErrChargedOff, "loan %s is already charged off", a.ID)
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		if err := guardCurrentDated(date, businessDate); err != nil {
			return err
		}
		tx := NewTransaction(TxChargeOff, date, ZeroMoney(a.Terms.Currency))
		tx.Reason = reason
		tx.Actor = actor
		a.Transactions = append(a.Transactions, tx)
		return nil
	})
}

// UndoChargeOff reverses the charge-off, allowed only while it is still the
// most recent transaction: anything recorded after it depends on the
// written-off state.
func (p *Processor) UndoChargeOff(ctx context.Context, id LoanID, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if !a.ChargedOff {
			return stateErr("loan.state.not-charged-off", ErrNotChargedOff, "loan %s is not charged off", a.ID)
		}
		last := a.lastActiveTransaction()
		if last == nil || last.Type != TxChargeOff {
			return consistencyErr("loan.consistency.not-latest", ErrNotLatestTransaction,
				"charge-off is no longer the most recent transaction")
		}
		last.Reversed = true
		last.ManuallyReversed = true
		return nil
	})
}

// =============================================================================
// REVERSAL
// =============================================================================

// ReverseTransaction voids a committed transaction and replays the log.
// Every dependent balance is recomputed from the surviving transactions;
// if replay fails the stored aggregate is untouched.
func (p *Processor) ReverseTransaction(ctx context.Context, id LoanID, txID TransactionID, reversalExternalID string, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		tx := a.transactionByID(txID)
		if tx == nil {
			return validationErr("loan.validation.transaction-not-found", ErrTransactionNotFound,
				"transaction %s not found", txID)
		}
		if tx.Reversed {
			return consistencyErr("loan.consistency.already-reversed", ErrAlreadyReversed,
				"transaction %s is already reversed", txID)
		}
		if tx.Type == TxDisbursement {
			// A disbursement underpins everything after it; void it only while
			// nothing else has been recorded against the money.
			for _, other := range a.Transactions {
				if other.ID != tx.ID && other.IsActive() && other.IsMonetary() {
					return consistencyErr("loan.consistency.not-latest", ErrNotLatestTransaction,
						"disbursement has dependent transactions; reverse those first")
				}
			}
		}
		if reversalExternalID != "" {
			if err := p.guardExternalID(ctx, a, reversalExternalID); err != nil {
				return err
			}
		}
		tx.Reversed = true
		tx.ManuallyReversed = true
		tx.ReversalExternalID = reversalExternalID
		tx.Relations = append(tx.Relations, TransactionRelation{Type: RelationReverses, ToTransaction: txID})
		return nil
	})
}

// =============================================================================
// FORECLOSURE AND REFUNDS
// =============================================================================

// Foreclose settles the loan in full on the given date. The payoff figure
// comes from the prepayment quote under the product's pre-close strategy.
func (p *Processor) Foreclose(ctx context.Context, id LoanID, date Date, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardActive(a); err != nil {
			return err
		}
		if a.ChargedOff {
			return stateErr("loan.state.charged-off", ErrChargedOff, "loan %s is charged off", a.ID)
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		if err := guardCurrentDated(date, businessDate); err != nil {
			return err
		}
		re := &RecalculationEngine{}
		quote := re.PrepayAmount(a.Terms, a.Schedule, a.DisbursedOn, date)
		if !quote.Total.IsPositive() {
			return stateErr("loan.state.closed", ErrAlreadyClosed, "loan %s has nothing outstanding", a.ID)
		}
		a.Transactions = append(a.Transactions, NewTransaction(TxForeclosure, date, quote.Total))
		return nil
	})
}

// Quote computes the payoff figure without mutating anything.
func (p *Processor) Quote(ctx context.Context, id LoanID, asOf Date) (PrepayQuote, error) {
	a, err := p.store.Get(ctx, id)
	if err != nil {
		return PrepayQuote{}, err
	}
	re := &RecalculationEngine{}
	return re.PrepayAmount(a.Terms, a.Schedule, a.DisbursedOn, asOf), nil
}

// CreditBalanceRefund returns overpaid funds to the borrower.
func (p *Processor) CreditBalanceRefund(ctx context.Context, id LoanID, date Date, amount Money, businessDate Date) (*LoanAccount, error) {
	return p.refund(ctx, id, TxCreditBalanceRefund, date, amount, businessDate)
}

// Refund records a lender-initiated cash refund against the credit balance.
func (p *Processor) Refund(ctx context.Context, id LoanID, date Date, amount Money, businessDate Date) (*LoanAccount, error) {
	return p.refund(ctx, id, TxRefund, date, amount, businessDate)
}

// RefundByTransfer moves credit balance out via account transfer rather than
// cash. Same guards as Refund; only the recorded transaction flavor differs.
func (p *Processor) RefundByTransfer(ctx context.Context, id LoanID, date Date, amount Money, businessDate Date) (*LoanAccount, error) {
	return p.refund(ctx, id, TxRefundTransfer, date, amount, businessDate)
}

func (p *Processor) refund(ctx context.Context, id LoanID, txType TransactionType, date Date, amount Money, businessDate Date) (*LoanAccount, error) {
	return p.mutate(ctx, id, businessDate, func(a *LoanAccount) error {
		if err := guardPositive(amount); err != nil {
			return err
		}
		if !a.Overpayment.IsPositive() {
			return stateErr("loan.state.no-credit-balance", ErrNoOverpayment, "loan %s has no credit balance", a.ID)
		}
		if amount.GreaterThan(a.Overpayment) {
			return validationErr("loan.validation.over-refund", ErrNonPositiveAmount,
				"refund %s exceeds credit balance %s", amount, a.Overpayment)
		}
		if err := guardTransactionDate(a, date, businessDate); err != nil {
			return err
		}
		a.Transactions = append(a.Transactions, NewTransaction(txType, date, amount))
		return nil
	})
}
