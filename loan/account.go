/*
account.go - The loan account aggregate and its replay projection

PURPOSE:
  LoanAccount owns the transaction log, the attached charges, and the
  derived state: schedule, summary, status. The derived state is NEVER the
  source of truth - it is a pure fold of the non-reversed transactions, in
  commit order, over the initial schedule.

WHY A FOLD?
  Reversal-and-replay falls out for free: voiding a transaction and
  recomputing the fold IS the replay. There is no stored balance that can
  drift from the log, and replaying twice with the same inputs yields the
  same state (idempotence).

CRITICAL INVARIANTS:
  1. Transactions are append-only; reversal sets a flag, never deletes
  2. For every component of every period:
       due == paid + waived + writtenOff + outstanding
  3. Replaying all active transactions reproduces schedule and summary
     exactly
*/
package loan

import (
	"github.com/google/uuid"
)

// =============================================================================
// LOAN ACCOUNT
// =============================================================================

type LoanAccount struct {
	ID         LoanID
	ExternalID string
	Terms      LoanTerms

	Charges      []*LoanCharge
	Transactions []*LoanTransaction // append-only, commit order

	// Approval metadata. Approval precedes the transaction log.
	SubmittedOn Date
	Approved    bool
	ApprovedOn  Date
	ApprovedBy  string

	// Derived state - output of rebuild(), recomputable at any time.
	Status          LoanStatus
	ChargedOff      bool
	ChargeOffReason string
	ChargeOffDate   Date
	ChargeOffBy     string
	Schedule        []*RepaymentPeriod
	DisbursedAmount Money
	DisbursedOn     Date
	Overpayment     Money
	Summary         LoanSummary
}

type LoanSummary struct {
	PrincipalDisbursed   Money
	PrincipalPaid        Money
	PrincipalWrittenOff  Money
	PrincipalOutstanding Money

	InterestCharged     Money
	InterestPaid        Money
	InterestWaived      Money
	InterestWrittenOff  Money
	InterestOutstanding Money
	InterestAccrued     Money

	FeeChargesDue         Money
	FeeChargesPaid        Money
	FeeChargesWaived      Money
	FeeChargesWrittenOff  Money
	FeeChargesOutstanding Money

	PenaltyChargesDue         Money
	PenaltyChargesPaid        Money
	PenaltyChargesWaived      Money
	PenaltyChargesWrittenOff  Money
	PenaltyChargesOutstanding Money

	TotalExpectedRepayment Money
	TotalRepaid            Money
	TotalOutstanding       Money
	TotalOverpaid          Money

	InArrears    bool
	OverdueSince *Date
}

// NewLoanAccount creates a pending account from validated terms, with a
// projected schedule anchored on the expected disbursement date.
func NewLoanAccount(terms LoanTerms, externalID string, submittedOn Date) (*LoanAccount, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	a := &LoanAccount{
		ID:          LoanID(uuid.NewString()),
		ExternalID:  externalID,
		Terms:       terms,
		SubmittedOn: submittedOn,
		Status:      StatusPending,
	}
	a.mustRebuild(submittedOn)
	return a, nil
}

// AttachCharge seeds a charge template onto a freshly submitted account,
// before any transaction exists. Later additions go through the processor.
func (a *LoanAccount) AttachCharge(c *LoanCharge) {
	if c.ID == "" {
		c.ID = ChargeID(newID())
	}
	a.Charges = append(a.Charges, c)
}

func (a *LoanAccount) chargeByID(id ChargeID) *LoanCharge {
	for _, c := range a.Charges {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (a *LoanAccount) transactionByID(id TransactionID) *LoanTransaction {
	for _, tx := range a.Transactions {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}

// lastActiveTransaction returns the most recent non-reversed transaction.
func (a *LoanAccount) lastActiveTransaction() *LoanTransaction {
	for i := len(a.Transactions) - 1; i >= 0; i-- {
		if a.Transactions[i].IsActive() {
			return a.Transactions[i]
		}
	}
	return nil
}

// Clone deep-copies the aggregate. Commands mutate a clone and swap it in
// only on success, which is what makes every operation all-or-nothing.
func (a *LoanAccount) Clone() *LoanAccount {
	cp := *a
	cp.Charges = make([]*LoanCharge, len(a.Charges))
	for i, c := range a.Charges {
		cp.Charges[i] = c.clone()
	}
	cp.Transactions = make([]*LoanTransaction, len(a.Transactions))
	for i, tx := range a.Transactions {
		cp.Transactions[i] = tx.clone()
	}
	cp.Schedule = make([]*RepaymentPeriod, len(a.Schedule))
	for i, rp := range a.Schedule {
		cp.Schedule[i] = rp.clone()
	}
	return &cp
}

// =============================================================================
// REBUILD - The replay fold
// =============================================================================

// rebuild recomputes every piece of derived state from terms + charges +
// the active transaction log.
func (a *LoanAccount) rebuild(businessDate Date) error {
	for _, c := range a.Charges {
		c.resetDerived()
	}
	zero := ZeroMoney(a.Terms.Currency)
	a.ChargedOff = false
	a.ChargeOffReason = ""
	a.ChargeOffDate = Date{}
	a.ChargeOffBy = ""
	a.Overpayment = zero
	a.DisbursedAmount = zero
	a.DisbursedOn = Date{}

	a.Schedule = BuildSchedule(a.Terms, a.Charges, a.Terms.Principal, a.Terms.ExpectedDisbursement)

	recalc := &RecalculationEngine{}
	strategy := AllocationStrategyFor(a.Terms.AllocationStrategy)

	for _, tx := range a.Transactions {
		if !tx.IsActive() {
			continue
		}
		switch tx.Type {
		case TxDisbursement:
			a.applyDisbursement(tx, recalc)
		case TxRepayment:
			a.applyRepayment(tx, strategy, recalc)
		case TxForeclosure:
			a.applyRepayment(tx, strategy, recalc)
			a.settleResidualInterest(tx.Date)
		case TxChargePayment:
			a.applyChargePayment(tx)
		case TxWaiveCharge:
			a.applyWaive(tx)
		case TxChargeAdjustment:
			a.applyChargeAdjustment(tx)
		case TxChargeOff:
			a.applyChargeOff(tx)
		case TxAccrual:
			a.applyAccrual(tx)
		case TxRefund, TxRefundTransfer, TxCreditBalanceRefund:
			a.applyRefund(tx)
		}
	}

	a.deriveSummary(businessDate)
	a.deriveStatus()
	return nil
}

// mustRebuild is rebuild for contexts where the log is known-good.
func (a *LoanAccount) mustRebuild(businessDate Date) {
	_ = a.rebuild(businessDate)
}

// Rebuild recomputes derived state from the transaction log. Stores call
// this after loading terms, charges, and transactions; nothing derived is
// ever trusted from persistence.
func (a *LoanAccount) Rebuild(businessDate Date) error {
	return a.rebuild(businessDate)
}

// -----------------------------------------------------------------------------
// Fold steps, one per transaction type
// -----------------------------------------------------------------------------

func (a *LoanAccount) applyDisbursement(tx *LoanTransaction, recalc *RecalculationEngine) {
	tx.resetPortions()
	tx.PrincipalPortion = tx.Amount

	if a.DisbursedOn.IsZero() {
		a.DisbursedOn = tx.Date
		a.DisbursedAmount = tx.Amount
		a.Schedule = BuildSchedule(a.Terms, a.Charges, tx.Amount, tx.Date)
		return
	}

	// Tranche top-up: outstanding principal grows, future periods
	// re-amortize, and every percentage charge follows the new basis.
	a.DisbursedAmount = a.DisbursedAmount.Add(tx.Amount)
	recalc.TopUpPrincipal(a.Terms, a.Schedule, tx.Amount, tx.Date)
	a.refreshChargeDues()
}

func (a *LoanAccount) applyRepayment(tx *LoanTransaction, strategy AllocationStrategy, recalc *RecalculationEngine) {
	tx.resetPortions()

	scheduled := a.scheduledDueAround(tx.Date)
	alloc := strategy.Allocate(tx.Amount, a.Schedule, tx.Date)

	tx.PrincipalPortion = alloc.Principal
	tx.InterestPortion = alloc.Interest
	tx.FeePortion = alloc.Fee
	tx.PenaltyPortion = alloc.Penalty
	tx.OverpaymentPortion = alloc.Excess

	a.settleChargesFromBuckets(alloc.Fee, alloc.Penalty)

	if alloc.Excess.IsPositive() {
		a.Overpayment = a.Overpayment.Add(alloc.Excess)
	}

	// A payment that deviates from plan triggers recalculation when the
	// product is configured for it.
	if a.Terms.Recalculation.Enabled && tx.Type == TxRepayment {
		if !tx.Amount.Equal(scheduled) {
			a.Schedule = recalc.Recalculate(a.Terms, a.Schedule, tx.Date)
		}
	}
}

// scheduledDueAround is the total due of the earliest open period, the
// yardstick for detecting deviating payments.
func (a *LoanAccount) scheduledDueAround(d Date) Money {
	for _, rp := range a.Schedule {
		if rp.Number == 0 {
			continue
		}
		if !rp.IsFullySettled() {
			return rp.TotalOutstanding()
		}
	}
	return ZeroMoney(a.Terms.Currency)
}

func (a *LoanAccount) applyChargePayment(tx *LoanTransaction) {
	tx.resetPortions()
	c := a.chargeByID(tx.ChargeID)
	if c == nil {
		return
	}
	paid := a.payCharge(c, tx.Amount)
	if c.Penalty || c.Time == ChargeOnOverdue {
		tx.PenaltyPortion = paid
	} else {
		tx.FeePortion = paid
	}
}

func (a *LoanAccount) applyWaive(tx *LoanTransaction) {
	tx.resetPortions()
	c := a.chargeByID(tx.ChargeID)
	if c == nil {
		return
	}
	amt := tx.Amount.Min(c.Outstanding())
	c.Waived = c.Waived.Add(amt)
	c.IsWaived = c.Outstanding().IsZero()

	remaining := amt
	penalty := c.Penalty || c.Time == ChargeOnOverdue
	for _, rp := range a.Schedule {
		if remaining.IsZero() {
			break
		}
		if penalty {
			remaining = remaining.Sub(rp.Penalty.waive(remaining))
		} else {
			remaining = remaining.Sub(rp.Fee.waive(remaining))
		}
	}
	if penalty {
		tx.PenaltyPortion = amt
	} else {
		tx.FeePortion = amt
	}
}

// applyChargeAdjustment treats the adjustment as a quasi-payment: first the
// target charge's outstanding balance, then the cascade
// fee -> penalty -> principal -> overpayment.
func (a *LoanAccount) applyChargeAdjustment(tx *LoanTransaction) {
	tx.resetPortions()
	remaining := tx.Amount

	// The direct slice is mirrored onto the charge inside payCharge; only the
	// cascade slices below need charge-level settlement afterwards.
	if c := a.chargeByID(tx.ChargeID); c != nil {
		paid := a.payCharge(c, remaining)
		remaining = remaining.Sub(paid)
		if c.Penalty || c.Time == ChargeOnOverdue {
			tx.PenaltyPortion = tx.PenaltyPortion.Add(paid)
		} else {
			tx.FeePortion = tx.FeePortion.Add(paid)
		}
	}

	cascadeFee := tx.Amount.Zero()
	cascadePenalty := tx.Amount.Zero()
	for _, rp := range a.Schedule {
		if remaining.IsZero() {
			break
		}
		taken := rp.Fee.pay(remaining)
		cascadeFee = cascadeFee.Add(taken)
		remaining = remaining.Sub(taken)
	}
	for _, rp := range a.Schedule {
		if remaining.IsZero() {
			break
		}
		taken := rp.Penalty.pay(remaining)
		cascadePenalty = cascadePenalty.Add(taken)
		remaining = remaining.Sub(taken)
	}
	for _, rp := range a.Schedule {
		if remaining.IsZero() {
			break
		}
		taken := rp.Principal.pay(remaining)
		tx.PrincipalPortion = tx.PrincipalPortion.Add(taken)
		remaining = remaining.Sub(taken)
	}
	tx.FeePortion = tx.FeePortion.Add(cascadeFee)
	tx.PenaltyPortion = tx.PenaltyPortion.Add(cascadePenalty)
	a.settleChargesFromBuckets(cascadeFee, cascadePenalty)

	if remaining.IsPositive() {
		tx.OverpaymentPortion = remaining
		a.Overpayment = a.Overpayment.Add(remaining)
	}
}

func (a *LoanAccount) applyChargeOff(tx *LoanTransaction) {
	tx.resetPortions()
	a.ChargedOff = true
	a.ChargeOffReason = tx.Reason
	a.ChargeOffDate = tx.Date
	a.ChargeOffBy = tx.Actor

	principal := ZeroMoney(a.Terms.Currency)
	fee := principal.Zero()
	penalty := principal.Zero()
	for _, rp := range a.Schedule {
		principal = principal.Add(rp.Principal.writeOff())
		fee = fee.Add(rp.Fee.writeOff())
		penalty = penalty.Add(rp.Penalty.writeOff())
	}
	for _, c := range a.Charges {
		c.WrittenOff = c.WrittenOff.Add(c.Outstanding())
	}
	tx.PrincipalPortion = principal
	tx.FeePortion = fee
	tx.PenaltyPortion = penalty
	tx.Amount = principal.Add(fee).Add(penalty)
}

// applyAccrual distributes pre-computed accrual portions onto the earliest
// periods that still have unrecognized income.
func (a *LoanAccount) applyAccrual(tx *LoanTransaction) {
	fill := func(remaining Money, accrued func(rp *RepaymentPeriod) *Money, due func(rp *RepaymentPeriod) Money) {
		for _, rp := range a.Schedule {
			if remaining.IsZero() {
				break
			}
			room := due(rp).Sub(*accrued(rp)).ClampZero()
			take := remaining.Min(room)
			*accrued(rp) = (*accrued(rp)).Add(take)
			remaining = remaining.Sub(take)
		}
	}
	fill(tx.InterestPortion, func(rp *RepaymentPeriod) *Money { return &rp.InterestAccrued }, func(rp *RepaymentPeriod) Money { return rp.Interest.Due })
	fill(tx.FeePortion, func(rp *RepaymentPeriod) *Money { return &rp.FeeAccrued }, func(rp *RepaymentPeriod) Money { return rp.Fee.Due })
	fill(tx.PenaltyPortion, func(rp *RepaymentPeriod) *Money { return &rp.PenaltyAccrued }, func(rp *RepaymentPeriod) Money { return rp.Penalty.Due })
}

func (a *LoanAccount) applyRefund(tx *LoanTransaction) {
	tx.resetPortions()
	amt := tx.Amount.Min(a.Overpayment)
	a.Overpayment = a.Overpayment.Sub(amt)
	tx.OverpaymentPortion = amt
}

// settleResidualInterest zeroes future interest never earned because the
// loan closed early. Pre-close interest policy already decided how much
// interest the foreclosure amount carried.
func (a *LoanAccount) settleResidualInterest(asOf Date) {
	for _, rp := range a.Schedule {
		if rp.DueDate.After(asOf) {
			rp.Interest.Due = rp.Interest.Paid.Add(rp.Interest.Waived).Add(rp.Interest.WrittenOff)
		}
	}
}

// -----------------------------------------------------------------------------
// Charge settlement helpers
// -----------------------------------------------------------------------------

// payCharge settles up to m of the charge's outstanding amount, mirroring it
// into the matching period bucket. Returns what was consumed.
func (a *LoanAccount) payCharge(c *LoanCharge, m Money) Money {
	take := m.Min(c.Outstanding()).ClampZero()
	if take.IsZero() {
		return take
	}
	c.Paid = c.Paid.Add(take)

	remaining := take
	penalty := c.Penalty || c.Time == ChargeOnOverdue
	for _, rp := range a.Schedule {
		if remaining.IsZero() {
			break
		}
		if penalty {
			remaining = remaining.Sub(rp.Penalty.pay(remaining))
		} else {
			remaining = remaining.Sub(rp.Fee.pay(remaining))
		}
	}
	return take
}

// settleChargesFromBuckets mirrors period-level fee/penalty payments back
// onto the individual charges, in attachment order.
func (a *LoanAccount) settleChargesFromBuckets(fee, penalty Money) {
	for _, c := range a.Charges {
		if fee.IsZero() && penalty.IsZero() {
			break
		}
		isPenalty := c.Penalty || c.Time == ChargeOnOverdue
		if isPenalty && penalty.IsPositive() {
			take := penalty.Min(c.Outstanding())
			c.Paid = c.Paid.Add(take)
			penalty = penalty.Sub(take)
		} else if !isPenalty && fee.IsPositive() {
			take := fee.Min(c.Outstanding())
			c.Paid = c.Paid.Add(take)
			fee = fee.Sub(take)
		}
	}
}

// refreshChargeDues re-amortizes percentage charges after a basis change and
// refreshes the unpaid part of every period's fee/penalty dues.
func (a *LoanAccount) refreshChargeDues() {
	totalInterest := ZeroMoney(a.Terms.Currency)
	for _, rp := range a.Schedule {
		totalInterest = totalInterest.Add(rp.Interest.Due)
	}
	basis := ChargeBasis{Principal: a.DisbursedAmount, Interest: totalInterest, Periods: a.Terms.NumberOfPeriods}
	RecomputeCharges(a.Charges, basis)

	lastPeriod := a.Schedule[len(a.Schedule)-1].Number
	for _, rp := range a.Schedule {
		fee, penalty := chargesDueAt(a.Charges, basis, rp.Number, lastPeriod, rp.FromDate, rp.DueDate)
		// Never shrink below what is already settled.
		rp.Fee.Due = fee.Max(rp.Fee.Paid.Add(rp.Fee.Waived).Add(rp.Fee.WrittenOff))
		rp.Penalty.Due = penalty.Max(rp.Penalty.Paid.Add(rp.Penalty.Waived).Add(rp.Penalty.WrittenOff))
	}
}

// -----------------------------------------------------------------------------
// Summary and status derivation
// -----------------------------------------------------------------------------

func (a *LoanAccount) deriveSummary(asOf Date) {
	zero := ZeroMoney(a.Terms.Currency)
	s := LoanSummary{
		PrincipalDisbursed: a.DisbursedAmount,
		TotalOverpaid:      a.Overpayment,
	}
	s.PrincipalPaid = zero
	s.PrincipalWrittenOff = zero
	s.PrincipalOutstanding = zero
	s.InterestCharged = zero
	s.InterestPaid = zero
	s.InterestWaived = zero
	s.InterestWrittenOff = zero
	s.InterestOutstanding = zero
	s.InterestAccrued = zero
	s.FeeChargesDue = zero
	s.FeeChargesPaid = zero
	s.FeeChargesWaived = zero
	s.FeeChargesWrittenOff = zero
	s.FeeChargesOutstanding = zero
	s.PenaltyChargesDue = zero
	s.PenaltyChargesPaid = zero
	s.PenaltyChargesWaived = zero
	s.PenaltyChargesWrittenOff = zero
	s.PenaltyChargesOutstanding = zero

	for _, rp := range a.Schedule {
		s.PrincipalPaid = s.PrincipalPaid.Add(rp.Principal.Paid)
		s.PrincipalWrittenOff = s.PrincipalWrittenOff.Add(rp.Principal.WrittenOff)
		s.PrincipalOutstanding = s.PrincipalOutstanding.Add(rp.Principal.Outstanding())

		s.InterestCharged = s.InterestCharged.Add(rp.Interest.Due)
		s.InterestPaid = s.InterestPaid.Add(rp.Interest.Paid)
		s.InterestWaived = s.InterestWaived.Add(rp.Interest.Waived)
		s.InterestWrittenOff = s.InterestWrittenOff.Add(rp.Interest.WrittenOff)
		s.InterestOutstanding = s.InterestOutstanding.Add(rp.Interest.Outstanding())
		s.InterestAccrued = s.InterestAccrued.Add(rp.InterestAccrued)

		s.FeeChargesDue = s.FeeChargesDue.Add(rp.Fee.Due)
		s.FeeChargesPaid = s.FeeChargesPaid.Add(rp.Fee.Paid)
		s.FeeChargesWaived = s.FeeChargesWaived.Add(rp.Fee.Waived)
		s.FeeChargesWrittenOff = s.FeeChargesWrittenOff.Add(rp.Fee.WrittenOff)
		s.FeeChargesOutstanding = s.FeeChargesOutstanding.Add(rp.Fee.Outstanding())

		s.PenaltyChargesDue = s.PenaltyChargesDue.Add(rp.Penalty.Due)
		s.PenaltyChargesPaid = s.PenaltyChargesPaid.Add(rp.Penalty.Paid)
		s.PenaltyChargesWaived = s.PenaltyChargesWaived.Add(rp.Penalty.Waived)
		s.PenaltyChargesWrittenOff = s.PenaltyChargesWrittenOff.Add(rp.Penalty.WrittenOff)
		s.PenaltyChargesOutstanding = s.PenaltyChargesOutstanding.Add(rp.Penalty.Outstanding())
	}

	s.TotalExpectedRepayment = s.PrincipalDisbursed.Add(s.InterestCharged).Add(s.FeeChargesDue).Add(s.PenaltyChargesDue)
	s.TotalRepaid = s.PrincipalPaid.Add(s.InterestPaid).Add(s.FeeChargesPaid).Add(s.PenaltyChargesPaid)
	s.TotalOutstanding = s.PrincipalOutstanding.Add(s.InterestOutstanding).Add(s.FeeChargesOutstanding).Add(s.PenaltyChargesOutstanding)

	s.OverdueSince = OverdueSince(a.Terms.Recalculation, a.Schedule, asOf)
	s.InArrears = s.OverdueSince != nil
	a.Summary = s
}

func (a *LoanAccount) deriveStatus() {
	if a.DisbursedOn.IsZero() {
		if a.Approved {
			a.Status = StatusApproved
		} else {
			a.Status = StatusPending
		}
		return
	}
	if a.ChargedOff {
		// Charge-off zeroes the written-off buckets but the loan stays open
		// so recovery repayments remain recordable.
		a.Status = StatusActive
		return
	}
	if a.Overpayment.IsPositive() {
		a.Status = StatusOverpaid
		return
	}
	if a.Summary.TotalOutstanding.IsZero() {
		if last := a.lastActiveTransaction(); last != nil && last.Type == TxForeclosure {
			a.Status = StatusClosedForeclosed
		} else {
			a.Status = StatusClosedObligationsMet
		}
		return
	}
	a.Status = StatusActive
}
