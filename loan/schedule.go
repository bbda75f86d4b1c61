/*
schedule.go - Repayment schedule generation

PURPOSE:
  Produces the ordered sequence of installment periods for a loan: period 0
  (disbursement, carrying only disbursement-time charges) and periods 1..N
  with principal/interest/fee/penalty dues.

AMORTIZATION:
  equal_installments - solves for a level payment (EMI) on the declining
                       balance, final period adjusted so the balance lands
                       exactly on zero
  equal_principal    - divides principal evenly, interest computed on the
                       declining balance

GRACE:
  A principal moratorium suppresses principal dues for the leading periods
  and re-amortizes the principal over the rest. An interest moratorium zeroes
  interest dues for the leading periods. Grace never removes a period from
  the schedule.

INVARIANT:
  For every component of every period:
    due == paid + waived + writtenOff + outstanding
  Outstanding is derived, so the invariant holds by construction; replay
  only ever moves value between the right-hand buckets.
*/
package loan

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PORTION STATE - One money component of a period
// =============================================================================

type PortionState struct {
	Due        Money
	Paid       Money
	Waived     Money
	WrittenOff Money
}

func (p *PortionState) Outstanding() Money {
	return p.Due.Sub(p.Paid).Sub(p.Waived).Sub(p.WrittenOff).ClampZero()
}

// pay consumes up to the outstanding amount, returning what was consumed.
func (p *PortionState) pay(m Money) Money {
	take := m.Min(p.Outstanding()).ClampZero()
	p.Paid = p.Paid.Add(take)
	return take
}

// unpay returns previously paid value to outstanding (credit reallocation).
func (p *PortionState) unpay(m Money) Money {
	take := m.Min(p.Paid).ClampZero()
	p.Paid = p.Paid.Sub(take)
	return take
}

// waive moves up to the outstanding amount into the waived bucket.
func (p *PortionState) waive(m Money) Money {
	take := m.Min(p.Outstanding()).ClampZero()
	p.Waived = p.Waived.Add(take)
	return take
}

// unwaive restores waived value to outstanding.
func (p *PortionState) unwaive(m Money) Money {
	take := m.Min(p.Waived).ClampZero()
	p.Waived = p.Waived.Sub(take)
	return take
}

// writeOff moves the whole outstanding amount into written-off.
func (p *PortionState) writeOff() Money {
	amt := p.Outstanding()
	p.WrittenOff = p.WrittenOff.Add(amt)
	return amt
}

// unwriteOff restores written-off value to outstanding.
func (p *PortionState) unwriteOff() Money {
	amt := p.WrittenOff
	p.WrittenOff = p.WrittenOff.Sub(amt)
	return amt
}

// =============================================================================
// REPAYMENT PERIOD
// =============================================================================

type RepaymentPeriod struct {
	Number   int // 0 = disbursement period
	FromDate Date
	DueDate  Date

	// OriginalDueDate survives recalculation; arrears ageing may anchor on it.
	OriginalDueDate Date

	Principal PortionState
	Interest  PortionState
	Fee       PortionState
	Penalty   PortionState

	// Outstanding loan balance after this period's scheduled principal.
	BalanceAfter Money

	// Accrued income portions recognized by the periodic accrual job.
	InterestAccrued Money
	FeeAccrued      Money
	PenaltyAccrued  Money
}

func (rp *RepaymentPeriod) TotalDue() Money {
	return rp.Principal.Due.Add(rp.Interest.Due).Add(rp.Fee.Due).Add(rp.Penalty.Due)
}

func (rp *RepaymentPeriod) TotalPaid() Money {
	return rp.Principal.Paid.Add(rp.Interest.Paid).Add(rp.Fee.Paid).Add(rp.Penalty.Paid)
}

func (rp *RepaymentPeriod) TotalWaived() Money {
	return rp.Principal.Waived.Add(rp.Interest.Waived).Add(rp.Fee.Waived).Add(rp.Penalty.Waived)
}

func (rp *RepaymentPeriod) TotalWrittenOff() Money {
	return rp.Principal.WrittenOff.Add(rp.Interest.WrittenOff).Add(rp.Fee.WrittenOff).Add(rp.Penalty.WrittenOff)
}

func (rp *RepaymentPeriod) TotalOutstanding() Money {
	return rp.Principal.Outstanding().Add(rp.Interest.Outstanding()).Add(rp.Fee.Outstanding()).Add(rp.Penalty.Outstanding())
}

func (rp *RepaymentPeriod) IsFullySettled() bool { return rp.TotalOutstanding().IsZero() }

// IsOverdue reports whether the period has unpaid dues past its due date.
func (rp *RepaymentPeriod) IsOverdue(asOf Date) bool {
	return rp.DueDate.Before(asOf) && !rp.IsFullySettled()
}

func (rp *RepaymentPeriod) clone() *RepaymentPeriod {
	cp := *rp
	return &cp
}

// =============================================================================
// SCHEDULE BUILDER
// =============================================================================

// BuildSchedule generates the full schedule for the given principal and
// disbursement date. Percentage charges are recomputed against the new
// interest/principal basis before fee dues are attached, so a principal
// change automatically re-amortizes every percentage charge.
func BuildSchedule(terms LoanTerms, charges []*LoanCharge, principal Money, disbursedOn Date) []*RepaymentPeriod {
	n := terms.NumberOfPeriods
	periods := make([]*RepaymentPeriod, 0, n+1)

	anchor := disbursedOn
	if anchor.IsZero() {
		anchor = terms.ExpectedDisbursement
	}

	// Period skeleton with due dates.
	periods = append(periods, &RepaymentPeriod{
		Number:          0,
		FromDate:        anchor,
		DueDate:         anchor,
		OriginalDueDate: anchor,
		BalanceAfter:    principal,
	})
	prev := anchor
	for i := 1; i <= n; i++ {
		due := terms.DueDateOf(anchor, i)
		periods = append(periods, &RepaymentPeriod{
			Number:          i,
			FromDate:        prev,
			DueDate:         due,
			OriginalDueDate: due,
		})
		prev = due
	}

	amortize(terms, periods, principal)

	// Total scheduled interest is the basis for percent-of-interest charges.
	totalInterest := principal.Zero()
	for _, rp := range periods[1:] {
		totalInterest = totalInterest.Add(rp.Interest.Due)
	}
	basis := ChargeBasis{Principal: principal, Interest: totalInterest, Periods: n}
	RecomputeCharges(charges, basis)

	lastPeriod := periods[len(periods)-1].Number
	for _, rp := range periods {
		fee, penalty := chargesDueAt(charges, basis, rp.Number, lastPeriod, rp.FromDate, rp.DueDate)
		rp.Fee.Due = fee
		rp.Penalty.Due = penalty
	}

	return periods
}

// amortize fills principal and interest dues for periods 1..N.
func amortize(terms LoanTerms, periods []*RepaymentPeriod, principal Money) {
	n := terms.NumberOfPeriods
	rate := terms.ratePerPeriod()
	repayable := n - terms.GracePrincipal

	switch {
	case terms.InterestMethod == InterestFlat:
		// Flat interest: every period carries principal * rate, regardless of
		// the declining balance.
		flatInterest := principal.Mul(rate).Round()
		principalParts := principal.SplitEvenly(repayable)
		fillPeriods(terms, periods, principal, func(i int, balance Money) (Money, Money) {
			p := balance.Zero()
			if i > terms.GracePrincipal {
				p = principalParts[i-terms.GracePrincipal-1]
			}
			iv := flatInterest
			if i <= terms.GraceInterest {
				iv = iv.Zero()
			}
			return p, iv
		})

	case terms.Amortization == AmortizeEqualPrincipal:
		principalParts := principal.SplitEvenly(repayable)
		fillPeriods(terms, periods, principal, func(i int, balance Money) (Money, Money) {
			p := balance.Zero()
			if i > terms.GracePrincipal {
				p = principalParts[i-terms.GracePrincipal-1]
			}
			iv := balance.Mul(rate).Round()
			if i <= terms.GraceInterest {
				iv = iv.Zero()
			}
			return p, iv
		})

	default: // equal installments on declining balance
		payment := levelPayment(principal, rate, repayable)
		fillPeriods(terms, periods, principal, func(i int, balance Money) (Money, Money) {
			iv := balance.Mul(rate).Round()
			if i <= terms.GraceInterest {
				iv = iv.Zero()
			}
			if i <= terms.GracePrincipal {
				return balance.Zero(), iv
			}
			p := payment.Sub(balance.Mul(rate).Round())
			if i == terms.NumberOfPeriods || p.GreaterThan(balance) {
				p = balance // final period clears the balance exactly
			}
			return p.ClampZero(), iv
		})
	}
}

// fillPeriods walks periods 1..N applying the per-period principal/interest
// function against the declining balance.
func fillPeriods(terms LoanTerms, periods []*RepaymentPeriod, principal Money, f func(i int, balance Money) (Money, Money)) {
	balance := principal
	for i := 1; i < len(periods); i++ {
		p, iv := f(i, balance)
		periods[i].Principal.Due = p
		periods[i].Interest.Due = iv
		balance = balance.Sub(p)
		periods[i].BalanceAfter = balance
	}
	// Rounding drift lands on the final period.
	if last := periods[len(periods)-1]; !balance.IsZero() {
		last.Principal.Due = last.Principal.Due.Add(balance)
		last.BalanceAfter = balance.Zero()
	}
}

// levelPayment solves the EMI formula P*r*(1+r)^n / ((1+r)^n - 1).
// The power term uses float64 (precision loss is below currency rounding);
// all monetary arithmetic stays decimal.
func levelPayment(principal Money, rate decimal.Decimal, n int) Money {
	if n <= 0 {
		return principal.Zero()
	}
	if rate.IsZero() {
		return principal.SplitEvenly(n)[0]
	}
	r, _ := rate.Float64()
	factor := math.Pow(1+r, float64(n))
	multiplier := decimal.NewFromFloat(r * factor / (factor - 1))
	return principal.Mul(multiplier).Round()
}
