/*
recalculate.go - Interest recalculation engine

PURPOSE:
  Re-derives outstanding interest and principal for the future part of the
  schedule when actual payments deviate from the plan (early, late, partial)
  or when an extra tranche tops up principal. Only runs when the product has
  recalculation enabled.

STRATEGIES (product-level, mutually exclusive):
  reduce_emi_amount             - same number of remaining periods, smaller
                                  installments
  reduce_number_of_installments - same installment, the tail shortens or
                                  lengthens; trailing zero periods are
                                  dropped, never left empty
  reschedule_next_repayments    - the delta lands on the immediately
                                  following period(s); later periods keep
                                  their amortized dues

REST AND COMPOUNDING:
  The rest frequency fixes how often the interest-bearing balance snapshot
  refreshes (daily / weekly / same-as-repayment). The compounding rule says
  whether unpaid interest (and fees) fold back into principal for subsequent
  interest computation.

  Past periods are never touched: recalculation is strictly forward-looking.
*/
package loan

import (
	"github.com/shopspring/decimal"
)

// RecalculationEngine recomputes future periods in place.
type RecalculationEngine struct{}

// Recalculate rebuilds the dues of every period strictly after asOf from the
// current outstanding balance. Settled and past periods are left alone. The
// returned slice replaces the schedule: reduce_number_of_installments may
// extend or shorten it.
func (re *RecalculationEngine) Recalculate(terms LoanTerms, periods []*RepaymentPeriod, asOf Date) []*RepaymentPeriod {
	cfg := terms.Recalculation
	if !cfg.Enabled {
		return periods
	}

	future := futurePeriods(periods, asOf)
	if len(future) == 0 {
		return periods
	}

	basis := re.outstandingBasis(terms, periods, asOf)
	if !basis.IsPositive() {
		for _, rp := range future {
			rp.Principal.Due = rp.Principal.Paid.Add(rp.Principal.Waived).Add(rp.Principal.WrittenOff)
			rp.Interest.Due = rp.Interest.Paid.Add(rp.Interest.Waived).Add(rp.Interest.WrittenOff)
		}
		return periods
	}

	switch cfg.Strategy {
	case RecalcReduceInstallments:
		return re.reduceInstallments(terms, periods, future, basis)
	case RecalcRescheduleNext:
		re.rescheduleNext(terms, future, basis)
	default:
		re.reduceEMI(terms, future, basis)
	}
	return periods
}

// TopUpPrincipal folds an extra tranche into the future schedule: the new
// amount joins the outstanding balance and future periods re-amortize.
func (re *RecalculationEngine) TopUpPrincipal(terms LoanTerms, periods []*RepaymentPeriod, amount Money, asOf Date) {
	future := futurePeriods(periods, asOf)
	if len(future) == 0 {
		// Past the schedule: the tranche becomes due with the final period.
		if len(periods) > 1 {
			last := periods[len(periods)-1]
			last.Principal.Due = last.Principal.Due.Add(amount)
		}
		return
	}
	// Only principal still scheduled on future periods re-amortizes; dues on
	// periods at or before asOf are already fixed and must not be counted
	// twice.
	basis := amount
	for _, rp := range future {
		basis = basis.Add(rp.Principal.Outstanding())
	}
	re.reduceEMI(terms, future, basis)
}

// outstandingBasis is the amortization basis: outstanding principal plus, if
// compounding is configured, unpaid interest (and fees) from past periods.
func (re *RecalculationEngine) outstandingBasis(terms LoanTerms, periods []*RepaymentPeriod, asOf Date) Money {
	basis := re.principalOutstanding(periods)
	switch terms.Recalculation.Compounding {
	case CompoundInterest:
		basis = basis.Add(overdueComponent(periods, asOf, func(rp *RepaymentPeriod) Money {
			return rp.Interest.Outstanding()
		}))
	case CompoundInterestAndFee:
		basis = basis.Add(overdueComponent(periods, asOf, func(rp *RepaymentPeriod) Money {
			return rp.Interest.Outstanding().Add(rp.Fee.Outstanding())
		}))
	}
	return basis
}

func (re *RecalculationEngine) principalOutstanding(periods []*RepaymentPeriod) Money {
	total := periods[0].BalanceAfter.Zero()
	for _, rp := range periods[1:] {
		total = total.Add(rp.Principal.Outstanding())
	}
	return total
}

// reduceEMI keeps the remaining period count and re-amortizes the basis over
// it with a fresh level payment.
func (re *RecalculationEngine) reduceEMI(terms LoanTerms, future []*RepaymentPeriod, basis Money) {
	rate := terms.ratePerPeriod()
	payment := levelPayment(basis, rate, len(future))
	balance := basis
	for i, rp := range future {
		interest := balance.Mul(rate).Round()
		principal := payment.Sub(interest)
		if i == len(future)-1 || principal.GreaterThan(balance) {
			principal = balance
		}
		rp.Principal.Due = rp.Principal.Paid.Add(principal.ClampZero())
		rp.Interest.Due = rp.Interest.Paid.Add(interest)
		balance = balance.Sub(principal.ClampZero())
		rp.BalanceAfter = balance
	}
}

// reduceInstallments keeps the installment amount from the original plan and
// lets the number of periods float. Trailing periods left with nothing due
// are dropped from the schedule.
func (re *RecalculationEngine) reduceInstallments(terms LoanTerms, periods []*RepaymentPeriod, future []*RepaymentPeriod, basis Money) []*RepaymentPeriod {
	rate := terms.ratePerPeriod()
	repayable := terms.NumberOfPeriods - terms.GracePrincipal
	installment := levelPayment(terms.Principal, rate, repayable)

	balance := basis
	used := 0
	for _, rp := range future {
		if !balance.IsPositive() {
			break
		}
		interest := balance.Mul(rate).Round()
		principal := installment.Sub(interest)
		if principal.GreaterThan(balance) || principal.IsNegative() {
			principal = balance
		}
		rp.Principal.Due = rp.Principal.Paid.Add(principal)
		rp.Interest.Due = rp.Interest.Paid.Add(interest)
		balance = balance.Sub(principal)
		rp.BalanceAfter = balance
		used++
	}

	if balance.IsPositive() {
		// Tail lengthens: extend the schedule until the balance clears.
		last := periods[len(periods)-1]
		n := last.Number
		prev := last.DueDate
		for balance.IsPositive() {
			n++
			due := terms.Frequency.Advance(prev, terms.RepaymentEvery)
			interest := balance.Mul(rate).Round()
			principal := installment.Sub(interest)
			if principal.GreaterThan(balance) || !principal.IsPositive() {
				principal = balance
			}
			rp := &RepaymentPeriod{
				Number: n, FromDate: prev, DueDate: due, OriginalDueDate: due,
			}
			rp.Principal.Due = principal
			rp.Interest.Due = interest
			balance = balance.Sub(principal)
			rp.BalanceAfter = balance
			periods = append(periods, rp)
			prev = due
		}
		return periods
	}

	// Tail shortens: zero out periods nothing is due on anymore and drop the
	// empty tail, keeping any period with payment history.
	for i := used; i < len(future); i++ {
		rp := future[i]
		if rp.TotalPaid().IsZero() && rp.TotalWaived().IsZero() && rp.TotalWrittenOff().IsZero() {
			rp.Principal.Due = rp.Principal.Due.Zero()
			rp.Interest.Due = rp.Interest.Due.Zero()
			rp.Fee.Due = rp.Fee.Due.Zero()
			rp.Penalty.Due = rp.Penalty.Due.Zero()
			rp.BalanceAfter = rp.BalanceAfter.Zero()
		}
	}
	for len(periods) > 1 {
		last := periods[len(periods)-1]
		if last.TotalDue().IsZero() && last.TotalPaid().IsZero() && last.TotalWaived().IsZero() && last.TotalWrittenOff().IsZero() {
			periods = periods[:len(periods)-1]
			continue
		}
		break
	}
	return periods
}

// rescheduleNext shifts the payment delta onto the immediately following
// period only; later periods keep their amortized dues where possible, with
// interest refreshed against the actual declining balance.
func (re *RecalculationEngine) rescheduleNext(terms LoanTerms, future []*RepaymentPeriod, basis Money) {
	rate := terms.ratePerPeriod()

	// Principal still scheduled beyond the next period.
	laterPrincipal := basis.Zero()
	for _, rp := range future[1:] {
		laterPrincipal = laterPrincipal.Add(rp.Principal.Outstanding())
	}

	next := future[0]
	nextPrincipal := basis.Sub(laterPrincipal).ClampZero()
	next.Principal.Due = next.Principal.Paid.Add(nextPrincipal)

	balance := basis
	for _, rp := range future {
		rp.Interest.Due = rp.Interest.Paid.Add(balance.Mul(rate).Round())
		balance = balance.Sub(rp.Principal.Outstanding())
		rp.BalanceAfter = balance
	}
}

// =============================================================================
// PREPAYMENT / PRE-CLOSE QUOTES
// =============================================================================

// PrepayQuote is what it takes to fully close the loan on a given date.
type PrepayQuote struct {
	AsOf      Date
	Principal Money
	Interest  Money
	Fee       Money
	Penalty   Money
	Total     Money
}

// PrepayAmount computes the payoff figure under the product's pre-close
// strategy: interest accrues either to the last rest date before asOf
// (rest_date) or to asOf itself (on_pre_close_date).
func (re *RecalculationEngine) PrepayAmount(terms LoanTerms, periods []*RepaymentPeriod, disbursedOn, asOf Date) PrepayQuote {
	principal := re.principalOutstanding(periods)
	fee := principal.Zero()
	penalty := principal.Zero()
	pastInterest := principal.Zero()

	var current *RepaymentPeriod
	for _, rp := range periods[1:] {
		fee = fee.Add(rp.Fee.Outstanding())
		penalty = penalty.Add(rp.Penalty.Outstanding())
		if rp.DueDate.BeforeOrEqual(asOf) {
			pastInterest = pastInterest.Add(rp.Interest.Outstanding())
		} else if current == nil {
			current = rp
		}
	}

	interest := pastInterest
	if current != nil {
		interestDate := asOf
		if terms.Recalculation.Preclose == PrecloseRestDate {
			interestDate = restDateOnOrBefore(terms.Recalculation.Rest, terms, disbursedOn, asOf)
		}
		days := DaysBetween(current.FromDate, interestDate)
		if days > 0 {
			total := terms.daysPerPeriod()
			accrued := current.Interest.Due.
				Mul(decimal.NewFromInt(int64(days))).
				Div(decimal.NewFromInt(int64(total))).Round()
			accrued = accrued.Min(current.Interest.Due)
			interest = interest.Add(accrued.Sub(current.Interest.Paid).ClampZero())
		}
	}

	total := principal.Add(interest).Add(fee).Add(penalty)
	return PrepayQuote{AsOf: asOf, Principal: principal, Interest: interest, Fee: fee, Penalty: penalty, Total: total}
}

// restDateOnOrBefore finds the last rest boundary at or before d. Boundaries
// are anchored on the disbursement date.
func restDateOnOrBefore(rest RestFrequency, terms LoanTerms, anchor, d Date) Date {
	switch rest {
	case RestDaily:
		return d
	case RestWeekly:
		cur := anchor
		for !cur.AddWeeks(1).After(d) {
			cur = cur.AddWeeks(1)
		}
		return cur
	default: // same as repayment
		cur := anchor
		for i := 1; ; i++ {
			next := terms.DueDateOf(anchor, i)
			if next.After(d) {
				return cur
			}
			cur = next
		}
	}
}

// =============================================================================
// ARREARS AGEING
// =============================================================================

// OverdueSince returns the date the loan fell into arrears, or nil if it is
// current. The anchor is the recalculated due date unless the product pins
// ageing to the original one. A reporting concern only: no money moves.
func OverdueSince(cfg RecalcConfig, periods []*RepaymentPeriod, asOf Date) *Date {
	for _, rp := range periods {
		if rp.Number == 0 {
			continue
		}
		if rp.IsOverdue(asOf) {
			d := rp.DueDate
			if cfg.AgeingOnOriginalDate {
				d = rp.OriginalDueDate
			}
			return &d
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func futurePeriods(periods []*RepaymentPeriod, asOf Date) []*RepaymentPeriod {
	var out []*RepaymentPeriod
	for _, rp := range periods {
		if rp.Number == 0 {
			continue
		}
		if rp.DueDate.After(asOf) && !rp.Principal.Outstanding().Add(rp.Interest.Outstanding()).IsZero() {
			out = append(out, rp)
		}
	}
	return out
}

func overdueComponent(periods []*RepaymentPeriod, asOf Date, f func(*RepaymentPeriod) Money) Money {
	total := periods[0].BalanceAfter.Zero()
	for _, rp := range periods[1:] {
		if rp.DueDate.BeforeOrEqual(asOf) {
			total = total.Add(f(rp))
		}
	}
	return total
}
