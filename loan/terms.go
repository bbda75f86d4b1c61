package loan

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN TERMS - Product configuration frozen onto an account at submission
// =============================================================================
//
// Terms are the pure inputs of the schedule builder. Everything derived
// (schedule, summary, charge amounts) must be recomputable from terms plus
// the transaction log.

type LoanTerms struct {
	Principal Money
	Currency  Currency

	// Interest
	InterestRatePerPeriod decimal.Decimal // percent per repayment period
	InterestMethod        InterestMethod

	// Term: NumberOfPeriods repayments, every RepaymentEvery Frequency units
	NumberOfPeriods int
	RepaymentEvery  int
	Frequency       PeriodFrequency

	Amortization AmortizationMethod

	// Moratorium: leading periods with suppressed dues. The periods stay in
	// the schedule; only their dues move.
	GracePrincipal int
	GraceInterest  int

	// ExpectedDisbursement anchors period 0 and the repayment cadence.
	ExpectedDisbursement Date

	// MultiTranche permits repeated disbursements topping up principal.
	MultiTranche bool

	// AllocationStrategy names the repayment allocation order ("default", "rbi").
	AllocationStrategy string

	Recalculation RecalcConfig
	Regime        AccountingRegime
}

// Validate checks structural soundness of the terms.
func (t LoanTerms) Validate() error {
	if !t.Principal.IsPositive() {
		return validationErr("loan.terms.principal", ErrNonPositiveAmount, "principal must be positive")
	}
	if t.NumberOfPeriods <= 0 {
		return validationErr("loan.terms.periods", ErrNonPositiveAmount, "number of periods must be positive")
	}
	if t.RepaymentEvery <= 0 {
		return validationErr("loan.terms.repayment-every", ErrNonPositiveAmount, "repayment interval must be positive")
	}
	if t.InterestRatePerPeriod.IsNegative() {
		return validationErr("loan.terms.rate", ErrNonPositiveAmount, "interest rate must not be negative")
	}
	if t.GracePrincipal >= t.NumberOfPeriods {
		return validationErr("loan.terms.grace", ErrNonPositiveAmount, "principal grace cannot cover every period")
	}
	return nil
}

// ratePerPeriod converts the percent rate to a decimal multiplier.
func (t LoanTerms) ratePerPeriod() decimal.Decimal {
	return t.InterestRatePerPeriod.Div(decimal.NewFromInt(100))
}

// DueDateOf returns the scheduled due date of period n (1-based), anchored
// on the disbursement date.
func (t LoanTerms) DueDateOf(disbursed Date, n int) Date {
	return t.Frequency.Advance(disbursed, n*t.RepaymentEvery)
}

// daysPerPeriod approximates the day count of one repayment period, used for
// daily interest accrual in prepayment quotes.
func (t LoanTerms) daysPerPeriod() int {
	switch t.Frequency {
	case FrequencyDays:
		return t.RepaymentEvery
	case FrequencyWeeks:
		return 7 * t.RepaymentEvery
	default:
		return 30 * t.RepaymentEvery
	}
}
