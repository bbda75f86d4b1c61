/*
charge.go - Charge definitions and the charge calculation engine

PURPOSE:
  Computes the monetary amount of a charge instance from its calculation
  type, time type, and the loan's current principal/interest. Charges with a
  percentage calculation type are recomputed whenever their basis changes
  (extra tranche, principal update); flat charges are touched only when
  explicitly edited.

BUCKETS:
  A charge flagged as penalty (and every overdue fee) flows into the
  "penalty" bucket of its period. Everything else is a "fee". The two
  buckets never mix.

INSTALLMENT FEES:
  An installment fee is spread evenly across the repayment periods, with the
  rounding remainder folded onto the final period so the charge total stays
  exact. The remainder placement is a policy point; see DESIGN.md.
*/
package loan

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN CHARGE
// =============================================================================

type LoanCharge struct {
	ID          ChargeID
	Name        string
	Calculation ChargeCalculation
	Time        ChargeTime
	Penalty     bool

	// AmountOrPercentage is the literal value for flat charges and the
	// percentage for the percent-based calculation types.
	AmountOrPercentage decimal.Decimal

	// DueDate applies to specified-due-date and overdue charges.
	DueDate Date

	// Amount is the computed total, derived from AmountOrPercentage and the
	// calculation basis.
	Amount Money

	// Derived payment state, rebuilt on every replay.
	Paid       Money
	Waived     Money
	WrittenOff Money

	// Waived charges stay attached; the flag mirrors the waive transaction.
	IsWaived bool
}

// Outstanding is the portion still owed.
func (c *LoanCharge) Outstanding() Money {
	return c.Amount.Sub(c.Paid).Sub(c.Waived).Sub(c.WrittenOff).ClampZero()
}

// IsFullySettled reports whether nothing remains outstanding.
func (c *LoanCharge) IsFullySettled() bool { return c.Outstanding().IsZero() }

func (c *LoanCharge) resetDerived() {
	c.Paid = c.Amount.Zero()
	c.Waived = c.Amount.Zero()
	c.WrittenOff = c.Amount.Zero()
	c.IsWaived = false
}

func (c *LoanCharge) clone() *LoanCharge {
	cp := *c
	return &cp
}

// =============================================================================
// CHARGE BASIS - Inputs for percentage calculations
// =============================================================================

// ChargeBasis carries the amounts a percentage charge is computed against.
// For whole-loan charges this is the disbursed principal and total scheduled
// interest; for installment fees, the per-period shares.
type ChargeBasis struct {
	Principal Money
	Interest  Money
	Periods   int
}

// =============================================================================
// CHARGE ENGINE
// =============================================================================

// ComputeChargeAmount evaluates the charge formula against the basis and
// rounds to the currency's decimal places.
func ComputeChargeAmount(c *LoanCharge, basis ChargeBasis) Money {
	cur := basis.Principal.Currency
	switch c.Calculation {
	case ChargeFlat:
		return NewMoneyFromDecimal(c.AmountOrPercentage, cur)
	case ChargePercentOfAmount:
		return basis.Principal.Percent(c.AmountOrPercentage)
	case ChargePercentOfInterest:
		return basis.Interest.Percent(c.AmountOrPercentage)
	case ChargePercentOfAmountAndInterest:
		return basis.Principal.Add(basis.Interest).Percent(c.AmountOrPercentage)
	default:
		return ZeroMoney(cur)
	}
}

// RecomputeCharges refreshes every percentage-based charge against a new
// basis. Flat charges keep their configured amount unless it was never set.
func RecomputeCharges(charges []*LoanCharge, basis ChargeBasis) {
	for _, c := range charges {
		if c.Calculation.IsPercentage() || c.Amount.Currency.Code == "" {
			c.Amount = ComputeChargeAmount(c, basis)
		}
	}
}

// InstallmentFeePortions spreads a per-installment charge over n periods.
// Each portion is rounded; the remainder lands on the final period so the
// sum equals the charge amount exactly.
func InstallmentFeePortions(c *LoanCharge, basis ChargeBasis) []Money {
	if basis.Periods <= 0 {
		return nil
	}
	switch c.Calculation {
	case ChargeFlat:
		// The configured amount is the total; distribute it.
		return NewMoneyFromDecimal(c.AmountOrPercentage, basis.Principal.Currency).SplitEvenly(basis.Periods)
	default:
		// Percentage installment fees are computed per period against the
		// period's principal/interest share by the schedule builder; here we
		// distribute the whole-loan amount as the fallback.
		return ComputeChargeAmount(c, basis).SplitEvenly(basis.Periods)
	}
}

// chargesDueAt returns the fee and penalty totals a set of charges
// contributes to the period with the given number and due-date range.
// Installment fees contribute their per-period portion; specified-due-date
// charges land on the period whose (from, due] window contains their due
// date, or the final period if they fall past the schedule.
func chargesDueAt(charges []*LoanCharge, basis ChargeBasis, periodNumber, lastPeriod int, from, due Date) (fee, penalty Money) {
	fee = ZeroMoney(basis.Principal.Currency)
	penalty = ZeroMoney(basis.Principal.Currency)

	add := func(c *LoanCharge, amt Money) {
		if c.Penalty || c.Time == ChargeOnOverdue {
			penalty = penalty.Add(amt)
		} else {
			fee = fee.Add(amt)
		}
	}

	for _, c := range charges {
		switch c.Time {
		case ChargeAtDisbursement:
			if periodNumber == 0 {
				add(c, c.Amount)
			}
		case ChargePerInstallment:
			if periodNumber >= 1 {
				portions := InstallmentFeePortions(c, basis)
				if periodNumber-1 < len(portions) {
					add(c, portions[periodNumber-1])
				}
			}
		case ChargeAtSpecifiedDueDate, ChargeOnOverdue:
			if periodNumber == 0 {
				continue
			}
			inWindow := c.DueDate.After(from) && c.DueDate.BeforeOrEqual(due)
			pastSchedule := periodNumber == lastPeriod && c.DueDate.After(due)
			if inWindow || pastSchedule {
				add(c, c.Amount)
			}
		}
	}
	return fee, penalty
}
