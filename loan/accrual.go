/*
accrual.go - Periodic income recognition

PURPOSE:
  Computes how much interest, fee, and penalty income has been earned but
  not yet recognized as of a business date, and records it as an accrual
  transaction. Accruals move no cash: they exist so the accounting poster
  can recognize income under the accrual regimes.

WHAT COUNTS AS EARNED:
  - Matured periods (due date on or before asOf): their full dues
  - The current period: interest pro-rated by elapsed days
  Fees and penalties are recognized when their period matures.

The job is idempotent per date: it recognizes only the gap between earned
and already-accrued, so running it twice on the same day records nothing
the second time.
*/
package loan

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccrualResult reports what one run recognized for one loan.
type AccrualResult struct {
	LoanID   LoanID
	AsOf     Date
	Interest Money
	Fee      Money
	Penalty  Money
	Recorded bool
}

// RunAccrual recognizes earned income on one loan up to asOf.
func (p *Processor) RunAccrual(ctx context.Context, id LoanID, asOf Date) (AccrualResult, error) {
	result := AccrualResult{LoanID: id, AsOf: asOf}

	_, err := p.mutate(ctx, id, asOf, func(a *LoanAccount) error {
		if a.Status != StatusActive && a.Status != StatusOverpaid {
			return nil // nothing to recognize; not an error for a batch job
		}
		if a.ChargedOff {
			// Income recognition stops at charge-off.
			return nil
		}

		interest, fee, penalty := earnedUnrecognized(a.Terms, a.Schedule, asOf)
		result.Interest = interest
		result.Fee = fee
		result.Penalty = penalty
		if interest.IsZero() && fee.IsZero() && penalty.IsZero() {
			return nil
		}

		tx := NewTransaction(TxAccrual, asOf, interest.Add(fee).Add(penalty))
		tx.InterestPortion = interest
		tx.FeePortion = fee
		tx.PenaltyPortion = penalty
		a.Transactions = append(a.Transactions, tx)
		result.Recorded = true
		return nil
	})
	if err != nil {
		return AccrualResult{}, err
	}
	return result, nil
}

// earnedUnrecognized is earned-to-date minus already-accrued, per component.
func earnedUnrecognized(terms LoanTerms, periods []*RepaymentPeriod, asOf Date) (interest, fee, penalty Money) {
	zero := ZeroMoney(terms.Currency)
	earnedInterest, earnedFee, earnedPenalty := zero, zero, zero
	accruedInterest, accruedFee, accruedPenalty := zero, zero, zero

	for _, rp := range periods {
		accruedInterest = accruedInterest.Add(rp.InterestAccrued)
		accruedFee = accruedFee.Add(rp.FeeAccrued)
		accruedPenalty = accruedPenalty.Add(rp.PenaltyAccrued)

		if rp.Number == 0 {
			// Disbursement-time fees are earned immediately.
			earnedFee = earnedFee.Add(rp.Fee.Due)
			earnedPenalty = earnedPenalty.Add(rp.Penalty.Due)
			continue
		}
		switch {
		case rp.DueDate.BeforeOrEqual(asOf):
			earnedInterest = earnedInterest.Add(rp.Interest.Due)
			earnedFee = earnedFee.Add(rp.Fee.Due)
			earnedPenalty = earnedPenalty.Add(rp.Penalty.Due)
		case rp.FromDate.Before(asOf):
			// Current period: interest accrues daily within the period.
			days := DaysBetween(rp.FromDate, asOf)
			total := terms.daysPerPeriod()
			if days > 0 && total > 0 {
				portion := rp.Interest.Due.
					Mul(decimal.NewFromInt(int64(days))).
					Div(decimal.NewFromInt(int64(total))).Round()
				earnedInterest = earnedInterest.Add(portion.Min(rp.Interest.Due))
			}
		}
	}

	interest = earnedInterest.Sub(accruedInterest).ClampZero()
	fee = earnedFee.Sub(accruedFee).ClampZero()
	penalty = earnedPenalty.Sub(accruedPenalty).ClampZero()
	return interest, fee, penalty
}
