package loan_test

import (
	"testing"
	"time"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// zeroRateSchedule builds a 1200/12m zero-rate plan disbursed Jan 1: 100
// principal due on the first of each month starting Feb 1.
func zeroRateSchedule() (loan.LoanTerms, []*loan.RepaymentPeriod) {
	terms := monthlyTerms(1200, 12, "0")
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))
	return terms, periods
}

func settlePeriod(rp *loan.RepaymentPeriod) {
	rp.Principal.Paid = rp.Principal.Due
	rp.Interest.Paid = rp.Interest.Due
	rp.Fee.Paid = rp.Fee.Due
	rp.Penalty.Paid = rp.Penalty.Due
}

// =============================================================================
// RESCHEDULE-NEXT STRATEGY
// =============================================================================

func TestRecalculate_RescheduleNext_MissedAmountLandsOnNextPeriod(t *testing.T) {
	// GIVEN: Period 1 entirely missed on a zero-rate plan
	// WHEN: Recalculating after its due date
	// THEN: Period 2 absorbs the missed 100, later periods keep their dues

	terms, periods := zeroRateSchedule()
	terms.Recalculation = loan.RecalcConfig{Enabled: true, Strategy: loan.RecalcRescheduleNext}

	re := &loan.RecalculationEngine{}
	periods = re.Recalculate(terms, periods, date(2025, time.February, 10))

	if !periods[1].Principal.Due.Equal(usd(100)) {
		t.Errorf("overdue period 1 due %s, must stay 100", periods[1].Principal.Due)
	}
	if !periods[2].Principal.Due.Equal(usd(200)) {
		t.Errorf("period 2 due %s, want 200 (own 100 + missed 100)", periods[2].Principal.Due)
	}
	if !periods[3].Principal.Due.Equal(usd(100)) {
		t.Errorf("period 3 due %s, must stay 100", periods[3].Principal.Due)
	}
}

// =============================================================================
// REDUCE-EMI AND TOP-UP
// =============================================================================

func TestTopUpPrincipal_ReamortizesFuturePeriods(t *testing.T) {
	// GIVEN: A 600 tranche on top of a fresh zero-rate 1200 plan
	// WHEN: Folding it in before the first due date
	// THEN: Every installment re-amortizes to 150 and the plan sums to 1800

	terms, periods := zeroRateSchedule()
	re := &loan.RecalculationEngine{}
	re.TopUpPrincipal(terms, periods, usd(600), date(2025, time.January, 15))

	if !periods[1].Principal.Due.Equal(usd(150)) {
		t.Errorf("period 1 due %s, want 150", periods[1].Principal.Due)
	}
	if !sumPrincipalDue(periods).Equal(usd(1800)) {
		t.Errorf("total principal due %s, want 1800", sumPrincipalDue(periods))
	}
	if !periods[12].BalanceAfter.IsZero() {
		t.Errorf("final balance %s, want zero", periods[12].BalanceAfter)
	}
}

func TestTopUpPrincipal_MaturedPeriodKeepsItsDue(t *testing.T) {
	// GIVEN: A 600 tranche landing exactly on period 1's due date
	// WHEN: Folding it in
	// THEN: Period 1 keeps its 100; only the 11 later periods share the
	//       tranche, and scheduled principal still sums to the 1800 drawn

	terms, periods := zeroRateSchedule()
	re := &loan.RecalculationEngine{}
	re.TopUpPrincipal(terms, periods, usd(600), date(2025, time.February, 1))

	if !periods[1].Principal.Due.Equal(usd(100)) {
		t.Errorf("period 1 due %s, must stay 100", periods[1].Principal.Due)
	}
	// 1100 future principal + 600 tranche over 11 periods: 154.55 each,
	// remainder on the last.
	if !periods[2].Principal.Due.Equal(usd(154.55)) {
		t.Errorf("period 2 due %s, want 154.55", periods[2].Principal.Due)
	}
	if !periods[12].Principal.Due.Equal(usd(154.50)) {
		t.Errorf("final period due %s, want 154.50", periods[12].Principal.Due)
	}
	if !sumPrincipalDue(periods).Equal(usd(1800)) {
		t.Errorf("total principal due %s, want 1800", sumPrincipalDue(periods))
	}
	if !periods[12].BalanceAfter.IsZero() {
		t.Errorf("final balance %s, want zero", periods[12].BalanceAfter)
	}
}

func TestRecalculate_ZeroBasis_ZeroesFutureDues(t *testing.T) {
	// Everything prepaid: remaining periods owe nothing.
	terms, periods := zeroRateSchedule()
	terms.Recalculation = loan.RecalcConfig{Enabled: true, Strategy: loan.RecalcReduceEMI}
	for _, rp := range periods[1:] {
		settlePeriod(rp)
	}

	re := &loan.RecalculationEngine{}
	periods = re.Recalculate(terms, periods, date(2025, time.March, 10))

	for _, rp := range periods[1:] {
		if !rp.TotalOutstanding().IsZero() {
			t.Errorf("period %d outstanding %s, want zero", rp.Number, rp.TotalOutstanding())
		}
	}
}

// =============================================================================
// REDUCE-INSTALLMENTS STRATEGY
// =============================================================================

func TestRecalculate_ReduceInstallments_PartialPayment_ExtendsTail(t *testing.T) {
	// GIVEN: Only 40 of the first 100 installment paid, installment held fixed
	// WHEN: Recalculating after the missed due date
	// THEN: The shortfall pushes a thirteenth period onto the schedule

	terms, periods := zeroRateSchedule()
	terms.Recalculation = loan.RecalcConfig{Enabled: true, Strategy: loan.RecalcReduceInstallments}
	periods[1].Principal.Paid = usd(40)

	re := &loan.RecalculationEngine{}
	periods = re.Recalculate(terms, periods, date(2025, time.February, 10))

	if len(periods) != 14 {
		t.Fatalf("schedule has %d periods, want 14", len(periods))
	}
	last := periods[len(periods)-1]
	if last.Number != 13 {
		t.Errorf("appended period number %d, want 13", last.Number)
	}
	if !last.Principal.Due.Equal(usd(60)) {
		t.Errorf("appended period due %s, want the 60 shortfall", last.Principal.Due)
	}
	if !last.DueDate.Equal(date(2026, time.February, 1)) {
		t.Errorf("appended due date %s, want 2026-02-01", last.DueDate)
	}
}

func TestRecalculate_ReduceEMI_SpreadsShortfallOverRemainingPeriods(t *testing.T) {
	// GIVEN: The same 60 shortfall under the reduce-EMI strategy
	// WHEN: Recalculating
	// THEN: The period count holds and every remaining installment absorbs a share

	terms, periods := zeroRateSchedule()
	terms.Recalculation = loan.RecalcConfig{Enabled: true, Strategy: loan.RecalcReduceEMI}
	periods[1].Principal.Paid = usd(40)

	re := &loan.RecalculationEngine{}
	periods = re.Recalculate(terms, periods, date(2025, time.February, 10))

	if len(periods) != 13 {
		t.Fatalf("schedule has %d periods, want 13", len(periods))
	}
	// 1160 outstanding over 11 periods: 105.45 each, remainder on the last.
	if !periods[2].Principal.Due.Equal(usd(105.45)) {
		t.Errorf("period 2 due %s, want 105.45", periods[2].Principal.Due)
	}
	if !periods[12].Principal.Due.Equal(usd(105.50)) {
		t.Errorf("final period due %s, want 105.50", periods[12].Principal.Due)
	}
	if !sumPrincipalDue(periods[2:]).Equal(usd(1160)) {
		t.Errorf("future principal dues sum to %s, want 1160", sumPrincipalDue(periods[2:]))
	}
}

// =============================================================================
// PAYOFF QUOTES
// =============================================================================

func TestPrepayAmount_ProratesCurrentPeriodInterest(t *testing.T) {
	// GIVEN: A flat 1000/2m @1% loan, period 1 matured unpaid, mid period 2
	// WHEN: Quoting payoff on Feb 16 under the on-date strategy
	// THEN: 1000 principal + 10 past interest + 5 for 15 of 30 elapsed days

	terms := flatTerms(1000, 2, "1")
	terms.Recalculation.Preclose = loan.PrecloseOnDate
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))

	re := &loan.RecalculationEngine{}
	quote := re.PrepayAmount(terms, periods, date(2025, time.January, 1), date(2025, time.February, 16))

	if !quote.Principal.Equal(usd(1000)) {
		t.Errorf("principal %s, want 1000", quote.Principal)
	}
	if !quote.Interest.Equal(usd(15)) {
		t.Errorf("interest %s, want 15", quote.Interest)
	}
	if !quote.Total.Equal(usd(1015)) {
		t.Errorf("total %s, want 1015", quote.Total)
	}
}

func TestPrepayAmount_RestDateStrategy_StopsAtLastRestBoundary(t *testing.T) {
	// GIVEN: The same loan under the rest-date strategy with monthly rests
	// WHEN: Quoting mid-period
	// THEN: Interest runs only to the Feb 1 boundary, so no current accrual

	terms := flatTerms(1000, 2, "1")
	terms.Recalculation.Preclose = loan.PrecloseRestDate
	terms.Recalculation.Rest = loan.RestSameAsRepayment
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))

	re := &loan.RecalculationEngine{}
	quote := re.PrepayAmount(terms, periods, date(2025, time.January, 1), date(2025, time.February, 16))

	if !quote.Interest.Equal(usd(10)) {
		t.Errorf("interest %s, want 10 (matured period only)", quote.Interest)
	}
	if !quote.Total.Equal(usd(1010)) {
		t.Errorf("total %s, want 1010", quote.Total)
	}
}

func TestPrepayAmount_IncludesOutstandingFeesAndPenalties(t *testing.T) {
	terms, periods := zeroRateSchedule()
	periods[2].Fee.Due = usd(25)
	periods[3].Penalty.Due = usd(40)

	re := &loan.RecalculationEngine{}
	quote := re.PrepayAmount(terms, periods, date(2025, time.January, 1), date(2025, time.January, 20))

	if !quote.Fee.Equal(usd(25)) {
		t.Errorf("fee %s, want 25", quote.Fee)
	}
	if !quote.Penalty.Equal(usd(40)) {
		t.Errorf("penalty %s, want 40", quote.Penalty)
	}
	if !quote.Total.Equal(usd(1265)) {
		t.Errorf("total %s, want 1265", quote.Total)
	}
}

// =============================================================================
// ARREARS AGEING
// =============================================================================

func TestOverdueSince_AnchorsOnConfiguredDueDate(t *testing.T) {
	// GIVEN: A period pushed from Feb 1 to Mar 1 by recalculation, still unpaid
	// WHEN: Asking when the loan fell into arrears
	// THEN: The recalculated date by default, the original when ageing is pinned

	rp := &loan.RepaymentPeriod{
		Number:          1,
		DueDate:         date(2025, time.March, 1),
		OriginalDueDate: date(2025, time.February, 1),
	}
	rp.Principal.Due = usd(100)
	periods := []*loan.RepaymentPeriod{{Number: 0}, rp}
	asOf := date(2025, time.April, 1)

	since := loan.OverdueSince(loan.RecalcConfig{}, periods, asOf)
	if since == nil || !since.Equal(date(2025, time.March, 1)) {
		t.Errorf("overdue since %v, want 2025-03-01", since)
	}

	since = loan.OverdueSince(loan.RecalcConfig{AgeingOnOriginalDate: true}, periods, asOf)
	if since == nil || !since.Equal(date(2025, time.February, 1)) {
		t.Errorf("overdue since %v, want 2025-02-01", since)
	}
}

func TestOverdueSince_CurrentLoanReturnsNil(t *testing.T) {
	_, periods := zeroRateSchedule()
	if since := loan.OverdueSince(loan.RecalcConfig{}, periods, date(2025, time.January, 20)); since != nil {
		t.Errorf("current loan reported overdue since %s", since)
	}
}
