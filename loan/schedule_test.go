package loan_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func usd(n float64) loan.Money {
	return loan.NewMoney(n, loan.USD)
}

func date(year int, month time.Month, day int) loan.Date {
	return loan.NewDate(year, month, day)
}

func pct(s string) decimal.Decimal {
	return loan.MustParseDecimal(s)
}

// monthlyTerms is a plain monthly loan with no charges and no recalculation.
func monthlyTerms(principal float64, periods int, ratePercent string) loan.LoanTerms {
	return loan.LoanTerms{
		Principal:             usd(principal),
		Currency:              loan.USD,
		InterestRatePerPeriod: pct(ratePercent),
		InterestMethod:        loan.InterestDecliningBalance,
		NumberOfPeriods:       periods,
		RepaymentEvery:        1,
		Frequency:             loan.FrequencyMonths,
		Amortization:          loan.AmortizeEqualInstallments,
	}
}

func sumPrincipalDue(periods []*loan.RepaymentPeriod) loan.Money {
	total := usd(0)
	for _, rp := range periods {
		total = total.Add(rp.Principal.Due)
	}
	return total
}

func sumInterestDue(periods []*loan.RepaymentPeriod) loan.Money {
	total := usd(0)
	for _, rp := range periods {
		total = total.Add(rp.Interest.Due)
	}
	return total
}

// =============================================================================
// SCHEDULE SHAPE
// =============================================================================

func TestBuildSchedule_PeriodCountAndDates(t *testing.T) {
	// GIVEN: A 12-month loan disbursed on Jan 15
	// WHEN: Building the schedule
	// THEN: 13 periods (period 0 + 12 installments), due dates one month apart

	terms := monthlyTerms(12000, 12, "1")
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 15))

	if len(periods) != 13 {
		t.Fatalf("expected 13 periods, got %d", len(periods))
	}
	if periods[0].Number != 0 {
		t.Errorf("expected period 0 first, got %d", periods[0].Number)
	}
	if !periods[1].DueDate.Equal(date(2025, time.February, 15)) {
		t.Errorf("expected first due date 2025-02-15, got %s", periods[1].DueDate)
	}
	if !periods[12].DueDate.Equal(date(2026, time.January, 15)) {
		t.Errorf("expected last due date 2026-01-15, got %s", periods[12].DueDate)
	}
	for i := 1; i < len(periods); i++ {
		if !periods[i].FromDate.Equal(periods[i-1].DueDate) {
			t.Errorf("period %d from date %s does not chain to previous due date %s",
				i, periods[i].FromDate, periods[i-1].DueDate)
		}
	}
}

func TestBuildSchedule_EqualInstallments_PrincipalSumsExactly(t *testing.T) {
	// GIVEN: A declining-balance loan with a level payment
	// WHEN: Building the schedule
	// THEN: Principal dues sum to the principal exactly and the balance lands on zero

	terms := monthlyTerms(10000, 12, "1")
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.March, 1))

	if !sumPrincipalDue(periods).Equal(usd(10000)) {
		t.Errorf("principal dues sum to %s, want 10000", sumPrincipalDue(periods))
	}
	last := periods[len(periods)-1]
	if !last.BalanceAfter.IsZero() {
		t.Errorf("final balance %s, want zero", last.BalanceAfter)
	}

	// Interest declines with the balance.
	for i := 2; i < len(periods); i++ {
		if periods[i].Interest.Due.GreaterThan(periods[i-1].Interest.Due) {
			t.Errorf("period %d interest %s exceeds period %d interest %s",
				i, periods[i].Interest.Due, i-1, periods[i-1].Interest.Due)
		}
	}
}

func TestBuildSchedule_EqualPrincipal(t *testing.T) {
	// GIVEN: Equal-principal amortization, 1200 over 12 months at 1%
	// WHEN: Building the schedule
	// THEN: Every period carries 100 principal; interest follows the declining balance

	terms := monthlyTerms(1200, 12, "1")
	terms.Amortization = loan.AmortizeEqualPrincipal
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))

	for i := 1; i <= 12; i++ {
		if !periods[i].Principal.Due.Equal(usd(100)) {
			t.Errorf("period %d principal %s, want 100", i, periods[i].Principal.Due)
		}
	}
	if !periods[1].Interest.Due.Equal(usd(12)) {
		t.Errorf("period 1 interest %s, want 12", periods[1].Interest.Due)
	}
	if !periods[2].Interest.Due.Equal(usd(11)) {
		t.Errorf("period 2 interest %s, want 11", periods[2].Interest.Due)
	}
	if !periods[12].Interest.Due.Equal(usd(1)) {
		t.Errorf("period 12 interest %s, want 1", periods[12].Interest.Due)
	}
}

func TestBuildSchedule_FlatInterest_SameEveryPeriod(t *testing.T) {
	// GIVEN: A flat-rate loan: interest always on the original principal
	// WHEN: Building the schedule
	// THEN: Every period carries principal * rate

	terms := monthlyTerms(1000, 10, "1.5")
	terms.InterestMethod = loan.InterestFlat
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))

	for i := 1; i <= 10; i++ {
		if !periods[i].Interest.Due.Equal(usd(15)) {
			t.Errorf("period %d interest %s, want 15", i, periods[i].Interest.Due)
		}
		if !periods[i].Principal.Due.Equal(usd(100)) {
			t.Errorf("period %d principal %s, want 100", i, periods[i].Principal.Due)
		}
	}
}

func TestBuildSchedule_ZeroRate_EvenSplit(t *testing.T) {
	// GIVEN: A zero-interest loan
	// WHEN: Building the schedule
	// THEN: Principal splits evenly, no interest anywhere

	terms := monthlyTerms(1200, 12, "0")
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))

	for i := 1; i <= 12; i++ {
		if !periods[i].Principal.Due.Equal(usd(100)) {
			t.Errorf("period %d principal %s, want 100", i, periods[i].Principal.Due)
		}
		if !periods[i].Interest.Due.IsZero() {
			t.Errorf("period %d interest %s, want zero", i, periods[i].Interest.Due)
		}
	}
}

// =============================================================================
// GRACE PERIODS
// =============================================================================

func TestBuildSchedule_PrincipalGrace_SuppressesEarlyPrincipal(t *testing.T) {
	// GIVEN: A 12-month loan with a 3-period principal moratorium
	// WHEN: Building the schedule
	// THEN: Periods 1-3 carry no principal; the full principal amortizes over 4-12

	terms := monthlyTerms(9000, 12, "1")
	terms.GracePrincipal = 3
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))

	if len(periods) != 13 {
		t.Fatalf("grace must not remove periods: got %d", len(periods))
	}
	for i := 1; i <= 3; i++ {
		if !periods[i].Principal.Due.IsZero() {
			t.Errorf("period %d principal %s during moratorium, want zero", i, periods[i].Principal.Due)
		}
		if periods[i].Interest.Due.IsZero() {
			t.Errorf("period %d interest should still accrue during principal grace", i)
		}
	}
	if !sumPrincipalDue(periods).Equal(usd(9000)) {
		t.Errorf("principal dues sum to %s, want 9000", sumPrincipalDue(periods))
	}
}

func TestBuildSchedule_InterestGrace_ZeroesEarlyInterest(t *testing.T) {
	// GIVEN: A loan with a 2-period interest moratorium
	// WHEN: Building the schedule
	// THEN: Periods 1-2 carry no interest

	terms := monthlyTerms(1200, 12, "1")
	terms.GraceInterest = 2
	periods := loan.BuildSchedule(terms, nil, terms.Principal, date(2025, time.January, 1))

	for i := 1; i <= 2; i++ {
		if !periods[i].Interest.Due.IsZero() {
			t.Errorf("period %d interest %s during moratorium, want zero", i, periods[i].Interest.Due)
		}
	}
	if periods[3].Interest.Due.IsZero() {
		t.Error("period 3 interest should resume after moratorium")
	}
}

// =============================================================================
// CHARGES ON THE SCHEDULE
// =============================================================================

func TestBuildSchedule_DisbursementFee_LandsOnPeriodZero(t *testing.T) {
	// GIVEN: A 1% processing fee due at disbursement
	// WHEN: Building the schedule for 12000
	// THEN: Period 0 carries a 120 fee; no other period carries fees

	terms := monthlyTerms(12000, 12, "1")
	fee := &loan.LoanCharge{
		ID:                 "fee-1",
		Name:               "Processing fee",
		Calculation:        loan.ChargePercentOfAmount,
		Time:               loan.ChargeAtDisbursement,
		AmountOrPercentage: pct("1"),
	}
	periods := loan.BuildSchedule(terms, []*loan.LoanCharge{fee}, terms.Principal, date(2025, time.January, 1))

	if !periods[0].Fee.Due.Equal(usd(120)) {
		t.Errorf("period 0 fee %s, want 120", periods[0].Fee.Due)
	}
	for i := 1; i < len(periods); i++ {
		if !periods[i].Fee.Due.IsZero() {
			t.Errorf("period %d fee %s, want zero", i, periods[i].Fee.Due)
		}
	}
	if !fee.Amount.Equal(usd(120)) {
		t.Errorf("computed charge amount %s, want 120", fee.Amount)
	}
}

func TestBuildSchedule_InstallmentFee_SpreadsEvenly(t *testing.T) {
	// GIVEN: A flat 120 installment fee over 12 periods
	// WHEN: Building the schedule
	// THEN: Each installment carries 10; the total is exact

	terms := monthlyTerms(6000, 12, "1")
	fee := &loan.LoanCharge{
		ID:                 "fee-1",
		Name:               "Service fee",
		Calculation:        loan.ChargeFlat,
		Time:               loan.ChargePerInstallment,
		AmountOrPercentage: pct("120"),
	}
	periods := loan.BuildSchedule(terms, []*loan.LoanCharge{fee}, terms.Principal, date(2025, time.January, 1))

	total := usd(0)
	for i := 1; i <= 12; i++ {
		if !periods[i].Fee.Due.Equal(usd(10)) {
			t.Errorf("period %d fee %s, want 10", i, periods[i].Fee.Due)
		}
		total = total.Add(periods[i].Fee.Due)
	}
	if !total.Equal(usd(120)) {
		t.Errorf("installment fees sum to %s, want 120", total)
	}
}

func TestBuildSchedule_OverdueCharge_RoutesToPenaltyBucket(t *testing.T) {
	// GIVEN: A flat overdue fee dated inside period 2
	// WHEN: Building the schedule
	// THEN: It lands in period 2's penalty bucket, not the fee bucket

	terms := monthlyTerms(1200, 12, "1")
	lateFee := &loan.LoanCharge{
		ID:                 "late-1",
		Name:               "Late fee",
		Calculation:        loan.ChargeFlat,
		Time:               loan.ChargeOnOverdue,
		Penalty:            true,
		AmountOrPercentage: pct("25"),
		DueDate:            date(2025, time.February, 20),
	}
	periods := loan.BuildSchedule(terms, []*loan.LoanCharge{lateFee}, terms.Principal, date(2025, time.January, 1))

	if !periods[2].Penalty.Due.Equal(usd(25)) {
		t.Errorf("period 2 penalty %s, want 25", periods[2].Penalty.Due)
	}
	if !periods[2].Fee.Due.IsZero() {
		t.Errorf("period 2 fee %s, want zero", periods[2].Fee.Due)
	}
}

// =============================================================================
// DUE == PAID + WAIVED + WRITTEN OFF + OUTSTANDING
// =============================================================================

func TestPortionState_OutstandingIsDerived(t *testing.T) {
	// GIVEN: A portion with payments and waivers against it
	// WHEN: Reading outstanding
	// THEN: The component identity holds

	p := loan.PortionState{Due: usd(100), Paid: usd(40), Waived: usd(10)}
	if !p.Outstanding().Equal(usd(50)) {
		t.Errorf("outstanding %s, want 50", p.Outstanding())
	}
	sum := p.Paid.Add(p.Waived).Add(p.WrittenOff).Add(p.Outstanding())
	if !sum.Equal(p.Due) {
		t.Errorf("identity broken: %s != %s", sum, p.Due)
	}
}
