package accounting_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/accounting"
	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestPoster() (*accounting.Poster, *accounting.MemoryJournal) {
	journal := accounting.NewMemoryJournal()
	return accounting.NewPoster(accounting.DefaultChart, journal), journal
}

func usd(n float64) loan.Money {
	return loan.NewMoney(n, loan.USD)
}

func testAccount(regime loan.AccountingRegime) *loan.LoanAccount {
	return &loan.LoanAccount{
		ID: loan.LoanID("loan-1"),
		Terms: loan.LoanTerms{
			Regime:   regime,
			Currency: loan.USD,
		},
	}
}

func repaymentTx(amount, principal, interest float64) *loan.LoanTransaction {
	tx := loan.NewTransaction(loan.TxRepayment, loan.NewDate(2025, time.February, 1), usd(amount))
	tx.PrincipalPortion = usd(principal)
	tx.InterestPortion = usd(interest)
	tx.FeePortion = usd(0)
	tx.PenaltyPortion = usd(0)
	tx.OverpaymentPortion = usd(0)
	return tx
}

func sumSide(entries []accounting.JournalEntry, side accounting.EntryType) loan.Money {
	total := usd(0)
	for _, e := range entries {
		if e.Type == side {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func byAccount(entries []accounting.JournalEntry, account accounting.GLAccount) []accounting.JournalEntry {
	var out []accounting.JournalEntry
	for _, e := range entries {
		if e.Account == account {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// REGIME GATING
// =============================================================================

func TestPost_RegimeNone_WritesNothing(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeNone)
	tx := loan.NewTransaction(loan.TxDisbursement, loan.NewDate(2025, time.January, 1), usd(1000))

	err := poster.Post(context.Background(), a, tx)
	require.NoError(t, err)

	entries, err := journal.ByLoan(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPost_Accrual_OnlyUnderPeriodicRegime(t *testing.T) {
	for _, regime := range []loan.AccountingRegime{loan.RegimeCashBased, loan.RegimeAccrualUpfront} {
		poster, journal := newTestPoster()
		a := testAccount(regime)
		tx := loan.NewTransaction(loan.TxAccrual, loan.NewDate(2025, time.February, 1), usd(10))
		tx.InterestPortion = usd(10)

		require.NoError(t, poster.Post(context.Background(), a, tx))
		entries, _ := journal.ByLoan(context.Background(), a.ID)
		assert.Empty(t, entries, "regime %s must not post accruals", regime)
	}

	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeAccrualPeriodic)
	tx := loan.NewTransaction(loan.TxAccrual, loan.NewDate(2025, time.February, 1), usd(10))
	tx.InterestPortion = usd(10)

	require.NoError(t, poster.Post(context.Background(), a, tx))
	entries, _ := journal.ByLoan(context.Background(), a.ID)
	require.Len(t, entries, 2)

	chart := accounting.DefaultChart
	debits := byAccount(entries, chart.InterestReceivable)
	credits := byAccount(entries, chart.InterestIncome)
	require.Len(t, debits, 1)
	require.Len(t, credits, 1)
	assert.Equal(t, accounting.Debit, debits[0].Type)
	assert.Equal(t, accounting.Credit, credits[0].Type)
	assert.True(t, debits[0].Amount.Equal(usd(10)))
}

// =============================================================================
// DISBURSEMENT
// =============================================================================

func TestPost_Disbursement_CashBased_TwoBalancedLines(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := loan.NewTransaction(loan.TxDisbursement, loan.NewDate(2025, time.January, 1), usd(1000))

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, err := journal.ByTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	chart := accounting.DefaultChart
	portfolio := byAccount(entries, chart.LoanPortfolio)
	fund := byAccount(entries, chart.FundSource)
	require.Len(t, portfolio, 1)
	require.Len(t, fund, 1)
	assert.Equal(t, accounting.Debit, portfolio[0].Type)
	assert.Equal(t, accounting.Credit, fund[0].Type)
	assert.True(t, sumSide(entries, accounting.Debit).Equal(sumSide(entries, accounting.Credit)))
}

func TestPost_Disbursement_UpfrontAccrual_RecognizesScheduledIncome(t *testing.T) {
	// GIVEN: An upfront-accrual loan with 120 scheduled interest and a 50 fee
	// WHEN: Posting the disbursement
	// THEN: Both income streams are recognized alongside the principal movement

	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeAccrualUpfront)
	a.Summary.InterestCharged = usd(120)
	a.Summary.FeeChargesDue = usd(50)
	a.Summary.PenaltyChargesDue = usd(0)
	tx := loan.NewTransaction(loan.TxDisbursement, loan.NewDate(2025, time.January, 1), usd(1000))

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	require.Len(t, entries, 6)

	chart := accounting.DefaultChart
	interest := byAccount(entries, chart.InterestIncome)
	require.Len(t, interest, 1)
	assert.Equal(t, accounting.Credit, interest[0].Type)
	assert.True(t, interest[0].Amount.Equal(usd(120)))

	fees := byAccount(entries, chart.FeeIncome)
	require.Len(t, fees, 1)
	assert.True(t, fees[0].Amount.Equal(usd(50)))

	assert.Empty(t, byAccount(entries, chart.PenaltyIncome))
	assert.True(t, sumSide(entries, accounting.Debit).Equal(sumSide(entries, accounting.Credit)))
}

// =============================================================================
// REPAYMENT
// =============================================================================

func TestPost_Repayment_CashBased_CreditsIncomeDirectly(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := repaymentTx(110, 100, 10)

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	require.Len(t, entries, 3)

	chart := accounting.DefaultChart
	fund := byAccount(entries, chart.FundSource)
	require.Len(t, fund, 1)
	assert.Equal(t, accounting.Debit, fund[0].Type)
	assert.True(t, fund[0].Amount.Equal(usd(110)))

	income := byAccount(entries, chart.InterestIncome)
	require.Len(t, income, 1, "cash regime credits income when cash arrives")
	assert.True(t, income[0].Amount.Equal(usd(10)))
	assert.Empty(t, byAccount(entries, chart.InterestReceivable))
}

func TestPost_Repayment_AccrualRegime_CollectsReceivable(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeAccrualPeriodic)
	tx := repaymentTx(110, 100, 10)

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	chart := accounting.DefaultChart
	receivable := byAccount(entries, chart.InterestReceivable)
	require.Len(t, receivable, 1, "accrual regime collects the receivable, not income")
	assert.Equal(t, accounting.Credit, receivable[0].Type)
	assert.Empty(t, byAccount(entries, chart.InterestIncome))
}

func TestPost_Repayment_OverpaymentPortion_BooksLiability(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := repaymentTx(150, 100, 0)
	tx.OverpaymentPortion = usd(50)

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	liability := byAccount(entries, accounting.DefaultChart.OverpaymentLiability)
	require.Len(t, liability, 1)
	assert.Equal(t, accounting.Credit, liability[0].Type)
	assert.True(t, liability[0].Amount.Equal(usd(50)))
}

// =============================================================================
// WAIVE AND CHARGE-OFF
// =============================================================================

func TestPost_Waive_CashBased_NothingToBackOut(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := loan.NewTransaction(loan.TxWaiveCharge, loan.NewDate(2025, time.February, 1), usd(25))
	tx.FeePortion = usd(25)

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, _ := journal.ByLoan(context.Background(), a.ID)
	assert.Empty(t, entries, "cash regime never recognized the fee, so nothing reverses")
}

func TestPost_Waive_AccrualRegime_MovesReceivableToExpense(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeAccrualPeriodic)
	tx := loan.NewTransaction(loan.TxWaiveCharge, loan.NewDate(2025, time.February, 1), usd(25))
	tx.PenaltyPortion = usd(25)

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	require.Len(t, entries, 2)

	chart := accounting.DefaultChart
	expense := byAccount(entries, chart.WaiveExpense)
	receivable := byAccount(entries, chart.PenaltyReceivable)
	require.Len(t, expense, 1)
	require.Len(t, receivable, 1)
	assert.Equal(t, accounting.Debit, expense[0].Type)
	assert.Equal(t, accounting.Credit, receivable[0].Type)
}

func TestPost_ChargeOff_MovesPortfolioToWriteOffExpense(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := loan.NewTransaction(loan.TxChargeOff, loan.NewDate(2025, time.March, 1), usd(1000))
	tx.PrincipalPortion = usd(1000)

	require.NoError(t, poster.Post(context.Background(), a, tx))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	require.Len(t, entries, 2)

	chart := accounting.DefaultChart
	expense := byAccount(entries, chart.WriteOffExpense)
	require.Len(t, expense, 1)
	assert.Equal(t, accounting.Debit, expense[0].Type)
	assert.True(t, expense[0].Amount.Equal(usd(1000)))
	portfolio := byAccount(entries, chart.LoanPortfolio)
	require.Len(t, portfolio, 1)
	assert.Equal(t, accounting.Credit, portfolio[0].Type)
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestReverse_MirrorsEveryLineOnce(t *testing.T) {
	// GIVEN: A posted repayment
	// WHEN: Reversing it twice
	// THEN: Exactly one mirror per original line; the journal stays balanced

	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := repaymentTx(110, 100, 10)
	require.NoError(t, poster.Post(context.Background(), a, tx))

	reversalDate := loan.NewDate(2025, time.February, 5)
	require.NoError(t, poster.Reverse(context.Background(), tx.ID, reversalDate))
	require.NoError(t, poster.Reverse(context.Background(), tx.ID, reversalDate))

	entries, err := journal.ByTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Len(t, entries, 6, "3 original lines + 3 mirrors, second reversal is a no-op")

	var mirrors int
	for _, e := range entries {
		if e.Reversal {
			mirrors++
			assert.NotEmpty(t, e.ReversalOf)
			assert.True(t, e.Date.Equal(reversalDate))
		}
	}
	assert.Equal(t, 3, mirrors)
	assert.True(t, sumSide(entries, accounting.Debit).Equal(sumSide(entries, accounting.Credit)))
}

func TestRepost_ReplacesStaleLinesAfterPortionsChange(t *testing.T) {
	// GIVEN: A posted repayment whose portions later shift during a replay
	// WHEN: Reposting it
	// THEN: Stale lines are mirrored out and the recomputed ones take over

	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := repaymentTx(100, 88, 12)
	require.NoError(t, poster.Post(context.Background(), a, tx))

	tx.PrincipalPortion = usd(94.62)
	tx.InterestPortion = usd(5.38)
	repostDate := loan.NewDate(2025, time.February, 10)
	require.NoError(t, poster.Repost(context.Background(), a, tx, repostDate))

	entries, err := journal.ByTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Len(t, entries, 9, "3 original lines + 3 mirrors + 3 recomputed")

	mirrored := make(map[string]bool)
	for _, e := range entries {
		if e.Reversal {
			mirrored[e.ReversalOf] = true
		}
	}
	var live []accounting.JournalEntry
	for _, e := range byAccount(entries, accounting.DefaultChart.InterestIncome) {
		if !e.Reversal && !mirrored[e.ID] {
			live = append(live, e)
		}
	}
	require.Len(t, live, 1)
	assert.True(t, live[0].Amount.Equal(usd(5.38)), "live interest line %s, want 5.38", live[0].Amount)
	assert.True(t, sumSide(entries, accounting.Debit).Equal(sumSide(entries, accounting.Credit)))
}

func TestRepost_UnchangedPortions_NoOp(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := repaymentTx(110, 100, 10)
	require.NoError(t, poster.Post(context.Background(), a, tx))

	require.NoError(t, poster.Repost(context.Background(), a, tx, loan.NewDate(2025, time.February, 10)))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	assert.Len(t, entries, 3, "unchanged portions leave the journal alone")
}

func TestReverse_SwapsDebitAndCredit(t *testing.T) {
	poster, journal := newTestPoster()
	a := testAccount(loan.RegimeCashBased)
	tx := loan.NewTransaction(loan.TxDisbursement, loan.NewDate(2025, time.January, 1), usd(1000))
	require.NoError(t, poster.Post(context.Background(), a, tx))
	require.NoError(t, poster.Reverse(context.Background(), tx.ID, loan.NewDate(2025, time.January, 2)))

	entries, _ := journal.ByTransaction(context.Background(), tx.ID)
	chart := accounting.DefaultChart
	portfolio := byAccount(entries, chart.LoanPortfolio)
	require.Len(t, portfolio, 2)
	assert.NotEqual(t, portfolio[0].Type, portfolio[1].Type, "mirror flips the side")
	assert.True(t, portfolio[0].Amount.Equal(portfolio[1].Amount))
}
