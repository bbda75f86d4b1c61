/*
poster.go - Posting rules per accounting regime

PURPOSE:
  The Poster turns one loan transaction into balanced journal lines and
  appends them to the journal store. Reversal writes mirror lines for the
  original posting; nothing is ever deleted or edited.

POSTING RULES:
  disbursement   debit portfolio, credit fund source; under upfront
                 accrual all scheduled income is recognized immediately
  repayment      debit fund source for the cash; credit portfolio for
                 principal and income/receivable accounts per regime
  waive          accrual regimes move the receivable to waive expense;
                 cash regime recognized nothing, so nothing is backed out
  accrual        debit receivables, credit income (periodic regime only)
  charge-off     written-off balances move to write-off expense
  refunds        debit the overpayment liability, credit fund source
*/
package accounting

import (
	"context"
	"fmt"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// JOURNAL STORE
// =============================================================================

// JournalStore persists journal lines. Append-only.
type JournalStore interface {
	Append(ctx context.Context, entries []JournalEntry) error
	ByTransaction(ctx context.Context, txID loan.TransactionID) ([]JournalEntry, error)
	ByLoan(ctx context.Context, loanID loan.LoanID) ([]JournalEntry, error)
}

// =============================================================================
// POSTER
// =============================================================================

type Poster struct {
	chart ChartOfAccounts
	store JournalStore
}

func NewPoster(chart ChartOfAccounts, store JournalStore) *Poster {
	return &Poster{chart: chart, store: store}
}

// Post records the journal impact of one committed loan transaction.
func (p *Poster) Post(ctx context.Context, a *loan.LoanAccount, tx *loan.LoanTransaction) error {
	if a.Terms.Regime == loan.RegimeNone {
		return nil
	}
	entries := p.entriesFor(a, tx)
	if len(entries) == 0 {
		return nil
	}
	if err := checkBalanced(entries); err != nil {
		return err
	}
	return p.store.Append(ctx, entries)
}

// Reverse mirrors every original line posted for the transaction. Calling
// it again finds nothing left to mirror, so it is idempotent.
func (p *Poster) Reverse(ctx context.Context, txID loan.TransactionID, date loan.Date) error {
	existing, err := p.store.ByTransaction(ctx, txID)
	if err != nil {
		return err
	}
	mirrored := make(map[string]bool)
	for _, e := range existing {
		if e.Reversal {
			mirrored[e.ReversalOf] = true
		}
	}
	var mirrors []JournalEntry
	for _, e := range existing {
		if !e.Reversal && !mirrored[e.ID] {
			mirrors = append(mirrors, e.Mirror(date))
		}
	}
	if len(mirrors) == 0 {
		return nil
	}
	return p.store.Append(ctx, mirrors)
}

// Repost reconciles the journal for a transaction whose portions changed
// during a replay. Stale live lines are mirrored out and the recomputed lines
// posted in their place. A no-op when the recorded lines already match, so
// it is safe to call for every replayed transaction.
func (p *Poster) Repost(ctx context.Context, a *loan.LoanAccount, tx *loan.LoanTransaction, date loan.Date) error {
	if a.Terms.Regime == loan.RegimeNone {
		return nil
	}
	existing, err := p.store.ByTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	mirrored := make(map[string]bool)
	for _, e := range existing {
		if e.Reversal {
			mirrored[e.ReversalOf] = true
		}
	}
	var live []JournalEntry
	for _, e := range existing {
		if !e.Reversal && !mirrored[e.ID] {
			live = append(live, e)
		}
	}

	fresh := p.entriesFor(a, tx)
	if sameLines(live, fresh) {
		return nil
	}

	var batch []JournalEntry
	for _, e := range live {
		batch = append(batch, e.Mirror(date))
	}
	if len(fresh) > 0 {
		if err := checkBalanced(fresh); err != nil {
			return err
		}
		batch = append(batch, fresh...)
	}
	if len(batch) == 0 {
		return nil
	}
	return p.store.Append(ctx, batch)
}

// sameLines compares two postings as multisets of (account, side, amount).
func sameLines(a, b []JournalEntry) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	key := func(e JournalEntry) string {
		return fmt.Sprintf("%s|%s|%s", e.Account, e.Type, e.Amount.Value.String())
	}
	for _, e := range a {
		counts[key(e)]++
	}
	for _, e := range b {
		counts[key(e)]--
		if counts[key(e)] < 0 {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Posting rules
// -----------------------------------------------------------------------------

func (p *Poster) entriesFor(a *loan.LoanAccount, tx *loan.LoanTransaction) []JournalEntry {
	switch tx.Type {
	case loan.TxDisbursement:
		return p.postDisbursement(a, tx)
	case loan.TxRepayment, loan.TxForeclosure, loan.TxChargePayment, loan.TxChargeAdjustment:
		return p.postCashIn(a, tx)
	case loan.TxWaiveCharge:
		return p.postWaive(a, tx)
	case loan.TxAccrual:
		return p.postAccrual(a, tx)
	case loan.TxChargeOff:
		return p.postChargeOff(a, tx)
	case loan.TxRefund, loan.TxRefundTransfer, loan.TxCreditBalanceRefund:
		return p.postRefund(a, tx)
	default:
		return nil
	}
}

func (p *Poster) postDisbursement(a *loan.LoanAccount, tx *loan.LoanTransaction) []JournalEntry {
	entries := []JournalEntry{
		newEntry(a, tx, p.chart.LoanPortfolio, Debit, tx.Amount, "principal disbursed"),
		newEntry(a, tx, p.chart.FundSource, Credit, tx.Amount, "principal disbursed"),
	}
	if a.Terms.Regime == loan.RegimeAccrualUpfront {
		// The whole scheduled income stream is recognized at once.
		if a.Summary.InterestCharged.IsPositive() {
			entries = append(entries,
				newEntry(a, tx, p.chart.InterestReceivable, Debit, a.Summary.InterestCharged, "scheduled interest"),
				newEntry(a, tx, p.chart.InterestIncome, Credit, a.Summary.InterestCharged, "scheduled interest"),
			)
		}
		if a.Summary.FeeChargesDue.IsPositive() {
			entries = append(entries,
				newEntry(a, tx, p.chart.FeeReceivable, Debit, a.Summary.FeeChargesDue, "scheduled fees"),
				newEntry(a, tx, p.chart.FeeIncome, Credit, a.Summary.FeeChargesDue, "scheduled fees"),
			)
		}
		if a.Summary.PenaltyChargesDue.IsPositive() {
			entries = append(entries,
				newEntry(a, tx, p.chart.PenaltyReceivable, Debit, a.Summary.PenaltyChargesDue, "scheduled penalties"),
				newEntry(a, tx, p.chart.PenaltyIncome, Credit, a.Summary.PenaltyChargesDue, "scheduled penalties"),
			)
		}
	}
	return entries
}

func (p *Poster) postCashIn(a *loan.LoanAccount, tx *loan.LoanTransaction) []JournalEntry {
	accrual := a.Terms.Regime == loan.RegimeAccrualUpfront || a.Terms.Regime == loan.RegimeAccrualPeriodic

	interestAccount := p.chart.InterestIncome
	feeAccount := p.chart.FeeIncome
	penaltyAccount := p.chart.PenaltyIncome
	if accrual {
		// Cash collects a receivable the accrual already recognized.
		interestAccount = p.chart.InterestReceivable
		feeAccount = p.chart.FeeReceivable
		penaltyAccount = p.chart.PenaltyReceivable
	}

	var entries []JournalEntry
	credit := func(account GLAccount, amount loan.Money, what string) {
		if amount.IsPositive() {
			entries = append(entries, newEntry(a, tx, account, Credit, amount, what))
		}
	}
	credit(p.chart.LoanPortfolio, tx.PrincipalPortion, "principal repaid")
	credit(interestAccount, tx.InterestPortion, "interest collected")
	credit(feeAccount, tx.FeePortion, "fees collected")
	credit(penaltyAccount, tx.PenaltyPortion, "penalties collected")
	credit(p.chart.OverpaymentLiability, tx.OverpaymentPortion, "overpayment received")

	if len(entries) == 0 {
		return nil
	}
	entries = append([]JournalEntry{
		newEntry(a, tx, p.chart.FundSource, Debit, tx.Amount, "cash received"),
	}, entries...)
	return entries
}

func (p *Poster) postWaive(a *loan.LoanAccount, tx *loan.LoanTransaction) []JournalEntry {
	if a.Terms.Regime == loan.RegimeCashBased {
		// Nothing was ever recognized, so there is nothing to back out.
		return nil
	}
	receivable := p.chart.FeeReceivable
	what := "fee waived"
	if tx.PenaltyPortion.IsPositive() {
		receivable = p.chart.PenaltyReceivable
		what = "penalty waived"
	}
	amount := tx.FeePortion.Add(tx.PenaltyPortion)
	if !amount.IsPositive() {
		return nil
	}
	return []JournalEntry{
		newEntry(a, tx, p.chart.WaiveExpense, Debit, amount, what),
		newEntry(a, tx, receivable, Credit, amount, what),
	}
}

func (p *Poster) postAccrual(a *loan.LoanAccount, tx *loan.LoanTransaction) []JournalEntry {
	if a.Terms.Regime != loan.RegimeAccrualPeriodic {
		return nil
	}
	var entries []JournalEntry
	recognize := func(receivable, income GLAccount, amount loan.Money, what string) {
		if amount.IsPositive() {
			entries = append(entries,
				newEntry(a, tx, receivable, Debit, amount, what),
				newEntry(a, tx, income, Credit, amount, what),
			)
		}
	}
	recognize(p.chart.InterestReceivable, p.chart.InterestIncome, tx.InterestPortion, "interest accrued")
	recognize(p.chart.FeeReceivable, p.chart.FeeIncome, tx.FeePortion, "fees accrued")
	recognize(p.chart.PenaltyReceivable, p.chart.PenaltyIncome, tx.PenaltyPortion, "penalties accrued")
	return entries
}

func (p *Poster) postChargeOff(a *loan.LoanAccount, tx *loan.LoanTransaction) []JournalEntry {
	accrual := a.Terms.Regime == loan.RegimeAccrualUpfront || a.Terms.Regime == loan.RegimeAccrualPeriodic

	var entries []JournalEntry
	writeOff := func(account GLAccount, amount loan.Money, what string) {
		if amount.IsPositive() {
			entries = append(entries,
				newEntry(a, tx, p.chart.WriteOffExpense, Debit, amount, what),
				newEntry(a, tx, account, Credit, amount, what),
			)
		}
	}
	writeOff(p.chart.LoanPortfolio, tx.PrincipalPortion, "principal written off")
	if accrual {
		writeOff(p.chart.FeeReceivable, tx.FeePortion, "fees written off")
		writeOff(p.chart.PenaltyReceivable, tx.PenaltyPortion, "penalties written off")
	}
	return entries
}

func (p *Poster) postRefund(a *loan.LoanAccount, tx *loan.LoanTransaction) []JournalEntry {
	what := "credit balance refunded"
	if tx.Type == loan.TxRefundTransfer {
		what = "credit balance transferred out"
	}
	return []JournalEntry{
		newEntry(a, tx, p.chart.OverpaymentLiability, Debit, tx.Amount, what),
		newEntry(a, tx, p.chart.FundSource, Credit, tx.Amount, what),
	}
}

// -----------------------------------------------------------------------------
// Balance check
// -----------------------------------------------------------------------------

func checkBalanced(entries []JournalEntry) error {
	debits := entries[0].Amount.Zero()
	credits := debits
	for _, e := range entries {
		if e.Type == Debit {
			debits = debits.Add(e.Amount)
		} else {
			credits = credits.Add(e.Amount)
		}
	}
	if !debits.Equal(credits) {
		return fmt.Errorf("unbalanced posting: debits %s, credits %s", debits, credits)
	}
	return nil
}
