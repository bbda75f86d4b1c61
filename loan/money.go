/*
Package loan provides the core loan-servicing engine.

PURPOSE:
  This package contains the stateful recalculation engine behind a loan
  account: schedule generation, charge calculation, payment allocation,
  interest recalculation, and the transaction processor that keeps the
  schedule and summary consistent after every life-cycle event.

KEY CONCEPTS:
  - Money: An exact decimal quantity at the currency's precision
  - LoanAccount: The aggregate owning schedule, charges, and transactions
  - LoanTransaction: An immutable ledger entry, reversed but never edited
  - RepaymentPeriod: A derived projection, fully recomputable from the log

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Replayability: Schedule and summary are a pure fold of the transaction
     log over the initial schedule - reversal is recomputation, not surgery
  4. Explicit time: The business date is a parameter, never ambient state

SEE ALSO:
  - schedule.go: Installment generation
  - charge.go: Fee and penalty calculation
  - processor.go: The command applier with reverse-and-replay
*/
package loan

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

type Currency struct {
	Code     string
	Decimals int32
}

var USD = Currency{Code: "USD", Decimals: 2}

// =============================================================================
// MONEY - Exact decimal quantity with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, cur Currency) Money {
	return Money{Value: decimal.NewFromFloat(value).Round(cur.Decimals), Currency: cur}
}

func NewMoneyFromDecimal(value decimal.Decimal, cur Currency) Money {
	return Money{Value: value.Round(cur.Decimals), Currency: cur}
}

func ZeroMoney(cur Currency) Money {
	return Money{Value: decimal.Zero, Currency: cur}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money { return Money{Value: m.Value.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// Round rounds to the currency's configured decimal places.
func (m Money) Round() Money {
	return Money{Value: m.Value.Round(m.Currency.Decimals), Currency: m.Currency}
}

// Percent returns pct% of the amount, rounded to currency precision.
func (m Money) Percent(pct decimal.Decimal) Money {
	return m.Mul(pct.Div(decimal.NewFromInt(100))).Round()
}

// ClampZero floors the amount at zero. Allocation arithmetic can produce
// sub-cent negatives after rounding; those are noise, not balances.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return m.Zero()
	}
	return m
}

// SplitEvenly divides the amount into n parts rounded to currency precision,
// with the rounding remainder folded onto the final part so the total stays
// exact.
func (m Money) SplitEvenly(n int) []Money {
	if n <= 0 {
		return nil
	}
	per := m.Div(decimal.NewFromInt(int64(n))).Round()
	parts := make([]Money, n)
	running := m.Zero()
	for i := 0; i < n-1; i++ {
		parts[i] = per
		running = running.Add(per)
	}
	parts[n-1] = m.Sub(running)
	return parts
}

func (m Money) String() string {
	return m.Currency.Code + " " + m.Value.StringFixed(m.Currency.Decimals)
}
