/*
allocation.go - Repayment allocation strategies

PURPOSE:
  Decides how a repayment is spread across the outstanding components of
  open periods. The order is a product-level choice:

  default - walk periods oldest first; within each period pay principal,
            then interest, then fees, then penalties
  rbi     - clear overdue interest across ALL overdue periods before any
            principal is touched, then overdue principal, then fall back to
            the default walk for what remains

  Anything left after every component is settled is an overpayment: the
  account flips to OVERPAID and the excess is tracked as a liability.
*/
package loan

// Allocation is the outcome of distributing one payment.
type Allocation struct {
	Principal Money
	Interest  Money
	Fee       Money
	Penalty   Money
	Excess    Money
}

// AllocationStrategy mutates the periods' paid buckets and reports totals.
type AllocationStrategy interface {
	Name() string
	Allocate(amount Money, periods []*RepaymentPeriod, asOf Date) Allocation
}

// AllocationStrategyFor resolves a strategy by product-configured name.
// Unknown names fall back to the default order.
func AllocationStrategyFor(name string) AllocationStrategy {
	switch name {
	case "rbi":
		return &RBIAllocation{}
	default:
		return &DefaultAllocation{}
	}
}

// =============================================================================
// DEFAULT - principal, interest, fee, penalty per period
// =============================================================================

type DefaultAllocation struct{}

func (s *DefaultAllocation) Name() string { return "default" }

func (s *DefaultAllocation) Allocate(amount Money, periods []*RepaymentPeriod, asOf Date) Allocation {
	alloc := Allocation{
		Principal: amount.Zero(), Interest: amount.Zero(),
		Fee: amount.Zero(), Penalty: amount.Zero(), Excess: amount.Zero(),
	}
	remaining := amount
	for _, rp := range periods {
		if rp.Number == 0 && rp.Principal.Due.IsZero() && rp.Fee.Due.IsZero() && rp.Penalty.Due.IsZero() {
			continue
		}
		if remaining.IsZero() {
			break
		}
		remaining = payPeriodDefaultOrder(rp, remaining, &alloc)
	}
	alloc.Excess = remaining
	return alloc
}

// =============================================================================
// RBI - overdue interest first, across periods
// =============================================================================

type RBIAllocation struct{}

func (s *RBIAllocation) Name() string { return "rbi" }

func (s *RBIAllocation) Allocate(amount Money, periods []*RepaymentPeriod, asOf Date) Allocation {
	alloc := Allocation{
		Principal: amount.Zero(), Interest: amount.Zero(),
		Fee: amount.Zero(), Penalty: amount.Zero(), Excess: amount.Zero(),
	}
	remaining := amount

	// Pass 1: overdue interest across every overdue period.
	for _, rp := range periods {
		if remaining.IsZero() {
			break
		}
		if rp.IsOverdue(asOf) {
			taken := rp.Interest.pay(remaining)
			alloc.Interest = alloc.Interest.Add(taken)
			remaining = remaining.Sub(taken)
		}
	}

	// Pass 2: overdue principal.
	for _, rp := range periods {
		if remaining.IsZero() {
			break
		}
		if rp.IsOverdue(asOf) {
			taken := rp.Principal.pay(remaining)
			alloc.Principal = alloc.Principal.Add(taken)
			remaining = remaining.Sub(taken)
		}
	}

	// Pass 3: default order for whatever is left (fees, penalties, current dues).
	for _, rp := range periods {
		if remaining.IsZero() {
			break
		}
		remaining = payPeriodDefaultOrder(rp, remaining, &alloc)
	}

	alloc.Excess = remaining
	return alloc
}

// payPeriodDefaultOrder settles one period in the default component order,
// returning what is left of the payment.
func payPeriodDefaultOrder(rp *RepaymentPeriod, remaining Money, alloc *Allocation) Money {
	taken := rp.Principal.pay(remaining)
	alloc.Principal = alloc.Principal.Add(taken)
	remaining = remaining.Sub(taken)

	taken = rp.Interest.pay(remaining)
	alloc.Interest = alloc.Interest.Add(taken)
	remaining = remaining.Sub(taken)

	taken = rp.Fee.pay(remaining)
	alloc.Fee = alloc.Fee.Add(taken)
	remaining = remaining.Sub(taken)

	taken = rp.Penalty.pay(remaining)
	alloc.Penalty = alloc.Penalty.Add(taken)
	remaining = remaining.Sub(taken)

	return remaining
}
