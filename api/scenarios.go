/*
scenarios.go - Demo scenario management

PURPOSE:
  Loads pre-built demo portfolios so the API can be explored without
  hand-crafting a loan through every life-cycle step. Each scenario runs
  real commands through the processor, so guards, allocation, and journal
  posting all apply exactly as they would in production.

SCENARIOS:
  personal-active   Declining-balance loan three installments in
  flat-overdue      Flat-rate loan in arrears with a late fee
  daily-rest        Recalculating loan after an early excess payment
  tranche           Multi-tranche loan with two disbursements
  overpaid          Closed loan holding a credit balance

SEE ALSO:
  - factory/product.go: Preset product definitions
  - handlers.go: Handler wiring
*/
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// SCENARIO STATE
// =============================================================================

type scenarioState struct {
	mu      sync.Mutex
	current string
}

func newScenarioState() *scenarioState {
	return &scenarioState{}
}

// resettableStore is implemented by stores that can wipe all data.
type resettableStore interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO CATALOG
// =============================================================================

type scenario struct {
	ID          string
	Name        string
	Description string
	Load        func(h *Handler, ctx context.Context) error
}

func scenarioCatalog() []scenario {
	return []scenario{
		{
			ID:          "personal-active",
			Name:        "Personal Loan, On Schedule",
			Description: "A 12-month declining-balance loan with three installments paid on time.",
			Load:        loadPersonalActive,
		},
		{
			ID:          "flat-overdue",
			Name:        "Flat Rate Loan, In Arrears",
			Description: "A flat-rate loan two installments behind, with a late fee applied.",
			Load:        loadFlatOverdue,
		},
		{
			ID:          "daily-rest",
			Name:        "Daily Rest Loan, Early Payment",
			Description: "A recalculating loan where an excess payment reduced the EMI.",
			Load:        loadDailyRest,
		},
		{
			ID:          "tranche",
			Name:        "Multi-Tranche Loan",
			Description: "An approved line drawn down in two tranches.",
			Load:        loadTranche,
		},
		{
			ID:          "overpaid",
			Name:        "Overpaid Loan",
			Description: "A loan settled with an excess payment, leaving a credit balance.",
			Load:        loadOverpaid,
		},
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	catalog := scenarioCatalog()
	dtos := make([]ScenarioDTO, 0, len(catalog))
	for _, s := range catalog {
		dtos = append(dtos, ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarios.mu.Lock()
	current := h.scenarios.current
	h.scenarios.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario": current})
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var selected *scenario
	for _, s := range scenarioCatalog() {
		if s.ID == req.Scenario {
			selected = &s
			break
		}
	}
	if selected == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario: %s", req.Scenario), nil)
		return
	}

	ctx := r.Context()
	if resettable, ok := h.store.(resettableStore); ok {
		if err := resettable.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
			return
		}
	}

	if err := selected.Load(h, ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.scenarios.mu.Lock()
	h.scenarios.current = selected.ID
	h.scenarios.mu.Unlock()

	log.Printf("[Scenarios] Loaded scenario %s", selected.ID)
	writeJSON(w, http.StatusOK, map[string]string{"scenario": selected.ID, "status": "loaded"})
}

// =============================================================================
// LOADERS
// =============================================================================

// submitLoan creates a pending account from a product JSON string.
func (h *Handler) submitLoan(ctx context.Context, productJSON, externalID string, submittedOn loan.Date) (*loan.LoanAccount, error) {
	terms, charges, err := h.products.ParseProduct(productJSON)
	if err != nil {
		return nil, err
	}
	a, err := loan.NewLoanAccount(terms, externalID, submittedOn)
	if err != nil {
		return nil, err
	}
	for _, c := range charges {
		a.AttachCharge(c)
	}
	if err := a.Rebuild(submittedOn); err != nil {
		return nil, err
	}
	if err := h.store.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func monthsAgo(n int) loan.Date {
	return loan.DateFromTime(time.Now()).AddMonths(-n)
}

func loadPersonalActive(h *Handler, ctx context.Context) error {
	today := loan.DateFromTime(time.Now())
	start := monthsAgo(4)

	a, err := h.submitLoan(ctx, factory.PersonalLoanJSON(12000, 12, 1.0), "demo-personal-1", start)
	if err != nil {
		return err
	}
	if a, err = h.processor.Approve(ctx, a.ID, start, "demo"); err != nil {
		return err
	}
	if a, err = h.processor.Disburse(ctx, a.ID, start, loan.NewMoney(12000, a.Terms.Currency), today); err != nil {
		return err
	}
	h.postLatest(ctx, a)

	// Pay the first three installments on their due dates.
	for i := 1; i <= 3; i++ {
		due := firstOpenDue(a)
		if due == nil {
			break
		}
		amount := due.TotalOutstanding()
		if a, err = h.processor.MakeRepayment(ctx, a.ID, due.DueDate, amount, fmt.Sprintf("demo-personal-1-r%d", i), today); err != nil {
			return err
		}
		h.postLatest(ctx, a)
	}
	return nil
}

func loadFlatOverdue(h *Handler, ctx context.Context) error {
	today := loan.DateFromTime(time.Now())
	start := monthsAgo(5)

	a, err := h.submitLoan(ctx, factory.FlatRateLoanJSON(6000, 6, 1.5), "demo-flat-1", start)
	if err != nil {
		return err
	}
	if a, err = h.processor.Approve(ctx, a.ID, start, "demo"); err != nil {
		return err
	}
	if a, err = h.processor.Disburse(ctx, a.ID, start, loan.NewMoney(6000, a.Terms.Currency), today); err != nil {
		return err
	}
	h.postLatest(ctx, a)

	// One installment paid, the rest missed.
	if due := firstOpenDue(a); due != nil {
		if a, err = h.processor.MakeRepayment(ctx, a.ID, due.DueDate, due.TotalOutstanding(), "demo-flat-1-r1", today); err != nil {
			return err
		}
		h.postLatest(ctx, a)
	}

	// A flat late fee against the oldest missed installment.
	lateFee := &loan.LoanCharge{
		Name:               "Late payment fee",
		Calculation:        loan.ChargeFlat,
		Time:               loan.ChargeOnOverdue,
		Penalty:            true,
		AmountOrPercentage: loan.MustParseDecimal("25"),
		DueDate:            monthsAgo(3),
	}
	if a, err = h.processor.AddCharge(ctx, a.ID, lateFee, today); err != nil {
		return err
	}
	return nil
}

func loadDailyRest(h *Handler, ctx context.Context) error {
	today := loan.DateFromTime(time.Now())
	start := monthsAgo(3)

	a, err := h.submitLoan(ctx, factory.DailyRestLoanJSON(10000, 12, 1.0), "demo-rest-1", start)
	if err != nil {
		return err
	}
	if a, err = h.processor.Approve(ctx, a.ID, start, "demo"); err != nil {
		return err
	}
	if a, err = h.processor.Disburse(ctx, a.ID, start, loan.NewMoney(10000, a.Terms.Currency), today); err != nil {
		return err
	}
	h.postLatest(ctx, a)

	// First installment paid with a 50% excess; recalculation reduces the EMI.
	if due := firstOpenDue(a); due != nil {
		amount := due.TotalOutstanding().Mul(loan.MustParseDecimal("1.5")).Round()
		if a, err = h.processor.MakeRepayment(ctx, a.ID, due.DueDate, amount, "demo-rest-1-r1", today); err != nil {
			return err
		}
		h.postLatest(ctx, a)
	}
	return nil
}

func loadTranche(h *Handler, ctx context.Context) error {
	today := loan.DateFromTime(time.Now())
	start := monthsAgo(2)

	a, err := h.submitLoan(ctx, factory.TrancheLoanJSON(20000, 12, 1.0), "demo-tranche-1", start)
	if err != nil {
		return err
	}
	if a, err = h.processor.Approve(ctx, a.ID, start, "demo"); err != nil {
		return err
	}
	if a, err = h.processor.Disburse(ctx, a.ID, start, loan.NewMoney(12000, a.Terms.Currency), today); err != nil {
		return err
	}
	h.postLatest(ctx, a)
	if a, err = h.processor.Disburse(ctx, a.ID, monthsAgo(1), loan.NewMoney(5000, a.Terms.Currency), today); err != nil {
		return err
	}
	h.postLatest(ctx, a)
	return nil
}

func loadOverpaid(h *Handler, ctx context.Context) error {
	today := loan.DateFromTime(time.Now())
	start := monthsAgo(3)

	a, err := h.submitLoan(ctx, factory.FlatRateLoanJSON(1000, 2, 1.0), "demo-overpaid-1", start)
	if err != nil {
		return err
	}
	if a, err = h.processor.Approve(ctx, a.ID, start, "demo"); err != nil {
		return err
	}
	if a, err = h.processor.Disburse(ctx, a.ID, start, loan.NewMoney(1000, a.Terms.Currency), today); err != nil {
		return err
	}
	h.postLatest(ctx, a)

	// Pay everything outstanding plus 100 extra.
	extra := loan.NewMoney(100, a.Terms.Currency)
	amount := a.Summary.TotalOutstanding.Add(extra)
	if a, err = h.processor.MakeRepayment(ctx, a.ID, monthsAgo(1), amount, "demo-overpaid-1-r1", today); err != nil {
		return err
	}
	h.postLatest(ctx, a)
	return nil
}

// firstOpenDue returns the earliest repayment period with dues outstanding.
func firstOpenDue(a *loan.LoanAccount) *loan.RepaymentPeriod {
	for _, rp := range a.Schedule {
		if rp.Number == 0 {
			continue
		}
		if !rp.IsFullySettled() {
			return rp
		}
	}
	return nil
}
