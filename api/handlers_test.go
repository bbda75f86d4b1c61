/*
handlers_test.go - HTTP-level tests for the loan API

Tests for:
- The submit / approve / disburse / repay life-cycle over HTTP
- Error envelope and status code mapping
- Journal exposure after monetary commands
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/warp/loan-engine/accounting"
	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/loan/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer() *httptest.Server {
	mem := store.NewMemory()
	journal := accounting.NewMemoryJournal()
	processor := loan.NewProcessor(mem)
	poster := accounting.NewPoster(accounting.DefaultChart, journal)
	h := NewHandler(mem, processor, poster, journal)
	return httptest.NewServer(NewRouter(h))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

// submitTestLoan creates a pending loan and returns its id.
func submitTestLoan(t *testing.T, baseURL, productJSON string) string {
	t.Helper()
	var pj factory.ProductJSON
	if err := json.Unmarshal([]byte(productJSON), &pj); err != nil {
		t.Fatalf("bad product fixture: %v", err)
	}
	resp := postJSON(t, baseURL+"/api/loans", SubmitLoanRequest{
		SubmittedOn: "2025-01-01",
		Product:     pj,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit returned %d", resp.StatusCode)
	}
	dto := decodeBody[LoanDTO](t, resp)
	return dto.ID
}

// activateTestLoan walks a loan to active on Jan 1.
func activateTestLoan(t *testing.T, baseURL, id string, amount float64) {
	t.Helper()
	resp := postJSON(t, fmt.Sprintf("%s/api/loans/%s/approve", baseURL, id), ApproveRequest{
		ApprovedOn: "2025-01-01", ApprovedBy: "officer-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/api/loans/%s/disburse", baseURL, id), DisburseRequest{
		Date: "2025-01-01", Amount: amount, BusinessDate: "2025-01-01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disburse returned %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// =============================================================================
// LIFE-CYCLE OVER HTTP
// =============================================================================

func TestAPI_SubmitApproveDisburseRepay(t *testing.T) {
	// GIVEN: A flat-rate product submitted through the API
	// WHEN: Walking it to active and recording a repayment
	// THEN: Status and balances track every step

	srv := newTestServer()
	defer srv.Close()

	id := submitTestLoan(t, srv.URL, factory.FlatRateLoanJSON(1000, 2, 1.0))
	activateTestLoan(t, srv.URL, id, 1000)

	resp, err := http.Get(srv.URL + "/api/loans/" + id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	dto := decodeBody[LoanDTO](t, resp)
	if dto.Status != "active" {
		t.Errorf("status %q, want active", dto.Status)
	}
	if dto.Summary.PrincipalOutstanding != "1000.00" {
		t.Errorf("principal outstanding %q, want 1000.00", dto.Summary.PrincipalOutstanding)
	}
	if dto.Summary.InterestCharged != "20.00" {
		t.Errorf("interest charged %q, want 20.00", dto.Summary.InterestCharged)
	}

	resp = postJSON(t, fmt.Sprintf("%s/api/loans/%s/repayments", srv.URL, id), RepaymentRequest{
		Date: "2025-02-01", Amount: 510, BusinessDate: "2025-02-01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repayment returned %d", resp.StatusCode)
	}
	dto = decodeBody[LoanDTO](t, resp)
	if dto.Summary.TotalRepaid != "510.00" {
		t.Errorf("total repaid %q, want 510.00", dto.Summary.TotalRepaid)
	}
	if dto.Summary.TotalOutstanding != "510.00" {
		t.Errorf("total outstanding %q, want 510.00", dto.Summary.TotalOutstanding)
	}
}

func TestAPI_ScheduleEndpoint(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	id := submitTestLoan(t, srv.URL, factory.FlatRateLoanJSON(1000, 2, 1.0))
	activateTestLoan(t, srv.URL, id, 1000)

	resp, err := http.Get(fmt.Sprintf("%s/api/loans/%s/schedule", srv.URL, id))
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	periods := decodeBody[[]PeriodDTO](t, resp)
	if len(periods) != 3 {
		t.Fatalf("expected 3 periods, got %d", len(periods))
	}
	if periods[1].DueDate != "2025-02-01" {
		t.Errorf("first due date %q, want 2025-02-01", periods[1].DueDate)
	}
	if periods[1].InterestDue != "10.00" {
		t.Errorf("first interest due %q, want 10.00", periods[1].InterestDue)
	}
}

// =============================================================================
// ERROR ENVELOPE
// =============================================================================

func TestAPI_ErrorMapping(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	// Unknown loan: 404.
	resp, err := http.Get(srv.URL + "/api/loans/no-such-loan")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown loan returned %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Disbursing a pending loan: 409 with the machine-readable code.
	id := submitTestLoan(t, srv.URL, factory.FlatRateLoanJSON(1000, 2, 1.0))
	resp = postJSON(t, fmt.Sprintf("%s/api/loans/%s/disburse", srv.URL, id), DisburseRequest{
		Date: "2025-01-02", Amount: 1000, BusinessDate: "2025-01-02",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("premature disbursement returned %d, want 409", resp.StatusCode)
	}
	envelope := decodeBody[ErrorResponse](t, resp)
	if envelope.Code != "loan.state.not-approved" {
		t.Errorf("error code %q, want loan.state.not-approved", envelope.Code)
	}
	if envelope.Error == "" {
		t.Error("error envelope should carry a message")
	}

	// Garbage body: 400.
	resp, err = http.Post(srv.URL+"/api/loans", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body returned %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

// =============================================================================
// JOURNAL EXPOSURE
// =============================================================================

func TestAPI_JournalReflectsDisbursement(t *testing.T) {
	// FlatRateLoanJSON runs cash-based accounting, so the disbursement posts
	// a debit against the portfolio and a credit against the fund source.
	srv := newTestServer()
	defer srv.Close()

	id := submitTestLoan(t, srv.URL, factory.FlatRateLoanJSON(1000, 2, 1.0))
	activateTestLoan(t, srv.URL, id, 1000)

	resp, err := http.Get(fmt.Sprintf("%s/api/loans/%s/journal", srv.URL, id))
	if err != nil {
		t.Fatalf("get journal: %v", err)
	}
	entries := decodeBody[[]JournalEntryDTO](t, resp)
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal lines, got %d", len(entries))
	}
	var debits, credits int
	for _, e := range entries {
		switch e.Type {
		case "debit":
			debits++
		case "credit":
			credits++
		}
		if e.Amount != "1000.00" {
			t.Errorf("journal amount %q, want 1000.00", e.Amount)
		}
	}
	if debits != 1 || credits != 1 {
		t.Errorf("journal sides %d/%d, want one debit and one credit", debits, credits)
	}
}

func TestAPI_ReverseRepayment_RepostsReplayedJournal(t *testing.T) {
	// GIVEN: A declining-balance cash loan with two EMI repayments posted
	// WHEN: Reversing the first one
	// THEN: The survivor replays onto the first period and its journal lines
	//       are re-posted to match the new portions

	srv := newTestServer()
	defer srv.Close()

	product := `{
		"id": "emi-2m",
		"name": "Declining EMI Loan",
		"currency": "USD",
		"principal": 1000,
		"interest_rate_per_period": 1,
		"interest_method": "declining_balance",
		"number_of_periods": 2,
		"frequency": "months",
		"amortization": "equal_installments",
		"accounting": "cash_based"
	}`
	id := submitTestLoan(t, srv.URL, product)
	activateTestLoan(t, srv.URL, id, 1000)

	for _, d := range []string{"2025-02-01", "2025-03-01"} {
		resp := postJSON(t, fmt.Sprintf("%s/api/loans/%s/repayments", srv.URL, id), RepaymentRequest{
			Date: d, Amount: 507.51, BusinessDate: d,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("repayment on %s returned %d", d, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/loans/%s/transactions", srv.URL, id))
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	txs := decodeBody[[]TransactionDTO](t, resp)
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	first, second := txs[1], txs[2]
	if second.InterestPortion != "5.02" {
		t.Fatalf("second repayment interest %q before reversal, want 5.02", second.InterestPortion)
	}

	resp = postJSON(t, fmt.Sprintf("%s/api/loans/%s/transactions/%s/reverse", srv.URL, id, first.ID), ReverseRequest{
		BusinessDate: "2025-03-01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reverse returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(fmt.Sprintf("%s/api/loans/%s/transactions", srv.URL, id))
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	for _, tx := range decodeBody[[]TransactionDTO](t, resp) {
		if tx.ID == second.ID && tx.InterestPortion != "10.00" {
			t.Fatalf("second repayment interest %q after replay, want 10.00", tx.InterestPortion)
		}
	}

	resp, err = http.Get(fmt.Sprintf("%s/api/loans/%s/journal", srv.URL, id))
	if err != nil {
		t.Fatalf("get journal: %v", err)
	}
	var forSecond []JournalEntryDTO
	for _, e := range decodeBody[[]JournalEntryDTO](t, resp) {
		if e.TransactionID == second.ID {
			forSecond = append(forSecond, e)
		}
	}
	if len(forSecond) != 9 {
		t.Fatalf("journal lines for the replayed repayment: %d, want 9 (3 stale + 3 mirrors + 3 recomputed)", len(forSecond))
	}
	var freshInterest, mirroredInterest int
	for _, e := range forSecond {
		if e.Account != "4000" {
			continue
		}
		switch {
		case e.Reversal && e.Amount == "5.02":
			mirroredInterest++
		case !e.Reversal && e.Amount == "10.00":
			freshInterest++
		}
	}
	if freshInterest != 1 {
		t.Errorf("recomputed interest credit of 10.00: %d, want 1", freshInterest)
	}
	if mirroredInterest != 1 {
		t.Errorf("mirrored stale interest line of 5.02: %d, want 1", mirroredInterest)
	}
}

// =============================================================================
// REFUND VARIANTS
// =============================================================================

func TestAPI_Refund_TransferVariant(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	id := submitTestLoan(t, srv.URL, factory.FlatRateLoanJSON(1000, 2, 0))
	activateTestLoan(t, srv.URL, id, 1000)

	resp := postJSON(t, fmt.Sprintf("%s/api/loans/%s/repayments", srv.URL, id), RepaymentRequest{
		Date: "2025-02-01", Amount: 1100, BusinessDate: "2025-02-01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overpayment returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/api/loans/%s/refund", srv.URL, id), RefundRequest{
		Date: "2025-02-02", Amount: 100, Type: "transfer", BusinessDate: "2025-02-02",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer refund returned %d", resp.StatusCode)
	}
	dto := decodeBody[LoanDTO](t, resp)
	if dto.Overpayment != "0.00" {
		t.Errorf("overpayment %q after transfer, want 0.00", dto.Overpayment)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/loans/%s/transactions", srv.URL, id))
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	txs := decodeBody[[]TransactionDTO](t, resp)
	if last := txs[len(txs)-1]; last.Type != "refund_transfer" {
		t.Errorf("last transaction type %q, want refund_transfer", last.Type)
	}
}

// =============================================================================
// QUOTES
// =============================================================================

func TestAPI_QuoteEndpoint(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	id := submitTestLoan(t, srv.URL, factory.FlatRateLoanJSON(1000, 2, 1.0))
	activateTestLoan(t, srv.URL, id, 1000)

	resp, err := http.Get(fmt.Sprintf("%s/api/loans/%s/quote?as_of=2025-03-01", srv.URL, id))
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	quote := decodeBody[QuoteDTO](t, resp)
	if quote.Principal != "1000.00" {
		t.Errorf("quote principal %q, want 1000.00", quote.Principal)
	}
	if quote.Interest != "20.00" {
		t.Errorf("quote interest %q, want 20.00", quote.Interest)
	}
	if quote.Total != "1020.00" {
		t.Errorf("quote total %q, want 1020.00", quote.Total)
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_ScenarioCatalogAndLoad(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/scenarios")
	if err != nil {
		t.Fatalf("list scenarios: %v", err)
	}
	scenarios := decodeBody[[]ScenarioDTO](t, resp)
	if len(scenarios) == 0 {
		t.Fatal("expected a scenario catalog")
	}

	resp = postJSON(t, srv.URL+"/api/scenarios/load", LoadScenarioRequest{Scenario: scenarios[0].ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load scenario returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/loans")
	if err != nil {
		t.Fatalf("list loans: %v", err)
	}
	loans := decodeBody[[]LoanDTO](t, resp)
	if len(loans) == 0 {
		t.Error("loaded scenario should have created loans")
	}
}
