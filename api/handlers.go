/*
handlers.go - HTTP request handlers

PURPOSE:
  Implements the REST endpoints for the loan servicing engine. Handlers
  decode requests, default the business date, invoke the processor, post
  the accounting impact, and encode DTOs.

ENDPOINTS:
  Loans:
    GET    /api/loans                       - List all loans
    POST   /api/loans                       - Submit a loan from a product definition
    GET    /api/loans/{id}                  - Loan detail with summary
    GET    /api/loans/{id}/schedule         - Repayment schedule
    GET    /api/loans/{id}/transactions     - Transaction log
    GET    /api/loans/{id}/charges          - Charges
    GET    /api/loans/{id}/journal          - Journal entries
    GET    /api/loans/{id}/quote            - Payoff quote (?as_of=yyyy-mm-dd)

  Commands:
    POST   /api/loans/{id}/approve
    POST   /api/loans/{id}/undo-approval
    POST   /api/loans/{id}/disburse
    POST   /api/loans/{id}/repayments
    POST   /api/loans/{id}/charges
    PUT    /api/loans/{id}/charges/{chargeID}
    DELETE /api/loans/{id}/charges/{chargeID}
    POST   /api/loans/{id}/charges/{chargeID}/pay
    POST   /api/loans/{id}/charges/{chargeID}/waive
    POST   /api/loans/{id}/charges/{chargeID}/undo-waive
    POST   /api/loans/{id}/charges/{chargeID}/adjust
    POST   /api/loans/{id}/charge-off
    POST   /api/loans/{id}/undo-charge-off
    POST   /api/loans/{id}/foreclose
    POST   /api/loans/{id}/refund
    POST   /api/loans/{id}/accrual
    POST   /api/loans/{id}/transactions/{txID}/reverse

ERROR MAPPING:
  Engine errors carry a stable code ("loan.state.not-active") returned in
  the error envelope. Not-found maps to 404, state and consistency
  conflicts to 409, temporal and validation errors to 400, the rest to 500.

SEE ALSO:
  - dto.go: Request/response types
  - server.go: Route registration
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/loan-engine/accounting"
	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store     loan.Store
	processor *loan.Processor
	poster    *accounting.Poster
	journal   accounting.JournalStore
	products  *factory.ProductFactory

	scenarios *scenarioState
}

func NewHandler(store loan.Store, processor *loan.Processor, poster *accounting.Poster, journal accounting.JournalStore) *Handler {
	return &Handler{
		store:     store,
		processor: processor,
		poster:    poster,
		journal:   journal,
		products:  factory.NewProductFactory(),
		scenarios: newScenarioState(),
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine error to its HTTP status and surfaces the
// stable error code in the envelope.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case loan.IsNotFound(err):
		status = http.StatusNotFound
	case loan.IsConflict(err):
		status = http.StatusConflict
	case loan.IsClientError(err):
		status = http.StatusBadRequest
	}
	resp := ErrorResponse{Error: err.Error()}
	var ee *loan.EngineError
	if errors.As(err, &ee) {
		resp.Code = ee.Code
	}
	writeJSON(w, status, resp)
}

func decode(r *http.Request, into any) error {
	return json.NewDecoder(r.Body).Decode(into)
}

// businessDate resolves the effective date of a command: the caller's
// business date when given, today otherwise.
func businessDate(s string) (loan.Date, error) {
	if s == "" {
		return loan.DateFromTime(time.Now()), nil
	}
	return loan.ParseDate(s)
}

func loanID(r *http.Request) loan.LoanID {
	return loan.LoanID(chi.URLParam(r, "id"))
}

// =============================================================================
// ACCOUNTING GLUE
// =============================================================================

// postLatest records the journal impact of the transaction a command just
// appended. Posting failures are logged, not surfaced: the ledger is the
// source of truth and the journal can be rebuilt from it.
func (h *Handler) postLatest(ctx context.Context, a *loan.LoanAccount) {
	if len(a.Transactions) == 0 {
		return
	}
	tx := a.Transactions[len(a.Transactions)-1]
	if err := h.poster.Post(ctx, a, tx); err != nil {
		log.Printf("[API] Journal posting failed for loan %s tx %s: %v", a.ID, tx.ID, err)
	}
}

// reverseJournal mirrors the journal lines of a transaction a command just
// reversed.
func (h *Handler) reverseJournal(ctx context.Context, txID loan.TransactionID, date loan.Date) {
	if err := h.poster.Reverse(ctx, txID, date); err != nil {
		log.Printf("[API] Journal reversal failed for tx %s: %v", txID, err)
	}
}

// repostReplayed reconciles the journal for every active transaction after
// the reversed one. The replay may have shifted their allocation portions,
// leaving the originally posted lines stale.
func (h *Handler) repostReplayed(ctx context.Context, a *loan.LoanAccount, reversed loan.TransactionID, date loan.Date) {
	seen := false
	for _, tx := range a.Transactions {
		if tx.ID == reversed {
			seen = true
			continue
		}
		if !seen || tx.Reversed {
			continue
		}
		if err := h.poster.Repost(ctx, a, tx, date); err != nil {
			log.Printf("[API] Journal repost failed for loan %s tx %s: %v", a.ID, tx.ID, err)
		}
	}
}

// latestReversedOfType finds the transaction an undo command just flagged.
func latestReversedOfType(a *loan.LoanAccount, txType loan.TransactionType, chargeID loan.ChargeID) *loan.LoanTransaction {
	for i := len(a.Transactions) - 1; i >= 0; i-- {
		tx := a.Transactions[i]
		if tx.Reversed && tx.Type == txType && (chargeID == "" || tx.ChargeID == chargeID) {
			return tx
		}
	}
	return nil
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return
	}
	dtos := make([]LoanDTO, 0, len(accounts))
	for _, a := range accounts {
		dtos = append(dtos, toLoanDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Get(r.Context(), loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Get(r.Context(), loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(a.Schedule))
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Get(r.Context(), loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(a.Transactions))
}

func (h *Handler) GetCharges(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Get(r.Context(), loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTOs(a.Charges))
}

func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.journal.ByLoan(r.Context(), loanID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load journal", err)
		return
	}
	writeJSON(w, http.StatusOK, toJournalDTOs(entries))
}

func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	asOf, err := businessDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}
	quote, err := h.processor.Quote(r.Context(), loanID(r), asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(quote))
}

// =============================================================================
// SUBMISSION AND APPROVAL
// =============================================================================

func (h *Handler) SubmitLoan(w http.ResponseWriter, r *http.Request) {
	var req SubmitLoanRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	submittedOn, err := businessDate(req.SubmittedOn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid submitted_on date", err)
		return
	}
	terms, charges, err := h.products.FromJSON(req.Product)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product definition", err)
		return
	}
	a, err := loan.NewLoanAccount(terms, req.ExternalID, submittedOn)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	for _, c := range charges {
		a.AttachCharge(c)
	}
	if err := a.Rebuild(submittedOn); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := h.store.Save(r.Context(), a); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(a))
}

func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	approvedOn, err := businessDate(req.ApprovedOn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid approved_on date", err)
		return
	}
	a, err := h.processor.Approve(r.Context(), loanID(r), approvedOn, req.ApprovedBy)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) UndoApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.processor.UndoApproval(r.Context(), loanID(r), loan.DateFromTime(time.Now()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

// =============================================================================
// DISBURSEMENT AND REPAYMENT
// =============================================================================

func (h *Handler) Disburse(w http.ResponseWriter, r *http.Request) {
	var req DisburseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	cur, err := h.loanCurrency(r, loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	a, err := h.processor.Disburse(r.Context(), loanID(r), date, loan.NewMoney(req.Amount, cur), bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) MakeRepayment(w http.ResponseWriter, r *http.Request) {
	var req RepaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	cur, err := h.loanCurrency(r, loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	a, err := h.processor.MakeRepayment(r.Context(), loanID(r), date, loan.NewMoney(req.Amount, cur), req.ExternalID, bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

// commandDates resolves the effective date and business date of a command.
// An empty effective date means "on the business date".
func commandDates(dateStr, businessStr string) (loan.Date, loan.Date, error) {
	bd, err := businessDate(businessStr)
	if err != nil {
		return loan.Date{}, loan.Date{}, err
	}
	if dateStr == "" {
		return bd, bd, nil
	}
	date, err := loan.ParseDate(dateStr)
	if err != nil {
		return loan.Date{}, loan.Date{}, err
	}
	return date, bd, nil
}

func (h *Handler) loanCurrency(r *http.Request, id loan.LoanID) (loan.Currency, error) {
	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		return loan.Currency{}, err
	}
	return a.Terms.Currency, nil
}

// =============================================================================
// CHARGES
// =============================================================================

func (h *Handler) AddCharge(w http.ResponseWriter, r *http.Request) {
	var req AddChargeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	bd, err := businessDate(req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid business_date", err)
		return
	}
	charge, err := factory.ParseChargeJSON(req.Charge)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid charge definition", err)
		return
	}
	a, err := h.processor.AddCharge(r.Context(), loanID(r), charge, bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChargeDTOs(a.Charges))
}

func (h *Handler) UpdateCharge(w http.ResponseWriter, r *http.Request) {
	var req UpdateChargeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	bd, err := businessDate(req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid business_date", err)
		return
	}
	var dueDate loan.Date
	if req.DueDate != "" {
		if dueDate, err = loan.ParseDate(req.DueDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date", err)
			return
		}
	}
	cur, err := h.loanCurrency(r, loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	chargeID := loan.ChargeID(chi.URLParam(r, "chargeID"))
	a, err := h.processor.UpdateCharge(r.Context(), loanID(r), chargeID, loan.NewMoney(req.Value, cur), dueDate, bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTOs(a.Charges))
}

func (h *Handler) DeleteCharge(w http.ResponseWriter, r *http.Request) {
	chargeID := loan.ChargeID(chi.URLParam(r, "chargeID"))
	a, err := h.processor.DeleteCharge(r.Context(), loanID(r), chargeID, loan.DateFromTime(time.Now()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTOs(a.Charges))
}

func (h *Handler) PayCharge(w http.ResponseWriter, r *http.Request) {
	var req ChargeActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	cur, err := h.loanCurrency(r, loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	chargeID := loan.ChargeID(chi.URLParam(r, "chargeID"))
	a, err := h.processor.PayCharge(r.Context(), loanID(r), chargeID, date, loan.NewMoney(req.Amount, cur), bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) WaiveCharge(w http.ResponseWriter, r *http.Request) {
	var req ChargeActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	chargeID := loan.ChargeID(chi.URLParam(r, "chargeID"))
	a, err := h.processor.WaiveCharge(r.Context(), loanID(r), chargeID, date, bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) UndoWaiveCharge(w http.ResponseWriter, r *http.Request) {
	chargeID := loan.ChargeID(chi.URLParam(r, "chargeID"))
	now := loan.DateFromTime(time.Now())
	a, err := h.processor.UndoWaiveCharge(r.Context(), loanID(r), chargeID, now)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if tx := latestReversedOfType(a, loan.TxWaiveCharge, chargeID); tx != nil {
		h.reverseJournal(r.Context(), tx.ID, now)
		h.repostReplayed(r.Context(), a, tx.ID, now)
	}
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) AdjustCharge(w http.ResponseWriter, r *http.Request) {
	var req ChargeActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	cur, err := h.loanCurrency(r, loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	chargeID := loan.ChargeID(chi.URLParam(r, "chargeID"))
	a, err := h.processor.ChargeAdjustment(r.Context(), loanID(r), chargeID, date, loan.NewMoney(req.Amount, cur), bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

// =============================================================================
// CHARGE-OFF, FORECLOSURE, REFUNDS
// =============================================================================

func (h *Handler) ChargeOff(w http.ResponseWriter, r *http.Request) {
	var req ChargeOffRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	a, err := h.processor.ChargeOff(r.Context(), loanID(r), date, req.Reason, req.Actor, bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) UndoChargeOff(w http.ResponseWriter, r *http.Request) {
	now := loan.DateFromTime(time.Now())
	a, err := h.processor.UndoChargeOff(r.Context(), loanID(r), now)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if tx := latestReversedOfType(a, loan.TxChargeOff, ""); tx != nil {
		h.reverseJournal(r.Context(), tx.ID, now)
		h.repostReplayed(r.Context(), a, tx.ID, now)
	}
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) Foreclose(w http.ResponseWriter, r *http.Request) {
	var req ForecloseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	a, err := h.processor.Foreclose(r.Context(), loanID(r), date, bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, bd, err := commandDates(req.Date, req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	cur, err := h.loanCurrency(r, loanID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	amount := loan.NewMoney(req.Amount, cur)
	var a *loan.LoanAccount
	switch req.Type {
	case "refund":
		a, err = h.processor.Refund(r.Context(), loanID(r), date, amount, bd)
	case "transfer":
		a, err = h.processor.RefundByTransfer(r.Context(), loanID(r), date, amount, bd)
	default:
		a, err = h.processor.CreditBalanceRefund(r.Context(), loanID(r), date, amount, bd)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.postLatest(r.Context(), a)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

// =============================================================================
// REVERSAL AND ACCRUAL
// =============================================================================

func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	bd, err := businessDate(req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid business_date", err)
		return
	}
	txID := loan.TransactionID(chi.URLParam(r, "txID"))
	a, err := h.processor.ReverseTransaction(r.Context(), loanID(r), txID, req.ExternalID, bd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.reverseJournal(r.Context(), txID, bd)
	h.repostReplayed(r.Context(), a, txID, bd)
	writeJSON(w, http.StatusOK, toLoanDTO(a))
}

func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req RunAccrualRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	asOf, err := businessDate(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}
	result, err := h.processor.RunAccrual(r.Context(), loanID(r), asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if result.Recorded {
		if a, err := h.store.Get(r.Context(), loanID(r)); err == nil {
			h.postLatest(r.Context(), a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recorded": result.Recorded,
		"as_of":    dateStr(result.AsOf),
		"interest": moneyStr(result.Interest),
		"fee":      moneyStr(result.Fee),
		"penalty":  moneyStr(result.Penalty),
	})
}
