/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Every monetary field is a string with the currency's exact decimal
  places ("1013.82"). Clients must never receive floats for money.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/product.go: ProductJSON type
*/
package api

import (
	"github.com/warp/loan-engine/accounting"
	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// LOAN TYPES
// =============================================================================

// LoanDTO represents a loan account in API responses.
type LoanDTO struct {
	ID              string     `json:"id"`
	ExternalID      string     `json:"external_id,omitempty"`
	Status          string     `json:"status"`
	ChargedOff      bool       `json:"charged_off"`
	ChargeOffReason string     `json:"charge_off_reason,omitempty"`
	Currency        string     `json:"currency"`
	Principal       string     `json:"principal"`
	SubmittedOn     string     `json:"submitted_on"`
	ApprovedOn      string     `json:"approved_on,omitempty"`
	DisbursedOn     string     `json:"disbursed_on,omitempty"`
	Overpayment     string     `json:"overpayment"`
	InArrears       bool       `json:"in_arrears"`
	OverdueSince    string     `json:"overdue_since,omitempty"`
	Summary         SummaryDTO `json:"summary"`
}

// SummaryDTO is the component-level totals block of a loan.
type SummaryDTO struct {
	PrincipalDisbursed   string `json:"principal_disbursed"`
	PrincipalPaid        string `json:"principal_paid"`
	PrincipalWrittenOff  string `json:"principal_written_off"`
	PrincipalOutstanding string `json:"principal_outstanding"`

	InterestCharged     string `json:"interest_charged"`
	InterestPaid        string `json:"interest_paid"`
	InterestWaived      string `json:"interest_waived"`
	InterestOutstanding string `json:"interest_outstanding"`
	InterestAccrued     string `json:"interest_accrued"`

	FeeChargesDue         string `json:"fee_charges_due"`
	FeeChargesPaid        string `json:"fee_charges_paid"`
	FeeChargesWaived      string `json:"fee_charges_waived"`
	FeeChargesOutstanding string `json:"fee_charges_outstanding"`

	PenaltyChargesDue         string `json:"penalty_charges_due"`
	PenaltyChargesPaid        string `json:"penalty_charges_paid"`
	PenaltyChargesWaived      string `json:"penalty_charges_waived"`
	PenaltyChargesOutstanding string `json:"penalty_charges_outstanding"`

	TotalExpectedRepayment string `json:"total_expected_repayment"`
	TotalRepaid            string `json:"total_repaid"`
	TotalOutstanding       string `json:"total_outstanding"`
	TotalOverpaid          string `json:"total_overpaid"`
}

// PeriodDTO is one row of the repayment schedule.
type PeriodDTO struct {
	Number          int    `json:"number"`
	FromDate        string `json:"from_date"`
	DueDate         string `json:"due_date"`
	OriginalDueDate string `json:"original_due_date,omitempty"`

	PrincipalDue         string `json:"principal_due"`
	PrincipalPaid        string `json:"principal_paid"`
	PrincipalOutstanding string `json:"principal_outstanding"`

	InterestDue         string `json:"interest_due"`
	InterestPaid        string `json:"interest_paid"`
	InterestOutstanding string `json:"interest_outstanding"`

	FeeDue         string `json:"fee_due"`
	FeePaid        string `json:"fee_paid"`
	FeeOutstanding string `json:"fee_outstanding"`

	PenaltyDue         string `json:"penalty_due"`
	PenaltyPaid        string `json:"penalty_paid"`
	PenaltyOutstanding string `json:"penalty_outstanding"`

	TotalDue         string `json:"total_due"`
	TotalPaid        string `json:"total_paid"`
	TotalOutstanding string `json:"total_outstanding"`
	BalanceAfter     string `json:"balance_after"`
	FullySettled     bool   `json:"fully_settled"`
}

// TransactionDTO represents one ledger entry.
type TransactionDTO struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Date               string `json:"date"`
	Amount             string `json:"amount"`
	ChargeID           string `json:"charge_id,omitempty"`
	PrincipalPortion   string `json:"principal_portion"`
	InterestPortion    string `json:"interest_portion"`
	FeePortion         string `json:"fee_portion"`
	PenaltyPortion     string `json:"penalty_portion"`
	OverpaymentPortion string `json:"overpayment_portion"`
	ExternalID         string `json:"external_id,omitempty"`
	Reversed           bool   `json:"reversed"`
	ManuallyReversed   bool   `json:"manually_reversed,omitempty"`
	Reason             string `json:"reason,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// ChargeDTO represents a charge attached to a loan.
type ChargeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Calculation string `json:"calculation"`
	Time        string `json:"time"`
	Penalty     bool   `json:"penalty"`
	Value       string `json:"value"`
	DueDate     string `json:"due_date,omitempty"`
	Amount      string `json:"amount"`
	Paid        string `json:"paid"`
	Waived      string `json:"waived"`
	Outstanding string `json:"outstanding"`
	IsWaived    bool   `json:"is_waived"`
}

// JournalEntryDTO is one double-entry line.
type JournalEntryDTO struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Date          string `json:"date"`
	Account       string `json:"account"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Description   string `json:"description,omitempty"`
	Reversal      bool   `json:"reversal"`
}

// QuoteDTO is the payoff figure for closing a loan on a date.
type QuoteDTO struct {
	AsOf      string `json:"as_of"`
	Principal string `json:"principal"`
	Interest  string `json:"interest"`
	Fee       string `json:"fee"`
	Penalty   string `json:"penalty"`
	Total     string `json:"total"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitLoanRequest creates a new pending loan from a product definition.
type SubmitLoanRequest struct {
	ExternalID  string              `json:"external_id,omitempty"`
	SubmittedOn string              `json:"submitted_on"`
	Product     factory.ProductJSON `json:"product"`
}

type ApproveRequest struct {
	ApprovedOn string `json:"approved_on"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

type DisburseRequest struct {
	Date         string  `json:"date"`
	Amount       float64 `json:"amount"`
	BusinessDate string  `json:"business_date,omitempty"`
}

type RepaymentRequest struct {
	Date         string  `json:"date"`
	Amount       float64 `json:"amount"`
	ExternalID   string  `json:"external_id,omitempty"`
	BusinessDate string  `json:"business_date,omitempty"`
}

type AddChargeRequest struct {
	Charge       factory.ChargeJSON `json:"charge"`
	BusinessDate string             `json:"business_date,omitempty"`
}

type UpdateChargeRequest struct {
	Value        float64 `json:"value"`
	DueDate      string  `json:"due_date,omitempty"`
	BusinessDate string  `json:"business_date,omitempty"`
}

type ChargeActionRequest struct {
	Date         string  `json:"date"`
	Amount       float64 `json:"amount,omitempty"`
	BusinessDate string  `json:"business_date,omitempty"`
}

type ChargeOffRequest struct {
	Date         string `json:"date"`
	Reason       string `json:"reason,omitempty"`
	Actor        string `json:"actor,omitempty"`
	BusinessDate string `json:"business_date,omitempty"`
}

type ForecloseRequest struct {
	Date         string `json:"date"`
	BusinessDate string `json:"business_date,omitempty"`
}

type RefundRequest struct {
	Date         string  `json:"date"`
	Amount       float64 `json:"amount"`
	Type         string  `json:"type,omitempty"` // refund | transfer | credit_balance_refund
	BusinessDate string  `json:"business_date,omitempty"`
}

type ReverseRequest struct {
	ExternalID   string `json:"external_id,omitempty"`
	BusinessDate string `json:"business_date,omitempty"`
}

type RunAccrualRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	Scenario string `json:"scenario"`
}

// ScenarioDTO describes an available demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DTO CONVERSION
// =============================================================================

func moneyStr(m loan.Money) string {
	return m.Value.StringFixed(m.Currency.Decimals)
}

func dateStr(d loan.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func toLoanDTO(a *loan.LoanAccount) LoanDTO {
	dto := LoanDTO{
		ID:              string(a.ID),
		ExternalID:      a.ExternalID,
		Status:          string(a.Status),
		ChargedOff:      a.ChargedOff,
		ChargeOffReason: a.ChargeOffReason,
		Currency:        a.Terms.Currency.Code,
		Principal:       moneyStr(a.Terms.Principal),
		SubmittedOn:     dateStr(a.SubmittedOn),
		ApprovedOn:      dateStr(a.ApprovedOn),
		DisbursedOn:     dateStr(a.DisbursedOn),
		Overpayment:     moneyStr(a.Overpayment),
		InArrears:       a.Summary.InArrears,
		Summary:         toSummaryDTO(a.Summary),
	}
	if a.Summary.OverdueSince != nil {
		dto.OverdueSince = a.Summary.OverdueSince.String()
	}
	return dto
}

func toSummaryDTO(s loan.LoanSummary) SummaryDTO {
	return SummaryDTO{
		PrincipalDisbursed:   moneyStr(s.PrincipalDisbursed),
		PrincipalPaid:        moneyStr(s.PrincipalPaid),
		PrincipalWrittenOff:  moneyStr(s.PrincipalWrittenOff),
		PrincipalOutstanding: moneyStr(s.PrincipalOutstanding),

		InterestCharged:     moneyStr(s.InterestCharged),
		InterestPaid:        moneyStr(s.InterestPaid),
		InterestWaived:      moneyStr(s.InterestWaived),
		InterestOutstanding: moneyStr(s.InterestOutstanding),
		InterestAccrued:     moneyStr(s.InterestAccrued),

		FeeChargesDue:         moneyStr(s.FeeChargesDue),
		FeeChargesPaid:        moneyStr(s.FeeChargesPaid),
		FeeChargesWaived:      moneyStr(s.FeeChargesWaived),
		FeeChargesOutstanding: moneyStr(s.FeeChargesOutstanding),

		PenaltyChargesDue:         moneyStr(s.PenaltyChargesDue),
		PenaltyChargesPaid:        moneyStr(s.PenaltyChargesPaid),
		PenaltyChargesWaived:      moneyStr(s.PenaltyChargesWaived),
		PenaltyChargesOutstanding: moneyStr(s.PenaltyChargesOutstanding),

		TotalExpectedRepayment: moneyStr(s.TotalExpectedRepayment),
		TotalRepaid:            moneyStr(s.TotalRepaid),
		TotalOutstanding:       moneyStr(s.TotalOutstanding),
		TotalOverpaid:          moneyStr(s.TotalOverpaid),
	}
}

func toPeriodDTOs(periods []*loan.RepaymentPeriod) []PeriodDTO {
	dtos := make([]PeriodDTO, 0, len(periods))
	for _, rp := range periods {
		dtos = append(dtos, PeriodDTO{
			Number:          rp.Number,
			FromDate:        dateStr(rp.FromDate),
			DueDate:         dateStr(rp.DueDate),
			OriginalDueDate: dateStr(rp.OriginalDueDate),

			PrincipalDue:         moneyStr(rp.Principal.Due),
			PrincipalPaid:        moneyStr(rp.Principal.Paid),
			PrincipalOutstanding: moneyStr(rp.Principal.Outstanding()),

			InterestDue:         moneyStr(rp.Interest.Due),
			InterestPaid:        moneyStr(rp.Interest.Paid),
			InterestOutstanding: moneyStr(rp.Interest.Outstanding()),

			FeeDue:         moneyStr(rp.Fee.Due),
			FeePaid:        moneyStr(rp.Fee.Paid),
			FeeOutstanding: moneyStr(rp.Fee.Outstanding()),

			PenaltyDue:         moneyStr(rp.Penalty.Due),
			PenaltyPaid:        moneyStr(rp.Penalty.Paid),
			PenaltyOutstanding: moneyStr(rp.Penalty.Outstanding()),

			TotalDue:         moneyStr(rp.TotalDue()),
			TotalPaid:        moneyStr(rp.TotalPaid()),
			TotalOutstanding: moneyStr(rp.TotalOutstanding()),
			BalanceAfter:     moneyStr(rp.BalanceAfter),
			FullySettled:     rp.IsFullySettled(),
		})
	}
	return dtos
}

func toTransactionDTOs(txs []*loan.LoanTransaction) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, TransactionDTO{
			ID:                 string(tx.ID),
			Type:               string(tx.Type),
			Date:               dateStr(tx.Date),
			Amount:             moneyStr(tx.Amount),
			ChargeID:           string(tx.ChargeID),
			PrincipalPortion:   moneyStr(tx.PrincipalPortion),
			InterestPortion:    moneyStr(tx.InterestPortion),
			FeePortion:         moneyStr(tx.FeePortion),
			PenaltyPortion:     moneyStr(tx.PenaltyPortion),
			OverpaymentPortion: moneyStr(tx.OverpaymentPortion),
			ExternalID:         tx.ExternalID,
			Reversed:           tx.Reversed,
			ManuallyReversed:   tx.ManuallyReversed,
			Reason:             tx.Reason,
			CreatedAt:          tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return dtos
}

func toChargeDTOs(charges []*loan.LoanCharge) []ChargeDTO {
	dtos := make([]ChargeDTO, 0, len(charges))
	for _, c := range charges {
		dtos = append(dtos, ChargeDTO{
			ID:          string(c.ID),
			Name:        c.Name,
			Calculation: string(c.Calculation),
			Time:        string(c.Time),
			Penalty:     c.Penalty,
			Value:       c.AmountOrPercentage.String(),
			DueDate:     dateStr(c.DueDate),
			Amount:      moneyStr(c.Amount),
			Paid:        moneyStr(c.Paid),
			Waived:      moneyStr(c.Waived),
			Outstanding: moneyStr(c.Outstanding()),
			IsWaived:    c.IsWaived,
		})
	}
	return dtos
}

func toJournalDTOs(entries []accounting.JournalEntry) []JournalEntryDTO {
	dtos := make([]JournalEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, JournalEntryDTO{
			ID:            e.ID,
			TransactionID: string(e.TransactionID),
			Date:          dateStr(e.Date),
			Account:       string(e.Account),
			Type:          string(e.Type),
			Amount:        moneyStr(e.Amount),
			Description:   e.Description,
			Reversal:      e.Reversal,
		})
	}
	return dtos
}

func toQuoteDTO(q loan.PrepayQuote) QuoteDTO {
	return QuoteDTO{
		AsOf:      dateStr(q.AsOf),
		Principal: moneyStr(q.Principal),
		Interest:  moneyStr(q.Interest),
		Fee:       moneyStr(q.Fee),
		Penalty:   moneyStr(q.Penalty),
		Total:     moneyStr(q.Total),
	}
}
