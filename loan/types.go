package loan

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type TransactionID string
type ChargeID string

// =============================================================================
// LOAN STATUS - Life-cycle state machine
// =============================================================================
//
// PENDING -(approve)-> APPROVED -(disburse)-> ACTIVE
// ACTIVE  -(full settlement)-> CLOSED_OBLIGATIONS_MET
// ACTIVE  -(foreclose)->       CLOSED_FORECLOSED
// ACTIVE  -(overpayment)->     OVERPAID -(refund/payment)-> CLOSED_OBLIGATIONS_MET
//
// Charge-off is NOT a status: it is an orthogonal flag layered on ACTIVE so
// recovery payments can still be tracked, and it must be undoable while the
// charge-off transaction remains the most recent one.

type LoanStatus string

const (
	StatusPending               LoanStatus = "pending"
	StatusApproved              LoanStatus = "approved"
	StatusActive                LoanStatus = "active"
	StatusOverpaid              LoanStatus = "overpaid"
	StatusClosedObligationsMet  LoanStatus = "closed_obligations_met"
	StatusClosedForeclosed      LoanStatus = "closed_foreclosed"
)

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

type TransactionType string

const (
	TxDisbursement        TransactionType = "disbursement"
	TxRepayment           TransactionType = "repayment"
	TxChargePayment       TransactionType = "charge_payment"
	TxWaiveCharge         TransactionType = "waive_charge"
	TxChargeAdjustment    TransactionType = "charge_adjustment"
	TxChargeOff           TransactionType = "charge_off"
	TxAccrual             TransactionType = "accrual"
	TxRefund              TransactionType = "refund"
	TxRefundTransfer      TransactionType = "refund_transfer"
	TxCreditBalanceRefund TransactionType = "credit_balance_refund"
	TxForeclosure         TransactionType = "foreclosure"
)

// =============================================================================
// CHARGE CONFIGURATION
// =============================================================================

// ChargeCalculation is a closed set: new formulas are added here, never via
// subtyping.
type ChargeCalculation string

const (
	ChargeFlat                       ChargeCalculation = "flat"
	ChargePercentOfAmount            ChargeCalculation = "percent_of_amount"
	ChargePercentOfInterest          ChargeCalculation = "percent_of_interest"
	ChargePercentOfAmountAndInterest ChargeCalculation = "percent_of_amount_and_interest"
)

// IsPercentage reports whether the charge must be recomputed when its
// calculation basis (principal or interest) changes.
func (c ChargeCalculation) IsPercentage() bool { return c != ChargeFlat }

type ChargeTime string

const (
	ChargeAtDisbursement     ChargeTime = "disbursement"
	ChargeAtSpecifiedDueDate ChargeTime = "specified_due_date"
	ChargePerInstallment     ChargeTime = "installment_fee"
	ChargeOnOverdue          ChargeTime = "overdue_fee"
)

// =============================================================================
// AMORTIZATION AND INTEREST
// =============================================================================

type AmortizationMethod string

const (
	// AmortizeEqualInstallments solves for a level payment (EMI).
	AmortizeEqualInstallments AmortizationMethod = "equal_installments"
	// AmortizeEqualPrincipal divides principal evenly; interest declines.
	AmortizeEqualPrincipal AmortizationMethod = "equal_principal"
)

type InterestMethod string

const (
	// InterestDecliningBalance charges interest on the outstanding balance.
	InterestDecliningBalance InterestMethod = "declining_balance"
	// InterestFlat charges interest on the original principal every period.
	InterestFlat InterestMethod = "flat"
)

// =============================================================================
// INTEREST RECALCULATION CONFIGURATION
// =============================================================================

type RecalcStrategy string

const (
	// RecalcReduceEMI keeps the remaining period count, shrinks installments.
	RecalcReduceEMI RecalcStrategy = "reduce_emi_amount"
	// RecalcReduceInstallments keeps the installment amount, moves the tail.
	RecalcReduceInstallments RecalcStrategy = "reduce_number_of_installments"
	// RecalcRescheduleNext pushes the delta onto the next period(s) only.
	RecalcRescheduleNext RecalcStrategy = "reschedule_next_repayments"
)

type RestFrequency string

const (
	RestDaily           RestFrequency = "daily"
	RestWeekly          RestFrequency = "weekly"
	RestSameAsRepayment RestFrequency = "same_as_repayment"
)

type CompoundingRule string

const (
	CompoundNone           CompoundingRule = "none"
	CompoundInterest       CompoundingRule = "interest"
	CompoundInterestAndFee CompoundingRule = "interest_and_fee"
)

type PrecloseStrategy string

const (
	// PrecloseRestDate computes payoff interest as of the last rest date.
	PrecloseRestDate PrecloseStrategy = "rest_date"
	// PrecloseOnDate computes payoff interest as of the actual close date.
	PrecloseOnDate PrecloseStrategy = "on_pre_close_date"
)

type RecalcConfig struct {
	Enabled              bool
	Strategy             RecalcStrategy
	Rest                 RestFrequency
	Compounding          CompoundingRule
	Preclose             PrecloseStrategy
	AgeingOnOriginalDate bool // arrears anchored to original due date, not recalculated
}

// =============================================================================
// ACCOUNTING REGIME
// =============================================================================

type AccountingRegime string

const (
	RegimeNone            AccountingRegime = "none"
	RegimeCashBased       AccountingRegime = "cash_based"
	RegimeAccrualUpfront  AccountingRegime = "accrual_upfront"
	RegimeAccrualPeriodic AccountingRegime = "accrual_periodic"
)
