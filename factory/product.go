/*
Package factory provides JSON to Go loan product conversion.

PURPOSE:
  Converts JSON product definitions into loan.LoanTerms and charge
  templates. This enables product configuration without code changes -
  credit officers can define products in JSON, and the factory creates the
  proper Go structs.

WHY JSON?
  - Non-developers can modify products
  - Easy integration with an admin UI
  - Version control for product definitions
  - Database storage of product configs

JSON SCHEMA:
  {
    "id": "personal-12m",
    "name": "Personal Loan 12 Months",
    "currency": "USD",
    "principal": 12000,
    "interest_rate_per_period": 1.0,
    "interest_method": "declining_balance",
    "number_of_periods": 12,
    "repayment_every": 1,
    "frequency": "months",
    "amortization": "equal_installments",
    "allocation_strategy": "default",
    "charges": [
      {"name": "Processing fee", "calculation": "percent_of_amount",
       "time": "disbursement", "value": 1.0}
    ],
    "recalculation": {
      "enabled": true,
      "strategy": "reduce_emi_amount",
      "rest": "daily",
      "preclose": "on_pre_close_date"
    },
    "accounting": "accrual_periodic"
  }

USAGE:
  factory := NewProductFactory()
  terms, charges, err := factory.ParseProduct(jsonString)
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductJSON is the JSON representation of a loan product.
type ProductJSON struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Currency              string        `json:"currency"`
	CurrencyDecimals      *int32        `json:"currency_decimals,omitempty"`
	Principal             float64       `json:"principal"`
	InterestRatePerPeriod float64       `json:"interest_rate_per_period"`
	InterestMethod        string        `json:"interest_method,omitempty"`
	NumberOfPeriods       int           `json:"number_of_periods"`
	RepaymentEvery        int           `json:"repayment_every,omitempty"`
	Frequency             string        `json:"frequency,omitempty"`
	Amortization          string        `json:"amortization,omitempty"`
	GracePrincipal        int           `json:"grace_principal,omitempty"`
	GraceInterest         int           `json:"grace_interest,omitempty"`
	ExpectedDisbursement  string        `json:"expected_disbursement,omitempty"`
	MultiTranche          bool          `json:"multi_tranche,omitempty"`
	AllocationStrategy    string        `json:"allocation_strategy,omitempty"`
	Charges               []ChargeJSON  `json:"charges,omitempty"`
	Recalculation         *RecalcJSON   `json:"recalculation,omitempty"`
	Accounting            string        `json:"accounting,omitempty"`
}

// ChargeJSON represents one charge template attached to the product.
type ChargeJSON struct {
	Name        string  `json:"name"`
	Calculation string  `json:"calculation"`
	Time        string  `json:"time"`
	Penalty     bool    `json:"penalty,omitempty"`
	Value       float64 `json:"value"`
	DueDate     string  `json:"due_date,omitempty"`
}

// RecalcJSON represents interest recalculation configuration.
type RecalcJSON struct {
	Enabled              bool   `json:"enabled"`
	Strategy             string `json:"strategy,omitempty"`
	Rest                 string `json:"rest,omitempty"`
	Compounding          string `json:"compounding,omitempty"`
	Preclose             string `json:"preclose,omitempty"`
	AgeingOnOriginalDate bool   `json:"ageing_on_original_date,omitempty"`
}

// =============================================================================
// PRODUCT FACTORY
// =============================================================================

// ProductFactory converts JSON products to Go structs.
type ProductFactory struct{}

func NewProductFactory() *ProductFactory {
	return &ProductFactory{}
}

// ParseProduct parses a JSON string into terms and charge templates.
func (f *ProductFactory) ParseProduct(jsonStr string) (loan.LoanTerms, []*loan.LoanCharge, error) {
	var pj ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return loan.LoanTerms{}, nil, fmt.Errorf("failed to parse product JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts ProductJSON to LoanTerms and charges.
func (f *ProductFactory) FromJSON(pj ProductJSON) (loan.LoanTerms, []*loan.LoanCharge, error) {
	cur := parseCurrency(pj)

	terms := loan.LoanTerms{
		Principal:             loan.NewMoney(pj.Principal, cur),
		Currency:              cur,
		InterestRatePerPeriod: decimal.NewFromFloat(pj.InterestRatePerPeriod),
		InterestMethod:        parseInterestMethod(pj.InterestMethod),
		NumberOfPeriods:       pj.NumberOfPeriods,
		RepaymentEvery:        pj.RepaymentEvery,
		Frequency:             parseFrequency(pj.Frequency),
		Amortization:          parseAmortization(pj.Amortization),
		GracePrincipal:        pj.GracePrincipal,
		GraceInterest:         pj.GraceInterest,
		MultiTranche:          pj.MultiTranche,
		AllocationStrategy:    pj.AllocationStrategy,
		Regime:                parseRegime(pj.Accounting),
	}
	if terms.RepaymentEvery == 0 {
		terms.RepaymentEvery = 1
	}
	if pj.ExpectedDisbursement != "" {
		d, err := loan.ParseDate(pj.ExpectedDisbursement)
		if err != nil {
			return loan.LoanTerms{}, nil, fmt.Errorf("invalid expected_disbursement: %w", err)
		}
		terms.ExpectedDisbursement = d
	}
	if pj.Recalculation != nil {
		terms.Recalculation = parseRecalc(*pj.Recalculation)
	}

	charges := make([]*loan.LoanCharge, 0, len(pj.Charges))
	for _, cj := range pj.Charges {
		c, err := parseCharge(cj)
		if err != nil {
			return loan.LoanTerms{}, nil, err
		}
		charges = append(charges, c)
	}

	if err := terms.Validate(); err != nil {
		return loan.LoanTerms{}, nil, err
	}
	return terms, charges, nil
}

// ToJSON converts terms and charges back to the JSON representation.
func (f *ProductFactory) ToJSON(terms loan.LoanTerms, charges []*loan.LoanCharge) ProductJSON {
	principal, _ := terms.Principal.Value.Float64()
	rate, _ := terms.InterestRatePerPeriod.Float64()
	pj := ProductJSON{
		Currency:              terms.Currency.Code,
		Principal:             principal,
		InterestRatePerPeriod: rate,
		InterestMethod:        string(terms.InterestMethod),
		NumberOfPeriods:       terms.NumberOfPeriods,
		RepaymentEvery:        terms.RepaymentEvery,
		Frequency:             string(terms.Frequency),
		Amortization:          string(terms.Amortization),
		GracePrincipal:        terms.GracePrincipal,
		GraceInterest:         terms.GraceInterest,
		MultiTranche:          terms.MultiTranche,
		AllocationStrategy:    terms.AllocationStrategy,
		Accounting:            string(terms.Regime),
	}
	if !terms.ExpectedDisbursement.IsZero() {
		pj.ExpectedDisbursement = terms.ExpectedDisbursement.String()
	}
	if terms.Recalculation.Enabled {
		pj.Recalculation = &RecalcJSON{
			Enabled:              true,
			Strategy:             string(terms.Recalculation.Strategy),
			Rest:                 string(terms.Recalculation.Rest),
			Compounding:          string(terms.Recalculation.Compounding),
			Preclose:             string(terms.Recalculation.Preclose),
			AgeingOnOriginalDate: terms.Recalculation.AgeingOnOriginalDate,
		}
	}
	for _, c := range charges {
		value, _ := c.AmountOrPercentage.Float64()
		cj := ChargeJSON{
			Name:        c.Name,
			Calculation: string(c.Calculation),
			Time:        string(c.Time),
			Penalty:     c.Penalty,
			Value:       value,
		}
		if !c.DueDate.IsZero() {
			cj.DueDate = c.DueDate.String()
		}
		pj.Charges = append(pj.Charges, cj)
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseCurrency(pj ProductJSON) loan.Currency {
	code := pj.Currency
	if code == "" {
		return loan.USD
	}
	decimals := int32(2)
	if pj.CurrencyDecimals != nil {
		decimals = *pj.CurrencyDecimals
	}
	return loan.Currency{Code: code, Decimals: decimals}
}

func parseInterestMethod(s string) loan.InterestMethod {
	switch s {
	case "flat":
		return loan.InterestFlat
	default:
		return loan.InterestDecliningBalance
	}
}

func parseFrequency(s string) loan.PeriodFrequency {
	switch s {
	case "days":
		return loan.FrequencyDays
	case "weeks":
		return loan.FrequencyWeeks
	default:
		return loan.FrequencyMonths
	}
}

func parseAmortization(s string) loan.AmortizationMethod {
	switch s {
	case "equal_principal":
		return loan.AmortizeEqualPrincipal
	default:
		return loan.AmortizeEqualInstallments
	}
}

func parseRegime(s string) loan.AccountingRegime {
	switch s {
	case "cash_based":
		return loan.RegimeCashBased
	case "accrual_upfront":
		return loan.RegimeAccrualUpfront
	case "accrual_periodic":
		return loan.RegimeAccrualPeriodic
	default:
		return loan.RegimeNone
	}
}

func parseRecalc(rj RecalcJSON) loan.RecalcConfig {
	cfg := loan.RecalcConfig{
		Enabled:              rj.Enabled,
		AgeingOnOriginalDate: rj.AgeingOnOriginalDate,
	}
	switch rj.Strategy {
	case "reduce_number_of_installments":
		cfg.Strategy = loan.RecalcReduceInstallments
	case "reschedule_next_repayments":
		cfg.Strategy = loan.RecalcRescheduleNext
	default:
		cfg.Strategy = loan.RecalcReduceEMI
	}
	switch rj.Rest {
	case "weekly":
		cfg.Rest = loan.RestWeekly
	case "same_as_repayment":
		cfg.Rest = loan.RestSameAsRepayment
	default:
		cfg.Rest = loan.RestDaily
	}
	switch rj.Compounding {
	case "interest":
		cfg.Compounding = loan.CompoundInterest
	case "interest_and_fee":
		cfg.Compounding = loan.CompoundInterestAndFee
	default:
		cfg.Compounding = loan.CompoundNone
	}
	switch rj.Preclose {
	case "rest_date":
		cfg.Preclose = loan.PrecloseRestDate
	default:
		cfg.Preclose = loan.PrecloseOnDate
	}
	return cfg
}

// ParseChargeJSON converts one charge template. Used when adding a charge
// to an existing loan.
func ParseChargeJSON(cj ChargeJSON) (*loan.LoanCharge, error) {
	return parseCharge(cj)
}

func parseCharge(cj ChargeJSON) (*loan.LoanCharge, error) {
	c := &loan.LoanCharge{
		Name:               cj.Name,
		Penalty:            cj.Penalty,
		AmountOrPercentage: decimal.NewFromFloat(cj.Value),
	}
	switch cj.Calculation {
	case "flat":
		c.Calculation = loan.ChargeFlat
	case "percent_of_amount":
		c.Calculation = loan.ChargePercentOfAmount
	case "percent_of_interest":
		c.Calculation = loan.ChargePercentOfInterest
	case "percent_of_amount_and_interest":
		c.Calculation = loan.ChargePercentOfAmountAndInterest
	default:
		return nil, fmt.Errorf("unknown charge calculation: %s", cj.Calculation)
	}
	switch cj.Time {
	case "disbursement":
		c.Time = loan.ChargeAtDisbursement
	case "specified_due_date":
		c.Time = loan.ChargeAtSpecifiedDueDate
	case "installment_fee":
		c.Time = loan.ChargePerInstallment
	case "overdue_fee":
		c.Time = loan.ChargeOnOverdue
	default:
		return nil, fmt.Errorf("unknown charge time: %s", cj.Time)
	}
	if cj.DueDate != "" {
		d, err := loan.ParseDate(cj.DueDate)
		if err != nil {
			return nil, fmt.Errorf("invalid charge due_date: %w", err)
		}
		c.DueDate = d
	}
	return c, nil
}

// =============================================================================
// PRESET PRODUCTS
// =============================================================================

// PersonalLoanJSON is a declining-balance product with a processing fee.
func PersonalLoanJSON(principal float64, periods int, ratePercent float64) string {
	return fmt.Sprintf(`{
		"id": "personal-%dm",
		"name": "Personal Loan",
		"currency": "USD",
		"principal": %g,
		"interest_rate_per_period": %g,
		"interest_method": "declining_balance",
		"number_of_periods": %d,
		"frequency": "months",
		"amortization": "equal_installments",
		"charges": [
			{"name": "Processing fee", "calculation": "percent_of_amount", "time": "disbursement", "value": 1.0}
		],
		"accounting": "accrual_periodic"
	}`, periods, principal, ratePercent, periods)
}

// FlatRateLoanJSON charges interest on the original principal every period.
func FlatRateLoanJSON(principal float64, periods int, ratePercent float64) string {
	return fmt.Sprintf(`{
		"id": "flat-%dm",
		"name": "Flat Rate Loan",
		"currency": "USD",
		"principal": %g,
		"interest_rate_per_period": %g,
		"interest_method": "flat",
		"number_of_periods": %d,
		"frequency": "months",
		"accounting": "cash_based"
	}`, periods, principal, ratePercent, periods)
}

// DailyRestLoanJSON recalculates interest on every deviating payment.
func DailyRestLoanJSON(principal float64, periods int, ratePercent float64) string {
	return fmt.Sprintf(`{
		"id": "daily-rest-%dm",
		"name": "Daily Rest Loan",
		"currency": "USD",
		"principal": %g,
		"interest_rate_per_period": %g,
		"number_of_periods": %d,
		"frequency": "months",
		"allocation_strategy": "rbi",
		"recalculation": {
			"enabled": true,
			"strategy": "reduce_emi_amount",
			"rest": "daily",
			"preclose": "on_pre_close_date",
			"ageing_on_original_date": true
		},
		"accounting": "accrual_periodic"
	}`, periods, principal, ratePercent, periods)
}

// TrancheLoanJSON permits multiple disbursements against one approval.
func TrancheLoanJSON(principal float64, periods int, ratePercent float64) string {
	return fmt.Sprintf(`{
		"id": "tranche-%dm",
		"name": "Multi-Tranche Loan",
		"currency": "USD",
		"principal": %g,
		"interest_rate_per_period": %g,
		"number_of_periods": %d,
		"frequency": "months",
		"multi_tranche": true,
		"accounting": "none"
	}`, periods, principal, ratePercent, periods)
}
