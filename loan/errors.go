/*
errors.go - Centralized error types for the loan engine

PURPOSE:
  All engine errors in one place. Every error surfaced to a caller carries a
  stable machine-readable code; messages are for humans and may change.

ERROR CATEGORIES:
  1. State errors       - operation invalid for the loan's current status
  2. Temporal errors    - transaction dates out of order or in the future
  3. Validation errors  - bad amounts, unknown ids, external-id collisions
  4. Consistency errors - undo/reversal preconditions not met

Operations are all-or-nothing: an error means no state was mutated.

USAGE:
  if errors.Is(err, loan.ErrNotActive) { ... }
  var ee *loan.EngineError
  if errors.As(err, &ee) { code := ee.Code }
*/
package loan

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotPending      = errors.New("loan is not pending approval")
	ErrNotApproved     = errors.New("loan is not approved")
	ErrNotActive       = errors.New("loan is not active")
	ErrAlreadyClosed   = errors.New("loan is closed")
	ErrChargedOff      = errors.New("loan is charged off")
	ErrNotChargedOff   = errors.New("loan is not charged off")
	ErrNotMultiTranche = errors.New("loan does not allow tranche disbursements")

	ErrFutureDate        = errors.New("transaction date is in the future")
	ErrDateOutOfOrder    = errors.New("transaction date precedes the last transaction")
	ErrBusinessDateMoved = errors.New("business date has moved past the requested date")

	ErrNonPositiveAmount   = errors.New("amount must be positive")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrChargeNotFound      = errors.New("charge not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateExternalID = errors.New("external id already used")
	ErrChargePaidOrWaived  = errors.New("charge already paid or waived")

	ErrNotLatestTransaction = errors.New("transaction is not the most recent eligible one")
	ErrWrongTransactionType = errors.New("transaction is not of the expected type")
	ErrAlreadyReversed      = errors.New("transaction already reversed")
	ErrNoOverpayment        = errors.New("loan has no credit balance")
	ErrReplayFailed         = errors.New("reversal replay failed")
)

// =============================================================================
// ENGINE ERROR - Stable machine-readable code + taxonomy kind
// =============================================================================

type ErrorKind string

const (
	KindState       ErrorKind = "state"
	KindTemporal    ErrorKind = "temporal"
	KindValidation  ErrorKind = "validation"
	KindConsistency ErrorKind = "consistency"
)

type EngineError struct {
	Kind    ErrorKind
	Code    string // e.g. "loan.state.not-active"
	Message string
	Err     error // sentinel for errors.Is
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *EngineError) Unwrap() error { return e.Err }

func stateErr(code string, sentinel error, format string, args ...any) error {
	return &EngineError{Kind: KindState, Code: code, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

func temporalErr(code string, sentinel error, format string, args ...any) error {
	return &EngineError{Kind: KindTemporal, Code: code, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

func validationErr(code string, sentinel error, format string, args ...any) error {
	return &EngineError{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

func consistencyErr(code string, sentinel error, format string, args ...any) error {
	return &EngineError{Kind: KindConsistency, Code: code, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid client input
// rather than an engine fault. The API layer maps these to 4xx.
func IsClientError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}

// IsNotFound reports whether the error indicates a missing aggregate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsConflict reports whether the error indicates a state/ordering conflict.
func IsConflict(err error) bool {
	var ee *EngineError
	if !errors.As(err, &ee) {
		return false
	}
	return ee.Kind == KindState || ee.Kind == KindConsistency
}
