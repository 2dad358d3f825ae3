// Package exception provides the error taxonomy shared by the payroll
// orchestrator. It standardizes errors raised during run creation, execution
// and settlement so callers can classify them for retries and for the admin
// surface without matching on message strings.
package exception

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// SettlementError is the error type raised inside the settlement path.
// It carries the module where the error occurred, a message, the wrapped
// cause, and a flag indicating whether the retry sweep should pick it up.
type SettlementError struct {
	// Module indicates where the error occurred (e.g. "signer", "ledger", "repository").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	// isRetryable indicates whether a later retry attempt may succeed.
	isRetryable bool
	// StackTrace is the stack at the time of the error (debugging only).
	StackTrace string
}

// NewSettlementError creates a new SettlementError instance.
func NewSettlementError(module, message string, originalErr error, isRetryable bool) *SettlementError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &SettlementError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		StackTrace:  string(buf[:n]),
	}
}

// Error implements the error interface.
func (e *SettlementError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause for errors.Unwrap.
func (e *SettlementError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether the retry sweep should pick this error up.
func (e *SettlementError) IsRetryable() bool {
	return e.isRetryable
}

// ValidationError reports a run creation request that failed eligibility or
// input validation. EmployeeIDs lists every offending employee reference so
// the caller sees the full set in one response, not just the first.
type ValidationError struct {
	Message     string
	EmployeeIDs []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.EmployeeIDs) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: [%s]", e.Message, strings.Join(e.EmployeeIDs, ", "))
}

// NewValidationError creates a ValidationError listing the offending employee IDs.
func NewValidationError(message string, employeeIDs []string) *ValidationError {
	return &ValidationError{Message: message, EmployeeIDs: employeeIDs}
}

// InvalidStateError reports an operation attempted against a run or item that
// is not in a state permitting it (e.g. executing a non-DRAFT run).
type InvalidStateError struct {
	Entity  string
	ID      string
	Current string
	Op      string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s (ID: %s) cannot be %s in status %s", e.Entity, e.ID, e.Op, e.Current)
}

// NewInvalidStateError creates an InvalidStateError.
func NewInvalidStateError(entity, id, current, op string) *InvalidStateError {
	return &InvalidStateError{Entity: entity, ID: id, Current: current, Op: op}
}

// ErrOptimisticLockFailure is the sentinel for a lost update detected through
// the version check on a run or item write. Callers retry internally with
// fresh state; it is never surfaced to the admin caller.
var ErrOptimisticLockFailure = errors.New("optimistic locking failure")

// NewOptimisticLockError wraps an optimistic locking failure as a
// SettlementError. The conflict itself is retryable by re-reading state.
func NewOptimisticLockError(module, message string, originalErr error) *SettlementError {
	var cause error
	if originalErr != nil {
		cause = errors.Join(ErrOptimisticLockFailure, originalErr)
	} else {
		cause = ErrOptimisticLockFailure
	}
	return NewSettlementError(module, message, cause, true)
}

// IsOptimisticLockFailure determines if an error indicates a lost update.
func IsOptimisticLockFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockFailure)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

// IsTemporary determines if an error is temporary (network error, timeout,
// signer or ledger briefly unreachable). The retry sweep uses this to decide
// whether a FAILED item is worth another attempt.
// For a SettlementError the IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *SettlementError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// ExtractErrorMessage extracts the message string recorded on a failed item.
// For SettlementError it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
