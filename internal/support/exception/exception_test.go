package exception_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/payrollx/payrun/internal/support/exception"
)

func TestSettlementError_Error(t *testing.T) {
	cause := errors.New("connection refused")
	err := exception.NewSettlementError("ledger", "failed to submit transaction", cause, true)

	assert.Equal(t, "[ledger] failed to submit transaction: connection refused", err.Error())
	assert.True(t, err.IsRetryable())
	assert.NotEmpty(t, err.StackTrace)
}

func TestSettlementError_ErrorWithoutCause(t *testing.T) {
	err := exception.NewSettlementError("signer", "empty signature returned", nil, false)

	assert.Equal(t, "[signer] empty signature returned", err.Error())
	assert.False(t, err.IsRetryable())
}

func TestSettlementError_Unwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := exception.NewSettlementError("repository", "update failed", cause, false)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestNewOptimisticLockError(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := exception.NewOptimisticLockError("repository", "run update conflicted", nil)

		assert.True(t, exception.IsOptimisticLockFailure(err))
		assert.True(t, err.IsRetryable())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("stale row")
		err := exception.NewOptimisticLockError("repository", "item update conflicted", cause)

		assert.True(t, exception.IsOptimisticLockFailure(err))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("wrapped once more", func(t *testing.T) {
		err := fmt.Errorf("persisting item: %w", exception.NewOptimisticLockError("repository", "conflict", nil))

		assert.True(t, exception.IsOptimisticLockFailure(err))
	})
}

func TestIsOptimisticLockFailure_Negative(t *testing.T) {
	assert.False(t, exception.IsOptimisticLockFailure(nil))
	assert.False(t, exception.IsOptimisticLockFailure(errors.New("some other error")))
	assert.False(t, exception.IsOptimisticLockFailure(
		exception.NewSettlementError("ledger", "submit failed", nil, true)))
}

func TestValidationError(t *testing.T) {
	err := exception.NewValidationError("one or more employees are missing or ineligible", []string{"emp-1", "emp-2"})

	assert.Equal(t, "one or more employees are missing or ineligible: [emp-1, emp-2]", err.Error())
	assert.True(t, exception.IsValidation(err))
	assert.True(t, exception.IsValidation(fmt.Errorf("creating run: %w", err)))
}

func TestValidationError_NoIDs(t *testing.T) {
	err := exception.NewValidationError("a payroll run requires at least one item", nil)

	assert.Equal(t, "a payroll run requires at least one item", err.Error())
}

func TestInvalidStateError(t *testing.T) {
	err := exception.NewInvalidStateError("payroll run", "run-1", "PROCESSING", "executed")

	assert.Equal(t, "payroll run (ID: run-1) cannot be executed in status PROCESSING", err.Error())
	assert.True(t, exception.IsInvalidState(err))
	assert.False(t, exception.IsInvalidState(errors.New("plain error")))
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"retryable settlement error", exception.NewSettlementError("ledger", "timed out", nil, true), true},
		{"non-retryable settlement error", exception.NewSettlementError("signer", "invalid request", errors.New("timeout"), false), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline exceeded", fmt.Errorf("confirming: %w", context.DeadlineExceeded), true},
		{"connection refused text", errors.New("dial tcp: connection refused"), true},
		{"timeout text", errors.New("i/o timeout"), true},
		{"unexpected EOF", errors.New("unexpected EOF"), true},
		{"plain error", errors.New("invalid wallet address"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exception.IsTemporary(tt.err))
		})
	}
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "plain failure", exception.ExtractErrorMessage(errors.New("plain failure")))

	se := exception.NewSettlementError("ledger", "transaction rejected", errors.New("insufficient funds"), false)
	assert.Equal(t, "transaction rejected", exception.ExtractErrorMessage(se))
	assert.Equal(t, "transaction rejected", exception.ExtractErrorMessage(fmt.Errorf("settling: %w", se)))
}
