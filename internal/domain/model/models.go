package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

// PayrollStatus represents the state of a payroll run or payroll item.
type PayrollStatus string

const (
	StatusDraft      PayrollStatus = "DRAFT"
	StatusPending    PayrollStatus = "PENDING"
	StatusProcessing PayrollStatus = "PROCESSING"
	StatusCompleted  PayrollStatus = "COMPLETED"
	StatusFailed     PayrollStatus = "FAILED"
)

// String returns the string representation of the PayrollStatus.
func (s PayrollStatus) String() string {
	return string(s)
}

// IsTerminal checks if the PayrollStatus represents a terminal state.
// A FAILED item may still re-enter PROCESSING through a retry attempt, but
// that re-entry is modeled as an explicit retry transition, not an automatic one.
func (s PayrollStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// PayrollRun is a batch of payments scheduled for disbursement together.
// TotalAmount is fixed at creation time as the exact sum of its items'
// amounts; only status and timestamps change once the run leaves DRAFT.
type PayrollRun struct {
	ID             string
	OrganizationID string
	ScheduledAt    time.Time
	TotalAmount    int64
	Currency       string
	Status         PayrollStatus
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
	Items          []*PayrollItem
	Version        int
}

// PayrollItem is one employee's payment within a run. EmployeeID and Amount
// are immutable after creation; Amount is in minor units of the run currency.
type PayrollItem struct {
	ID          string
	RunID       string
	EmployeeID  string
	Amount      int64
	Status      PayrollStatus
	TxSignature *string
	RetryCount  int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	Version     int
}

// SettlementRequest is the ephemeral value object handed to the signer and
// ledger clients. It is derived from a PayrollItem plus the employee's linked
// wallet and never persisted on its own.
type SettlementRequest struct {
	ItemID        string
	RunID         string
	WalletAddress string
	Amount        int64
	TokenMint     string
	KeyShareIDs   []string
}

// CompletionEvent is emitted exactly once when a run reaches a terminal
// state. Delivery to sinks is at-least-once; consumers tolerate duplicates.
type CompletionEvent struct {
	RunID          string
	FinalStatus    PayrollStatus
	CompletedCount int
	FailedCount    int
	Timestamp      time.Time
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// NewPayrollRun creates a new PayrollRun in DRAFT with the given items, also
// in DRAFT. TotalAmount is computed as the exact sum of the item amounts.
func NewPayrollRun(organizationID string, scheduledAt time.Time, currency, createdBy string, items []*PayrollItem) *PayrollRun {
	now := time.Now()
	run := &PayrollRun{
		ID:             NewID(),
		OrganizationID: organizationID,
		ScheduledAt:    scheduledAt,
		Currency:       currency,
		Status:         StatusDraft,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          make([]*PayrollItem, 0, len(items)),
		Version:        0,
	}
	for _, item := range items {
		item.RunID = run.ID
		run.TotalAmount += item.Amount
		run.Items = append(run.Items, item)
	}
	return run
}

// NewPayrollItem creates a new PayrollItem in DRAFT. The run ID is assigned
// when the item is attached to a run by NewPayrollRun.
func NewPayrollItem(employeeID string, amount int64) *PayrollItem {
	now := time.Now()
	return &PayrollItem{
		ID:         NewID(),
		EmployeeID: employeeID,
		Amount:     amount,
		Status:     StatusDraft,
		RetryCount: 0,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    0,
	}
}

// isValidRunTransition checks if the state transition for a PayrollRun is valid.
// Runs never skip a state: DRAFT -> PENDING -> PROCESSING -> {COMPLETED|FAILED}.
// A FAILED run may still reach COMPLETED once every failed item is retried to
// completion; COMPLETED is final.
func isValidRunTransition(current, next PayrollStatus) bool {
	switch current {
	case StatusDraft:
		return next == StatusPending
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusCompleted
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the PayrollRun.
// Fields other than Status and UpdatedAt must be set separately by the caller.
func (r *PayrollRun) TransitionTo(next PayrollStatus) error {
	if !isValidRunTransition(r.Status, next) {
		return fmt.Errorf("PayrollRun (ID: %s): invalid state transition: %s -> %s", r.ID, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = time.Now()
	return nil
}

// MarkAsPending transitions the run to PENDING on execute.
func (r *PayrollRun) MarkAsPending() error {
	return r.TransitionTo(StatusPending)
}

// MarkAsProcessing transitions the run to PROCESSING once settlement begins.
func (r *PayrollRun) MarkAsProcessing() error {
	return r.TransitionTo(StatusProcessing)
}

// MarkAsCompleted transitions the run to its COMPLETED terminal state.
func (r *PayrollRun) MarkAsCompleted() error {
	return r.TransitionTo(StatusCompleted)
}

// MarkAsFailed transitions the run to its FAILED terminal state.
func (r *PayrollRun) MarkAsFailed() error {
	return r.TransitionTo(StatusFailed)
}

// SoftDelete marks the run and all of its items as deleted. Items never
// outlive their run.
func (r *PayrollRun) SoftDelete() {
	now := time.Now()
	r.DeletedAt = &now
	r.UpdatedAt = now
	for _, item := range r.Items {
		item.DeletedAt = &now
		item.UpdatedAt = now
	}
}

// IsDeleted reports whether the run carries a soft-delete marker.
func (r *PayrollRun) IsDeleted() bool {
	return r.DeletedAt != nil
}

// CountByStatus returns the number of items currently in the given status.
func (r *PayrollRun) CountByStatus(status PayrollStatus) int {
	count := 0
	for _, item := range r.Items {
		if item.Status == status {
			count++
		}
	}
	return count
}

// AllItemsTerminal reports whether every item of the run has reached a
// terminal state.
func (r *PayrollRun) AllItemsTerminal() bool {
	for _, item := range r.Items {
		if !item.Status.IsTerminal() {
			return false
		}
	}
	return len(r.Items) > 0
}

// isValidItemTransition checks if the state transition for a PayrollItem is valid.
// FAILED -> PROCESSING is the retry re-entry path driven by the retry sweep.
func isValidItemTransition(current, next PayrollStatus) bool {
	switch current {
	case StatusDraft:
		return next == StatusPending || next == StatusProcessing
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusProcessing
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the PayrollItem.
func (i *PayrollItem) TransitionTo(next PayrollStatus) error {
	if !isValidItemTransition(i.Status, next) {
		return fmt.Errorf("PayrollItem (ID: %s): invalid state transition: %s -> %s", i.ID, i.Status, next)
	}
	i.Status = next
	i.UpdatedAt = time.Now()
	return nil
}

// MarkAsProcessing transitions the item to PROCESSING when settlement starts.
func (i *PayrollItem) MarkAsProcessing() error {
	return i.TransitionTo(StatusProcessing)
}

// MarkAsCompleted transitions the item to COMPLETED and records the ledger
// signature as the settlement proof.
func (i *PayrollItem) MarkAsCompleted(txSignature string) {
	if err := i.TransitionTo(StatusCompleted); err != nil {
		logger.Warnf("Could not update PayrollItem (ID: %s) status to COMPLETED: %v", i.ID, err)
		i.Status = StatusCompleted
	}
	i.TxSignature = &txSignature
	i.LastError = nil
	i.UpdatedAt = time.Now()
}

// MarkAsFailed transitions the item to FAILED and records the error.
func (i *PayrollItem) MarkAsFailed(err error) {
	if terr := i.TransitionTo(StatusFailed); terr != nil {
		logger.Warnf("Could not update PayrollItem (ID: %s) status to FAILED: %v", i.ID, terr)
		i.Status = StatusFailed
	}
	if err != nil {
		msg := exception.ExtractErrorMessage(err)
		i.LastError = &msg
	}
	i.UpdatedAt = time.Now()
}

// IncrementRetryCount increments the item's retry count by 1.
func (i *PayrollItem) IncrementRetryCount() {
	i.RetryCount++
	i.UpdatedAt = time.Now()
	logger.Debugf("PayrollItem (ID: %s) retry count updated to %d.", i.ID, i.RetryCount)
}

// IsDeleted reports whether the item carries a soft-delete marker.
func (i *PayrollItem) IsDeleted() bool {
	return i.DeletedAt != nil
}
