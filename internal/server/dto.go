package server

import (
	"time"

	"github.com/payrollx/payrun/internal/domain/model"
)

// CreateRunItemRequest is one requested payment in a create-run call.
type CreateRunItemRequest struct {
	EmployeeID string `json:"employee_id" example:"emp-1f2e3d"`
	Amount     int64  `json:"amount" minimum:"1" doc:"Amount in minor units of the run currency" example:"2500000000"`
}

// CreateRunRequest is the body of the create-run operation.
type CreateRunRequest struct {
	ScheduledAt time.Time              `json:"scheduled_at"`
	Currency    string                 `json:"currency" default:"USDC" example:"USDC"`
	CreatedBy   string                 `json:"created_by,omitempty"`
	Items       []CreateRunItemRequest `json:"items" minItems:"1"`
}

// ExecuteRunRequest is the body of the execute operation. Force is accepted
// for compatibility and has no effect.
type ExecuteRunRequest struct {
	Force bool `json:"force,omitempty"`
}

// ItemResponse is the wire form of a payroll item.
type ItemResponse struct {
	ID          string    `json:"id"`
	EmployeeID  string    `json:"employee_id"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	TxSignature *string   `json:"tx_signature,omitempty"`
	RetryCount  int       `json:"retry_count"`
	LastError   *string   `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunResponse is the wire form of a payroll run with its items.
type RunResponse struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
	TotalAmount    int64          `json:"total_amount"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Items          []ItemResponse `json:"items"`
}

// ExecuteRunResponse acknowledges an accepted execution.
type ExecuteRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status" example:"PENDING"`
}

func itemResponse(item *model.PayrollItem) ItemResponse {
	return ItemResponse{
		ID:          item.ID,
		EmployeeID:  item.EmployeeID,
		Amount:      item.Amount,
		Status:      item.Status.String(),
		TxSignature: item.TxSignature,
		RetryCount:  item.RetryCount,
		LastError:   item.LastError,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func runResponse(run *model.PayrollRun) RunResponse {
	items := make([]ItemResponse, 0, len(run.Items))
	for _, item := range run.Items {
		items = append(items, itemResponse(item))
	}
	return RunResponse{
		ID:             run.ID,
		OrganizationID: run.OrganizationID,
		ScheduledAt:    run.ScheduledAt,
		TotalAmount:    run.TotalAmount,
		Currency:       run.Currency,
		Status:         run.Status.String(),
		CreatedBy:      run.CreatedBy,
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
		Items:          items,
	}
}

func mapRuns(runs []*model.PayrollRun) []RunResponse {
	res := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		res = append(res, runResponse(run))
	}
	return res
}
