package sql

import (
	"time"

	"github.com/payrollx/payrun/internal/domain/model"
)

// PayrollRunEntity is a schema model used for persistence.
type PayrollRunEntity struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string
	ScheduledAt    time.Time
	TotalAmount    int64
	Currency       string
	Status         model.PayrollStatus
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
	Version        int
	// Items are persisted separately; no GORM association to keep schema
	// parsing predictable across dialects.
}

func (PayrollRunEntity) TableName() string {
	return "payroll_runs"
}

// PayrollItemEntity is a schema model used for persistence.
type PayrollItemEntity struct {
	ID          string `gorm:"primaryKey"`
	RunID       string
	EmployeeID  string
	Amount      int64
	Status      model.PayrollStatus
	TxSignature *string
	RetryCount  int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	Version     int
}

func (PayrollItemEntity) TableName() string {
	return "payroll_items"
}
