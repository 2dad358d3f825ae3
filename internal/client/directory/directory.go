package directory

import (
	"context"
	"errors"
)

// ErrEmployeeNotFound is returned when the directory has no record for an
// employee ID.
var ErrEmployeeNotFound = errors.New("employee not found")

// Employee is the directory's view of an employee, as far as disbursement
// eligibility is concerned.
type Employee struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	KYCStatus      string   `json:"kyc_status"`
	Deleted        bool     `json:"deleted"`
	WalletAddress  string   `json:"wallet_address"`
	KeyShareIDs    []string `json:"key_share_ids"`
}

// EligibleFor reports whether the employee can receive a disbursement from
// the given organization.
func (e Employee) EligibleFor(organizationID string) bool {
	return e.OrganizationID == organizationID &&
		e.KYCStatus == "APPROVED" &&
		!e.Deleted &&
		e.WalletAddress != "" &&
		len(e.KeyShareIDs) > 0
}

// EmployeeDirectory resolves employee records for eligibility checks and
// settlement routing.
type EmployeeDirectory interface {
	Lookup(ctx context.Context, employeeID string) (Employee, error)
}
