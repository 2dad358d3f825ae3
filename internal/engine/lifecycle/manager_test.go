package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrollx/payrun/internal/client/directory"
	"github.com/payrollx/payrun/internal/client/ledger"
	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/engine/aggregator"
	"github.com/payrollx/payrun/internal/engine/lifecycle"
	"github.com/payrollx/payrun/internal/engine/settlement"
	"github.com/payrollx/payrun/internal/metrics"
	"github.com/payrollx/payrun/internal/repository/inmemory"
	"github.com/payrollx/payrun/internal/support/exception"
)

type fakeDirectory struct {
	employees map[string]directory.Employee
	err       error
}

func (f *fakeDirectory) Lookup(ctx context.Context, employeeID string) (directory.Employee, error) {
	if f.err != nil {
		return directory.Employee{}, f.err
	}
	employee, ok := f.employees[employeeID]
	if !ok {
		return directory.Employee{}, directory.ErrEmployeeNotFound
	}
	return employee, nil
}

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, message []byte, keyShareIDs []string) (string, error) {
	return "sig", nil
}

type fakeLedger struct{}

func (fakeLedger) Submit(ctx context.Context, req ledger.SubmitRequest) (string, error) {
	return "tx-sig", nil
}

func (fakeLedger) Confirm(ctx context.Context, txSignature string) (ledger.ConfirmStatus, error) {
	return ledger.ConfirmConfirmed, nil
}

func eligibleEmployee(id, organizationID string) directory.Employee {
	return directory.Employee{
		ID:             id,
		OrganizationID: organizationID,
		KYCStatus:      "APPROVED",
		WalletAddress:  "9xQeWvG816bUx9EP",
		KeyShareIDs:    []string{"share-1", "share-2", "share-3"},
	}
}

func newTestManager(t *testing.T, dir directory.EmployeeDirectory) (*lifecycle.Manager, repository.PayrollRepository) {
	t.Helper()

	repo := inmemory.NewInMemoryPayrollRepository()
	recorder := metrics.NewNoOpMetricRecorder()
	agg := aggregator.NewStatusAggregator(repo, recorder)
	coordinator := settlement.NewCoordinator(repo, fakeSigner{}, fakeLedger{}, dir, agg, recorder, config.SettlementConfig{
		Workers:               1,
		QueueSize:             64,
		SignerThreshold:       2,
		MaxRetries:            3,
		SignTimeoutSeconds:    1,
		SubmitTimeoutSeconds:  1,
		ConfirmTimeoutSeconds: 1,
		ConfirmPollSeconds:    1,
	})

	return lifecycle.NewManager(context.Background(), repo, dir, coordinator, recorder), repo
}

func TestCreateRun_Success(t *testing.T) {
	dir := &fakeDirectory{employees: map[string]directory.Employee{
		"emp-1": eligibleEmployee("emp-1", "org-1"),
		"emp-2": eligibleEmployee("emp-2", "org-1"),
	}}
	manager, repo := newTestManager(t, dir)

	run, err := manager.CreateRun(context.Background(), lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		ScheduledAt:    time.Now().Add(time.Hour),
		Currency:       "USDC",
		CreatedBy:      "admin-1",
		Items: []lifecycle.ItemInput{
			{EmployeeID: "emp-1", Amount: 100_000},
			{EmployeeID: "emp-2", Amount: 250_000},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusDraft, run.Status)
	assert.Equal(t, int64(350_000), run.TotalAmount)
	require.Len(t, run.Items, 2)
	for _, item := range run.Items {
		assert.Equal(t, model.StatusDraft, item.Status)
	}

	persisted, err := repo.FindRunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, persisted.ID)
	require.Len(t, persisted.Items, 2)
}

func TestCreateRun_NoItems(t *testing.T) {
	manager, _ := newTestManager(t, &fakeDirectory{})

	_, err := manager.CreateRun(context.Background(), lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		Currency:       "USDC",
	})
	require.Error(t, err)
	assert.True(t, exception.IsValidation(err))
}

func TestCreateRun_CollectsAllOffenders(t *testing.T) {
	ineligible := eligibleEmployee("emp-pending", "org-1")
	ineligible.KYCStatus = "PENDING"
	foreign := eligibleEmployee("emp-foreign", "org-2")

	dir := &fakeDirectory{employees: map[string]directory.Employee{
		"emp-ok":      eligibleEmployee("emp-ok", "org-1"),
		"emp-pending": ineligible,
		"emp-foreign": foreign,
	}}
	manager, repo := newTestManager(t, dir)

	_, err := manager.CreateRun(context.Background(), lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		Currency:       "USDC",
		Items: []lifecycle.ItemInput{
			{EmployeeID: "emp-ok", Amount: 100_000},
			{EmployeeID: "emp-missing", Amount: 100_000},
			{EmployeeID: "emp-pending", Amount: 100_000},
			{EmployeeID: "emp-foreign", Amount: 100_000},
			{EmployeeID: "emp-zero", Amount: 0},
			{EmployeeID: "emp-ok", Amount: 100_000},
		},
	})
	require.Error(t, err)

	var ve *exception.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ElementsMatch(t,
		[]string{"emp-missing", "emp-pending", "emp-foreign", "emp-zero", "emp-ok"},
		ve.EmployeeIDs)

	// Fail closed: nothing persisted.
	runs, err := repo.FindRunsByOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCreateRun_LookupFailure(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("dial tcp: connection refused")}
	manager, _ := newTestManager(t, dir)

	_, err := manager.CreateRun(context.Background(), lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		Currency:       "USDC",
		Items:          []lifecycle.ItemInput{{EmployeeID: "emp-1", Amount: 100_000}},
	})
	require.Error(t, err)
	assert.False(t, exception.IsValidation(err))
	assert.True(t, exception.IsTemporary(err))
}

func TestExecuteRun(t *testing.T) {
	dir := &fakeDirectory{employees: map[string]directory.Employee{
		"emp-1": eligibleEmployee("emp-1", "org-1"),
	}}
	manager, repo := newTestManager(t, dir)
	ctx := context.Background()

	created, err := manager.CreateRun(ctx, lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		Currency:       "USDC",
		Items:          []lifecycle.ItemInput{{EmployeeID: "emp-1", Amount: 100_000}},
	})
	require.NoError(t, err)

	executed, err := manager.ExecuteRun(ctx, created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, executed.Status)

	persisted, err := repo.FindRunByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, persisted.Status)
	for _, item := range persisted.Items {
		assert.Equal(t, model.StatusPending, item.Status)
	}
}

func TestExecuteRun_NotDraft(t *testing.T) {
	dir := &fakeDirectory{employees: map[string]directory.Employee{
		"emp-1": eligibleEmployee("emp-1", "org-1"),
	}}
	manager, _ := newTestManager(t, dir)
	ctx := context.Background()

	created, err := manager.CreateRun(ctx, lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		Currency:       "USDC",
		Items:          []lifecycle.ItemInput{{EmployeeID: "emp-1", Amount: 100_000}},
	})
	require.NoError(t, err)

	_, err = manager.ExecuteRun(ctx, created.ID, false)
	require.NoError(t, err)

	_, err = manager.ExecuteRun(ctx, created.ID, false)
	require.Error(t, err)
	assert.True(t, exception.IsInvalidState(err))

	// force does not bypass the DRAFT requirement.
	_, err = manager.ExecuteRun(ctx, created.ID, true)
	require.Error(t, err)
	assert.True(t, exception.IsInvalidState(err))
}

func TestExecuteRun_NotFound(t *testing.T) {
	manager, _ := newTestManager(t, &fakeDirectory{})

	_, err := manager.ExecuteRun(context.Background(), "no-such-run", false)
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
}

func TestDeleteRun_Draft(t *testing.T) {
	dir := &fakeDirectory{employees: map[string]directory.Employee{
		"emp-1": eligibleEmployee("emp-1", "org-1"),
	}}
	manager, repo := newTestManager(t, dir)
	ctx := context.Background()

	created, err := manager.CreateRun(ctx, lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		Currency:       "USDC",
		Items:          []lifecycle.ItemInput{{EmployeeID: "emp-1", Amount: 100_000}},
	})
	require.NoError(t, err)
	itemID := created.Items[0].ID

	require.NoError(t, manager.DeleteRun(ctx, created.ID))

	_, err = repo.FindRunByID(ctx, created.ID)
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
	_, err = repo.FindItemByID(ctx, itemID)
	assert.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestDeleteRun_NotDraft(t *testing.T) {
	dir := &fakeDirectory{employees: map[string]directory.Employee{
		"emp-1": eligibleEmployee("emp-1", "org-1"),
	}}
	manager, _ := newTestManager(t, dir)
	ctx := context.Background()

	created, err := manager.CreateRun(ctx, lifecycle.CreateRunInput{
		OrganizationID: "org-1",
		Currency:       "USDC",
		Items:          []lifecycle.ItemInput{{EmployeeID: "emp-1", Amount: 100_000}},
	})
	require.NoError(t, err)

	_, err = manager.ExecuteRun(ctx, created.ID, false)
	require.NoError(t, err)

	err = manager.DeleteRun(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, exception.IsInvalidState(err))
}

func TestListRuns(t *testing.T) {
	dir := &fakeDirectory{employees: map[string]directory.Employee{
		"emp-1": eligibleEmployee("emp-1", "org-1"),
	}}
	manager, _ := newTestManager(t, dir)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := manager.CreateRun(ctx, lifecycle.CreateRunInput{
			OrganizationID: "org-1",
			Currency:       "USDC",
			Items:          []lifecycle.ItemInput{{EmployeeID: "emp-1", Amount: 100_000}},
		})
		require.NoError(t, err)
	}

	runs, err := manager.ListRuns(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	none, err := manager.ListRuns(ctx, "org-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
