package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/payrollx/payrun/internal/client/directory"
	"github.com/payrollx/payrun/internal/client/ledger"
	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/engine/aggregator"
	"github.com/payrollx/payrun/internal/engine/settlement"
	"github.com/payrollx/payrun/internal/metrics"
	"github.com/payrollx/payrun/internal/repository/inmemory"
	"github.com/payrollx/payrun/internal/support/exception"
)

type stubSigner struct {
	sign func(ctx context.Context, message []byte, keyShareIDs []string) (string, error)
}

func (s *stubSigner) Sign(ctx context.Context, message []byte, keyShareIDs []string) (string, error) {
	if s.sign != nil {
		return s.sign(ctx, message, keyShareIDs)
	}
	return "sig", nil
}

type stubLedger struct {
	submit  func(ctx context.Context, req ledger.SubmitRequest) (string, error)
	confirm func(ctx context.Context, txSignature string) (ledger.ConfirmStatus, error)
}

func (l *stubLedger) Submit(ctx context.Context, req ledger.SubmitRequest) (string, error) {
	if l.submit != nil {
		return l.submit(ctx, req)
	}
	return "tx-sig", nil
}

func (l *stubLedger) Confirm(ctx context.Context, txSignature string) (ledger.ConfirmStatus, error) {
	if l.confirm != nil {
		return l.confirm(ctx, txSignature)
	}
	return ledger.ConfirmConfirmed, nil
}

type stubDirectory struct {
	employees map[string]directory.Employee
}

func (d *stubDirectory) Lookup(ctx context.Context, employeeID string) (directory.Employee, error) {
	employee, ok := d.employees[employeeID]
	if !ok {
		return directory.Employee{}, directory.ErrEmployeeNotFound
	}
	return employee, nil
}

func testConfig() config.SettlementConfig {
	return config.SettlementConfig{
		Workers:               1,
		QueueSize:             16,
		SignerThreshold:       2,
		MaxRetries:            3,
		SignTimeoutSeconds:    2,
		SubmitTimeoutSeconds:  2,
		ConfirmTimeoutSeconds: 2,
		ConfirmPollSeconds:    1,
		TokenMint:             "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	}
}

// seedPendingRun stores an executed run with one PENDING item and returns it.
func seedPendingRun(t *testing.T, repo *inmemory.InMemoryPayrollRepository, employeeID string) *model.PayrollRun {
	t.Helper()

	item := model.NewPayrollItem(employeeID, 100_000)
	item.Status = model.StatusPending
	run := model.NewPayrollRun("org-1", time.Now(), "USDC", "admin-1", []*model.PayrollItem{item})
	run.Status = model.StatusPending
	require.NoError(t, repo.SaveRun(context.Background(), run))
	return run
}

func newCoordinator(repo *inmemory.InMemoryPayrollRepository, s *stubSigner, l *stubLedger, d *stubDirectory) *settlement.Coordinator {
	recorder := metrics.NewNoOpMetricRecorder()
	agg := aggregator.NewStatusAggregator(repo, recorder)
	return settlement.NewCoordinator(repo, s, l, d, agg, recorder, testConfig())
}

func TestSettleItem_Success(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	run := seedPendingRun(t, repo, "emp-1")
	itemID := run.Items[0].ID

	var signedShares []string
	s := &stubSigner{sign: func(ctx context.Context, message []byte, keyShareIDs []string) (string, error) {
		signedShares = keyShareIDs
		return "sig", nil
	}}
	d := &stubDirectory{employees: map[string]directory.Employee{
		"emp-1": {
			ID:             "emp-1",
			OrganizationID: "org-1",
			KYCStatus:      "APPROVED",
			WalletAddress:  "9xQeWvG816bUx9EP",
			KeyShareIDs:    []string{"share-1", "share-2", "share-3"},
		},
	}}
	c := newCoordinator(repo, s, &stubLedger{}, d)

	err := c.SettleItem(context.Background(), run.ID, itemID, false)
	require.NoError(t, err)

	// Only the threshold prefix of the wallet's shares goes to the signer.
	assert.Equal(t, []string{"share-1", "share-2"}, signedShares)

	item, err := repo.FindItemByID(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, item.Status)
	require.NotNil(t, item.TxSignature)
	assert.Equal(t, "tx-sig", *item.TxSignature)
	assert.Nil(t, item.LastError)

	// The single item was the whole run, so the run closes COMPLETED.
	final, err := repo.FindRunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, final.Status)
}

func TestSettleItem_LedgerRejection(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	run := seedPendingRun(t, repo, "emp-1")
	itemID := run.Items[0].ID

	l := &stubLedger{confirm: func(ctx context.Context, txSignature string) (ledger.ConfirmStatus, error) {
		return ledger.ConfirmFailed, nil
	}}
	d := &stubDirectory{employees: map[string]directory.Employee{
		"emp-1": {
			ID:             "emp-1",
			OrganizationID: "org-1",
			KYCStatus:      "APPROVED",
			WalletAddress:  "9xQeWvG816bUx9EP",
			KeyShareIDs:    []string{"share-1", "share-2"},
		},
	}}
	c := newCoordinator(repo, &stubSigner{}, l, d)

	err := c.SettleItem(context.Background(), run.ID, itemID, false)
	require.NoError(t, err)

	item, err := repo.FindItemByID(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, item.Status)
	assert.Nil(t, item.TxSignature)
	require.NotNil(t, item.LastError)
	assert.Contains(t, *item.LastError, "failed on the ledger")

	final, err := repo.FindRunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, final.Status)
}

func TestSettleItem_SignerError(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	run := seedPendingRun(t, repo, "emp-1")
	itemID := run.Items[0].ID

	s := &stubSigner{sign: func(ctx context.Context, message []byte, keyShareIDs []string) (string, error) {
		return "", exception.NewSettlementError("signer", "MPC ceremony failed", nil, true)
	}}
	d := &stubDirectory{employees: map[string]directory.Employee{
		"emp-1": {
			ID:             "emp-1",
			OrganizationID: "org-1",
			KYCStatus:      "APPROVED",
			WalletAddress:  "9xQeWvG816bUx9EP",
			KeyShareIDs:    []string{"share-1", "share-2"},
		},
	}}
	c := newCoordinator(repo, s, &stubLedger{}, d)

	err := c.SettleItem(context.Background(), run.ID, itemID, false)
	require.NoError(t, err)

	item, err := repo.FindItemByID(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, item.Status)
	require.NotNil(t, item.LastError)
	assert.Equal(t, "MPC ceremony failed", *item.LastError)
}

func TestSettleItem_MissingEmployee(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	run := seedPendingRun(t, repo, "emp-gone")
	itemID := run.Items[0].ID

	c := newCoordinator(repo, &stubSigner{}, &stubLedger{}, &stubDirectory{})

	err := c.SettleItem(context.Background(), run.ID, itemID, false)
	require.NoError(t, err)

	item, err := repo.FindItemByID(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, item.Status)
	require.NotNil(t, item.LastError)
	assert.Contains(t, *item.LastError, "no longer exists")
}

func TestSettleItem_CompletedIsSkipped(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	run := seedPendingRun(t, repo, "emp-1")
	itemID := run.Items[0].ID

	item, err := repo.FindItemByID(context.Background(), itemID)
	require.NoError(t, err)
	require.NoError(t, item.MarkAsProcessing())
	item.MarkAsCompleted("existing-tx")
	require.NoError(t, repo.UpdateItem(context.Background(), item))

	signCalls := 0
	s := &stubSigner{sign: func(ctx context.Context, message []byte, keyShareIDs []string) (string, error) {
		signCalls++
		return "sig", nil
	}}
	c := newCoordinator(repo, s, &stubLedger{}, &stubDirectory{})

	err = c.SettleItem(context.Background(), run.ID, itemID, false)
	require.NoError(t, err)
	assert.Zero(t, signCalls)

	fresh, err := repo.FindItemByID(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, fresh.Status)
	require.NotNil(t, fresh.TxSignature)
	assert.Equal(t, "existing-tx", *fresh.TxSignature)
}

func TestSettleItem_UnknownItem(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	c := newCoordinator(repo, &stubSigner{}, &stubLedger{}, &stubDirectory{})

	err := c.SettleItem(context.Background(), "run-x", "no-such-item", false)
	assert.NoError(t, err)
}

func TestSettleItem_ConfirmationEventuallyLands(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	run := seedPendingRun(t, repo, "emp-1")
	itemID := run.Items[0].ID

	confirms := 0
	l := &stubLedger{confirm: func(ctx context.Context, txSignature string) (ledger.ConfirmStatus, error) {
		confirms++
		if confirms < 2 {
			return ledger.ConfirmPending, nil
		}
		return ledger.ConfirmConfirmed, nil
	}}
	d := &stubDirectory{employees: map[string]directory.Employee{
		"emp-1": {
			ID:             "emp-1",
			OrganizationID: "org-1",
			KYCStatus:      "APPROVED",
			WalletAddress:  "9xQeWvG816bUx9EP",
			KeyShareIDs:    []string{"share-1", "share-2"},
		},
	}}
	c := newCoordinator(repo, &stubSigner{}, l, d)

	err := c.SettleItem(context.Background(), run.ID, itemID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, confirms)

	item, err := repo.FindItemByID(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, item.Status)
}

func TestWorkerPool_DrainsQueue(t *testing.T) {
	repo := inmemory.NewInMemoryPayrollRepository()
	d := &stubDirectory{employees: map[string]directory.Employee{
		"emp-1": {
			ID:             "emp-1",
			OrganizationID: "org-1",
			KYCStatus:      "APPROVED",
			WalletAddress:  "9xQeWvG816bUx9EP",
			KeyShareIDs:    []string{"share-1", "share-2"},
		},
	}}

	items := make([]*model.PayrollItem, 0, 4)
	for i := 0; i < 4; i++ {
		item := model.NewPayrollItem("emp-1", 100_000)
		item.Status = model.StatusPending
		items = append(items, item)
	}
	run := model.NewPayrollRun("org-1", time.Now(), "USDC", "admin-1", items)
	run.Status = model.StatusPending
	require.NoError(t, repo.SaveRun(context.Background(), run))

	c := newCoordinator(repo, &stubSigner{}, &stubLedger{}, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	for _, item := range run.Items {
		require.NoError(t, c.Enqueue(ctx, run.ID, item.ID, false))
	}
	c.Stop()

	final, err := repo.FindRunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, final.Status)
	assert.Equal(t, 4, final.CountByStatus(model.StatusCompleted))
}

func TestSettleItem_PhaseTimeouts(t *testing.T) {
	eligible := map[string]directory.Employee{
		"emp-1": {
			ID:             "emp-1",
			OrganizationID: "org-1",
			KYCStatus:      "APPROVED",
			WalletAddress:  "9xQeWvG816bUx9EP",
			KeyShareIDs:    []string{"share-1", "share-2"},
		},
	}
	cfg := testConfig()
	cfg.SignTimeoutSeconds = 1
	cfg.SubmitTimeoutSeconds = 1
	cfg.ConfirmTimeoutSeconds = 1

	newTimeoutCoordinator := func(repo *inmemory.InMemoryPayrollRepository, s *stubSigner, l *stubLedger) *settlement.Coordinator {
		recorder := metrics.NewNoOpMetricRecorder()
		agg := aggregator.NewStatusAggregator(repo, recorder)
		return settlement.NewCoordinator(repo, s, l, &stubDirectory{employees: eligible}, agg, recorder, cfg)
	}

	settledItem := func(t *testing.T, repo *inmemory.InMemoryPayrollRepository, c *settlement.Coordinator) *model.PayrollItem {
		t.Helper()
		run := seedPendingRun(t, repo, "emp-1")
		require.NoError(t, c.SettleItem(context.Background(), run.ID, run.Items[0].ID, false))
		item, err := repo.FindItemByID(context.Background(), run.Items[0].ID)
		require.NoError(t, err)
		return item
	}

	t.Run("signer timeout", func(t *testing.T) {
		repo := inmemory.NewInMemoryPayrollRepository()
		s := &stubSigner{sign: func(ctx context.Context, message []byte, keyShareIDs []string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}

		item := settledItem(t, repo, newTimeoutCoordinator(repo, s, &stubLedger{}))

		assert.Equal(t, model.StatusFailed, item.Status)
		require.NotNil(t, item.LastError)
		assert.Equal(t, "Signing timed out", *item.LastError)
	})

	t.Run("ledger submission timeout", func(t *testing.T) {
		repo := inmemory.NewInMemoryPayrollRepository()
		l := &stubLedger{submit: func(ctx context.Context, req ledger.SubmitRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}

		item := settledItem(t, repo, newTimeoutCoordinator(repo, &stubSigner{}, l))

		assert.Equal(t, model.StatusFailed, item.Status)
		require.NotNil(t, item.LastError)
		assert.Equal(t, "Ledger submission timed out", *item.LastError)
	})

	t.Run("confirmation timeout", func(t *testing.T) {
		repo := inmemory.NewInMemoryPayrollRepository()
		l := &stubLedger{confirm: func(ctx context.Context, txSignature string) (ledger.ConfirmStatus, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}

		item := settledItem(t, repo, newTimeoutCoordinator(repo, &stubSigner{}, l))

		assert.Equal(t, model.StatusFailed, item.Status)
		require.NotNil(t, item.LastError)
		assert.Contains(t, *item.LastError, "timed out")
	})
}

func TestSettleItem_EmitsSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	repo := inmemory.NewInMemoryPayrollRepository()
	run := seedPendingRun(t, repo, "emp-1")
	d := &stubDirectory{employees: map[string]directory.Employee{
		"emp-1": {
			ID:             "emp-1",
			OrganizationID: "org-1",
			KYCStatus:      "APPROVED",
			WalletAddress:  "9xQeWvG816bUx9EP",
			KeyShareIDs:    []string{"share-1", "share-2"},
		},
	}}
	c := newCoordinator(repo, &stubSigner{}, &stubLedger{}, d)

	require.NoError(t, c.SettleItem(context.Background(), run.ID, run.Items[0].ID, false))

	ended := spans.Ended()
	require.NotEmpty(t, ended)
	span := ended[0]
	assert.Equal(t, "settlement.item", span.Name())
	assert.Contains(t, span.Attributes(), attribute.String("payroll.run_id", run.ID))
	assert.Contains(t, span.Attributes(), attribute.String("payroll.item_status", "COMPLETED"))
}
