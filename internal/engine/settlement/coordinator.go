package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/payrollx/payrun/internal/client/directory"
	"github.com/payrollx/payrun/internal/client/ledger"
	"github.com/payrollx/payrun/internal/client/signer"
	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/engine/aggregator"
	"github.com/payrollx/payrun/internal/metrics"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const ModuleSettlementCoordinator = "settlement_coordinator"

// updateAttempts bounds the internal retry loop for lost optimistic updates.
const updateAttempts = 5

type task struct {
	runID  string
	itemID string
	retry  bool
}

// Coordinator settles payroll items through a fixed worker pool. Each item
// goes through sign, submit and confirm against the external services; the
// outcome is persisted on the item and reported to the status aggregator.
type Coordinator struct {
	repo       repository.PayrollRepository
	signer     signer.Signer
	ledger     ledger.Ledger
	directory  directory.EmployeeDirectory
	aggregator *aggregator.StatusAggregator
	recorder   metrics.MetricRecorder
	cfg        config.SettlementConfig

	tasks    chan task
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCoordinator creates a new settlement Coordinator instance.
func NewCoordinator(
	repo repository.PayrollRepository,
	s signer.Signer,
	l ledger.Ledger,
	d directory.EmployeeDirectory,
	agg *aggregator.StatusAggregator,
	recorder metrics.MetricRecorder,
	cfg config.SettlementConfig,
) *Coordinator {
	return &Coordinator{
		repo:       repo,
		signer:     s,
		ledger:     l,
		directory:  d,
		aggregator: agg,
		recorder:   recorder,
		cfg:        cfg,
		tasks:      make(chan task, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers run until Stop is called or the
// context is canceled.
func (c *Coordinator) Start(ctx context.Context) {
	logger.Infof("Starting settlement worker pool (workers: %d, queue: %d).", c.cfg.Workers, c.cfg.QueueSize)
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
}

// Stop closes the task queue and waits for in-flight settlements to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.tasks)
	})
	c.wg.Wait()
	logger.Infof("Settlement worker pool stopped.")
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-c.tasks:
			if !ok {
				return
			}
			if err := c.SettleItem(ctx, t.runID, t.itemID, t.retry); err != nil {
				logger.Errorf("Worker %d: settlement of item '%s' failed: %v", id, t.itemID, err)
			}
		}
	}
}

// Enqueue hands an item to the worker pool. A full queue blocks only the
// enqueuing goroutine until a worker drains a slot or the context ends.
func (c *Coordinator) Enqueue(ctx context.Context, runID, itemID string, retry bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.tasks <- task{runID: runID, itemID: itemID, retry: retry}:
		return nil
	}
}

// SettleItem performs one settlement attempt for the given item. Completed
// items are skipped, so a duplicate enqueue of the same item is harmless.
func (c *Coordinator) SettleItem(ctx context.Context, runID, itemID string, retry bool) error {
	start := time.Now()

	ctx, span := otel.Tracer(ModuleSettlementCoordinator).Start(ctx, "settlement.item")
	defer span.End()
	span.SetAttributes(
		attribute.String("payroll.run_id", runID),
		attribute.String("payroll.item_id", itemID),
		attribute.Bool("payroll.retry", retry),
	)

	item, err := c.repo.FindItemByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			logger.Warnf("Settlement for unknown or deleted item '%s' skipped.", itemID)
			return nil
		}
		return err
	}
	if item.Status == model.StatusCompleted {
		logger.Debugf("Item '%s' is already COMPLETED; skipping settlement.", itemID)
		return nil
	}
	if retry {
		logger.Infof("Retrying settlement of item '%s' (attempt %d).", itemID, item.RetryCount)
	}

	item, err = c.markProcessing(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		// Another attempt got here first.
		return nil
	}

	if err := c.aggregator.OnItemStarted(ctx, runID); err != nil {
		logger.Errorf("Could not roll run '%s' to PROCESSING: %v", runID, err)
	}

	txSignature, settleErr := c.settle(ctx, item)

	var finalStatus model.PayrollStatus
	if settleErr != nil {
		finalStatus = model.StatusFailed
		span.RecordError(settleErr)
		logger.Warnf("Settlement of item '%s' failed: %v", itemID, settleErr)
	} else {
		finalStatus = model.StatusCompleted
	}
	span.SetAttributes(attribute.String("payroll.item_status", finalStatus.String()))

	if _, err := c.applyUpdate(ctx, itemID, func(fresh *model.PayrollItem) error {
		if settleErr != nil {
			fresh.MarkAsFailed(settleErr)
		} else {
			fresh.MarkAsCompleted(txSignature)
		}
		return nil
	}); err != nil {
		return err
	}

	c.recorder.RecordItemEnd(ctx, finalStatus, time.Since(start))

	if err := c.aggregator.OnItemTerminal(ctx, runID); err != nil {
		logger.Errorf("Status recomputation for run '%s' failed: %v", runID, err)
	}
	return nil
}

// markProcessing moves the item into PROCESSING with fresh-state retries on
// lost updates. It returns nil without error when the item is not in a state
// settlement can start from.
func (c *Coordinator) markProcessing(ctx context.Context, itemID string) (*model.PayrollItem, error) {
	var skipped bool
	item, err := c.applyUpdate(ctx, itemID, func(fresh *model.PayrollItem) error {
		if fresh.Status == model.StatusCompleted || fresh.Status == model.StatusProcessing {
			skipped = true
			return errSkip
		}
		return fresh.MarkAsProcessing()
	})
	if skipped {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

var errSkip = errors.New("settlement skipped")

// applyUpdate loads the item, applies mutate and persists it, retrying the
// whole cycle with fresh state when the optimistic version check loses.
func (c *Coordinator) applyUpdate(ctx context.Context, itemID string, mutate func(*model.PayrollItem) error) (*model.PayrollItem, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		item, err := c.repo.FindItemByID(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if err := mutate(item); err != nil {
			if errors.Is(err, errSkip) {
				return item, nil
			}
			return nil, err
		}
		err = c.repo.UpdateItem(ctx, item)
		if err == nil {
			return item, nil
		}
		if !exception.IsOptimisticLockFailure(err) {
			return nil, err
		}
		logger.Debugf("Lost update on item '%s'; retrying with fresh state.", itemID)
	}
	return nil, exception.NewSettlementError(ModuleSettlementCoordinator,
		fmt.Sprintf("Could not update item '%s' after repeated lost updates", itemID),
		exception.ErrOptimisticLockFailure, true)
}

// settle runs the sign, submit and confirm sequence for one item. Any error
// return leaves the item FAILED; retryable errors qualify it for the retry
// sweep.
func (c *Coordinator) settle(ctx context.Context, item *model.PayrollItem) (string, error) {
	req, err := c.buildRequest(ctx, item)
	if err != nil {
		return "", err
	}

	signature, err := c.sign(ctx, req)
	if err != nil {
		return "", err
	}

	txSignature, err := c.submit(ctx, req, signature)
	if err != nil {
		return "", err
	}

	if err := c.awaitConfirmation(ctx, txSignature); err != nil {
		return "", err
	}
	return txSignature, nil
}

// buildRequest resolves the employee's wallet and selects the threshold
// prefix of its key shares.
func (c *Coordinator) buildRequest(ctx context.Context, item *model.PayrollItem) (*model.SettlementRequest, error) {
	employee, err := c.directory.Lookup(ctx, item.EmployeeID)
	if err != nil {
		if errors.Is(err, directory.ErrEmployeeNotFound) {
			return nil, exception.NewSettlementError(ModuleSettlementCoordinator,
				fmt.Sprintf("Employee '%s' no longer exists", item.EmployeeID), err, false)
		}
		return nil, err
	}
	if employee.WalletAddress == "" || len(employee.KeyShareIDs) < c.cfg.SignerThreshold {
		return nil, exception.NewSettlementError(ModuleSettlementCoordinator,
			fmt.Sprintf("Employee '%s' has no settleable wallet", item.EmployeeID), nil, false)
	}

	return &model.SettlementRequest{
		ItemID:        item.ID,
		RunID:         item.RunID,
		WalletAddress: employee.WalletAddress,
		Amount:        item.Amount,
		TokenMint:     c.cfg.TokenMint,
		KeyShareIDs:   employee.KeyShareIDs[:c.cfg.SignerThreshold],
	}, nil
}

func (c *Coordinator) sign(ctx context.Context, req *model.SettlementRequest) (string, error) {
	message, err := json.Marshal(req)
	if err != nil {
		return "", exception.NewSettlementError(ModuleSettlementCoordinator, "Failed to serialize settlement request", err, false)
	}

	signCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.SignTimeoutSeconds)*time.Second)
	defer cancel()

	signature, err := c.signer.Sign(signCtx, message, req.KeyShareIDs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(signCtx.Err(), context.DeadlineExceeded) {
			return "", exception.NewSettlementError(ModuleSettlementCoordinator, "Signing timed out", err, true)
		}
		return "", err
	}
	return signature, nil
}

func (c *Coordinator) submit(ctx context.Context, req *model.SettlementRequest, signature string) (string, error) {
	submitCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.SubmitTimeoutSeconds)*time.Second)
	defer cancel()

	txSignature, err := c.ledger.Submit(submitCtx, ledger.SubmitRequest{
		ToAddress: req.WalletAddress,
		Amount:    req.Amount,
		TokenMint: req.TokenMint,
		Signature: signature,
		Reference: req.ItemID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
			return "", exception.NewSettlementError(ModuleSettlementCoordinator, "Ledger submission timed out", err, true)
		}
		return "", err
	}
	return txSignature, nil
}

// awaitConfirmation polls the ledger until the transaction confirms, fails
// or the confirmation window closes. A closed window counts as a retryable
// failure even though the transfer may still land later; the completed-item
// guard makes a duplicate attempt harmless.
func (c *Coordinator) awaitConfirmation(ctx context.Context, txSignature string) error {
	confirmCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.ConfirmTimeoutSeconds)*time.Second)
	defer cancel()

	ticker := time.NewTicker(time.Duration(c.cfg.ConfirmPollSeconds) * time.Second)
	defer ticker.Stop()

	for {
		status, err := c.ledger.Confirm(confirmCtx, txSignature)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || confirmCtx.Err() != nil {
				return exception.NewSettlementError(ModuleSettlementCoordinator,
					fmt.Sprintf("Confirmation of transaction '%s' timed out", txSignature), err, true)
			}
			return err
		}

		switch status {
		case ledger.ConfirmConfirmed:
			return nil
		case ledger.ConfirmFailed:
			return exception.NewSettlementError(ModuleSettlementCoordinator,
				fmt.Sprintf("Transaction '%s' failed on the ledger", txSignature), nil, true)
		}

		select {
		case <-confirmCtx.Done():
			return exception.NewSettlementError(ModuleSettlementCoordinator,
				fmt.Sprintf("Confirmation of transaction '%s' timed out", txSignature), confirmCtx.Err(), true)
		case <-ticker.C:
		}
	}
}
