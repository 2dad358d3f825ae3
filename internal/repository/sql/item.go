package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/support/exception"
)

// UpdateItem updates an existing PayrollItem under an optimistic version check.
func (r *SQLPayrollRepository) UpdateItem(ctx context.Context, item *model.PayrollItem) error {
	const op = "SQLPayrollRepository.UpdateItem"

	originalVersion := item.Version
	item.Version++
	entity := fromDomainItem(item)

	result := r.db.WithContext(ctx).
		Model(&PayrollItemEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Updates(map[string]interface{}{
			"status":       entity.Status,
			"tx_signature": entity.TxSignature,
			"retry_count":  entity.RetryCount,
			"last_error":   entity.LastError,
			"updated_at":   entity.UpdatedAt,
			"deleted_at":   entity.DeletedAt,
			"version":      entity.Version,
		})
	if result.Error != nil {
		item.Version = originalVersion
		return exception.NewSettlementError(op, fmt.Sprintf("failed to update PayrollItem (ID: %s)", item.ID), result.Error, true)
	}
	if result.RowsAffected == 0 {
		item.Version = originalVersion
		return exception.NewOptimisticLockError(op,
			fmt.Sprintf("PayrollItem (ID: %s) was modified concurrently (expected version %d)", item.ID, originalVersion), nil)
	}
	return nil
}

// FindItemByID finds a PayrollItem by its ID. Soft-deleted items are not
// returned.
func (r *SQLPayrollRepository) FindItemByID(ctx context.Context, itemID string) (*model.PayrollItem, error) {
	const op = "SQLPayrollRepository.FindItemByID"

	var entity PayrollItemEntity
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", itemID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrItemNotFound
		}
		return nil, exception.NewSettlementError(op, fmt.Sprintf("failed to find PayrollItem (ID: %s)", itemID), err, true)
	}
	return toDomainItem(&entity), nil
}

// FindItemsByRun finds all items belonging to the given run, sorted by
// creation time.
func (r *SQLPayrollRepository) FindItemsByRun(ctx context.Context, runID string) ([]*model.PayrollItem, error) {
	const op = "SQLPayrollRepository.FindItemsByRun"

	var entities []PayrollItemEntity
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewSettlementError(op, fmt.Sprintf("failed to find items for run %s", runID), err, true)
	}

	items := make([]*model.PayrollItem, 0, len(entities))
	for i := range entities {
		items = append(items, toDomainItem(&entities[i]))
	}
	return items, nil
}

// FindRetryableItems finds all FAILED items with retry count below
// maxRetries, not soft-deleted.
func (r *SQLPayrollRepository) FindRetryableItems(ctx context.Context, maxRetries int) ([]*model.PayrollItem, error) {
	const op = "SQLPayrollRepository.FindRetryableItems"

	var entities []PayrollItemEntity
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ? AND deleted_at IS NULL", model.StatusFailed, maxRetries).
		Order("created_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewSettlementError(op, "failed to find retryable items", err, true)
	}

	items := make([]*model.PayrollItem, 0, len(entities))
	for i := range entities {
		items = append(items, toDomainItem(&entities[i]))
	}
	return items, nil
}
