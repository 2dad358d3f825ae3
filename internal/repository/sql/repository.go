// Package sql implements repository.PayrollRepository on top of GORM.
// Updates to runs and items carry an optimistic version check: an update that
// matches zero rows on (id, version) is reported as an optimistic locking
// failure for the caller to retry with fresh state.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

// SQLPayrollRepository implements the repository.PayrollRepository interface.
type SQLPayrollRepository struct {
	db *gorm.DB
}

// NewSQLPayrollRepository creates a new SQLPayrollRepository over the given
// GORM connection.
func NewSQLPayrollRepository(db *gorm.DB) repository.PayrollRepository {
	return &SQLPayrollRepository{db: db}
}

// Close closes the underlying database connection.
func (r *SQLPayrollRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	logger.Debugf("Closing payroll repository database connection.")
	return sqlDB.Close()
}

// SaveRun persists a new PayrollRun and its items in a single transaction so
// partial creation is never observable.
func (r *SQLPayrollRepository) SaveRun(ctx context.Context, run *model.PayrollRun) error {
	const op = "SQLPayrollRepository.SaveRun"

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fromDomainRun(run)).Error; err != nil {
			return exception.NewSettlementError(op, fmt.Sprintf("failed to save PayrollRun (ID: %s)", run.ID), err, true)
		}
		for _, item := range run.Items {
			if err := tx.Create(fromDomainItem(item)).Error; err != nil {
				return exception.NewSettlementError(op, fmt.Sprintf("failed to save PayrollItem (ID: %s)", item.ID), err, true)
			}
		}
		return nil
	})
}

// UpdateRun updates an existing PayrollRun under an optimistic version check.
func (r *SQLPayrollRepository) UpdateRun(ctx context.Context, run *model.PayrollRun) error {
	const op = "SQLPayrollRepository.UpdateRun"

	originalVersion := run.Version
	run.Version++
	entity := fromDomainRun(run)

	result := r.db.WithContext(ctx).
		Model(&PayrollRunEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Updates(map[string]interface{}{
			"status":     entity.Status,
			"updated_at": entity.UpdatedAt,
			"deleted_at": entity.DeletedAt,
			"version":    entity.Version,
		})
	if result.Error != nil {
		run.Version = originalVersion
		return exception.NewSettlementError(op, fmt.Sprintf("failed to update PayrollRun (ID: %s)", run.ID), result.Error, true)
	}
	if result.RowsAffected == 0 {
		run.Version = originalVersion
		return exception.NewOptimisticLockError(op,
			fmt.Sprintf("PayrollRun (ID: %s) was modified concurrently (expected version %d)", run.ID, originalVersion), nil)
	}
	return nil
}

// FindRunByID finds a PayrollRun by its ID with its items loaded.
// Soft-deleted runs are not returned.
func (r *SQLPayrollRepository) FindRunByID(ctx context.Context, runID string) (*model.PayrollRun, error) {
	const op = "SQLPayrollRepository.FindRunByID"

	var entity PayrollRunEntity
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", runID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRunNotFound
		}
		return nil, exception.NewSettlementError(op, fmt.Sprintf("failed to find PayrollRun (ID: %s)", runID), err, true)
	}

	run := toDomainRun(&entity)
	items, err := r.FindItemsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Items = items
	return run, nil
}

// FindRunsByOrganization finds all runs for an organization, newest first,
// with items loaded.
func (r *SQLPayrollRepository) FindRunsByOrganization(ctx context.Context, organizationID string) ([]*model.PayrollRun, error) {
	const op = "SQLPayrollRepository.FindRunsByOrganization"

	var entities []PayrollRunEntity
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND deleted_at IS NULL", organizationID).
		Order("created_at DESC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewSettlementError(op, fmt.Sprintf("failed to list runs for organization %s", organizationID), err, true)
	}

	runs := make([]*model.PayrollRun, 0, len(entities))
	for i := range entities {
		run := toDomainRun(&entities[i])
		items, err := r.FindItemsByRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Items = items
		runs = append(runs, run)
	}
	return runs, nil
}

// FindDueRuns finds all DRAFT runs whose scheduled time has passed and that
// are not soft-deleted.
func (r *SQLPayrollRepository) FindDueRuns(ctx context.Context, now time.Time) ([]*model.PayrollRun, error) {
	const op = "SQLPayrollRepository.FindDueRuns"

	var entities []PayrollRunEntity
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ? AND deleted_at IS NULL", model.StatusDraft, now).
		Order("scheduled_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewSettlementError(op, "failed to find due runs", err, true)
	}

	runs := make([]*model.PayrollRun, 0, len(entities))
	for i := range entities {
		run := toDomainRun(&entities[i])
		items, err := r.FindItemsByRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Items = items
		runs = append(runs, run)
	}
	return runs, nil
}

var _ repository.PayrollRepository = (*SQLPayrollRepository)(nil)
