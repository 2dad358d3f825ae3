package sql

import (
	"github.com/payrollx/payrun/internal/domain/model"
)

// --- Mapper functions ---

func fromDomainRun(run *model.PayrollRun) *PayrollRunEntity {
	if run == nil {
		return nil
	}
	return &PayrollRunEntity{
		ID:             run.ID,
		OrganizationID: run.OrganizationID,
		ScheduledAt:    run.ScheduledAt,
		TotalAmount:    run.TotalAmount,
		Currency:       run.Currency,
		Status:         run.Status,
		CreatedBy:      run.CreatedBy,
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
		DeletedAt:      run.DeletedAt,
		Version:        run.Version,
	}
}

func toDomainRun(entity *PayrollRunEntity) *model.PayrollRun {
	if entity == nil {
		return nil
	}
	return &model.PayrollRun{
		ID:             entity.ID,
		OrganizationID: entity.OrganizationID,
		ScheduledAt:    entity.ScheduledAt,
		TotalAmount:    entity.TotalAmount,
		Currency:       entity.Currency,
		Status:         entity.Status,
		CreatedBy:      entity.CreatedBy,
		CreatedAt:      entity.CreatedAt,
		UpdatedAt:      entity.UpdatedAt,
		DeletedAt:      entity.DeletedAt,
		Items:          make([]*model.PayrollItem, 0),
		Version:        entity.Version,
	}
}

func fromDomainItem(item *model.PayrollItem) *PayrollItemEntity {
	if item == nil {
		return nil
	}
	return &PayrollItemEntity{
		ID:          item.ID,
		RunID:       item.RunID,
		EmployeeID:  item.EmployeeID,
		Amount:      item.Amount,
		Status:      item.Status,
		TxSignature: item.TxSignature,
		RetryCount:  item.RetryCount,
		LastError:   item.LastError,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		DeletedAt:   item.DeletedAt,
		Version:     item.Version,
	}
}

func toDomainItem(entity *PayrollItemEntity) *model.PayrollItem {
	if entity == nil {
		return nil
	}
	return &model.PayrollItem{
		ID:          entity.ID,
		RunID:       entity.RunID,
		EmployeeID:  entity.EmployeeID,
		Amount:      entity.Amount,
		Status:      entity.Status,
		TxSignature: entity.TxSignature,
		RetryCount:  entity.RetryCount,
		LastError:   entity.LastError,
		CreatedAt:   entity.CreatedAt,
		UpdatedAt:   entity.UpdatedAt,
		DeletedAt:   entity.DeletedAt,
		Version:     entity.Version,
	}
}
