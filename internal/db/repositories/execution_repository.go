package repositories

import (
	"context"
	"fmt"
	"time"

	"pulseone/vpengine/internal/models/entities"
	gormModels "pulseone/vpengine/internal/models/gorm"

	gormlib "gorm.io/gorm"
)

// ExecutionRepo stores the append-only run history.
type ExecutionRepo struct {
	db *gormlib.DB
}

func NewExecutionRepo(db *gormlib.DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

// InsertBatch appends history rows in chunks.
func (r *ExecutionRepo) InsertBatch(ctx context.Context, execs []entities.Execution) error {
	if len(execs) == 0 {
		return nil
	}
	rows := make([]gormModels.VirtualPointExecution, len(execs))
	for i, e := range execs {
		rows[i] = executionModel(e)
	}
	if err := r.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("failed to insert %d executions: %w", len(rows), err)
	}
	return nil
}

// ListByPoint returns the most recent executions first.
func (r *ExecutionRepo) ListByPoint(ctx context.Context, tenantID, pointID int64, limit int) ([]entities.Execution, error) {
	var rows []gormModels.VirtualPointExecution
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND virtual_point_id = ?", tenantID, pointID).
		Order("executed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history of %d: %w", pointID, err)
	}
	out := make([]entities.Execution, 0, len(rows))
	for _, row := range rows {
		out = append(out, executionEntity(row))
	}
	return out, nil
}

// DeleteOlderThan prunes history rows executed before cutoff.
func (r *ExecutionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("executed_at < ?", cutoff).
		Delete(&gormModels.VirtualPointExecution{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
