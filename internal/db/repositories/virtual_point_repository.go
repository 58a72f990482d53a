package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulseone/vpengine/internal/models/entities"
	gormModels "pulseone/vpengine/internal/models/gorm"

	gormlib "gorm.io/gorm"
)

// definitionColumns are rewritten by Update; runtime columns are owned by
// the result writer and never touched here.
var definitionColumns = []string{
	"name", "description", "category", "tags", "data_type", "unit", "decimal_places",
	"expression", "scope_type", "scope_id", "calculation_trigger", "interval_ms",
	"priority", "timeout_ms", "on_error", "default_value", "min_value", "max_value",
	"is_enabled", "updated_at",
}

// ListFilter narrows List. Zero values mean "no filter".
type ListFilter struct {
	Category  string
	ScopeType string
	ScopeID   *int64
	Status    string
	Enabled   *bool
	Search    string
	Page      int
	Limit     int
}

// RuntimeUpdate carries a runtime snapshot to persist for one point.
type RuntimeUpdate struct {
	PointID int64
	State   entities.RuntimeState
}

type VirtualPointRepo struct {
	db *gormlib.DB
}

func NewVirtualPointRepo(db *gormlib.DB) *VirtualPointRepo {
	return &VirtualPointRepo{db: db}
}

func withOrderedInputs(db *gormlib.DB) *gormlib.DB {
	return db.Preload("Inputs", func(tx *gormlib.DB) *gormlib.DB {
		return tx.Order("position ASC")
	})
}

// Create inserts the definition together with its inputs and sets m.ID.
func (r *VirtualPointRepo) Create(ctx context.Context, m *gormModels.VirtualPoint) error {
	if m.Status == "" {
		m.Status = string(entities.StatusActive)
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create virtual point: %w", err)
	}
	return nil
}

// Update rewrites the definition columns and replaces the input list.
func (r *VirtualPointRepo) Update(ctx context.Context, m *gormModels.VirtualPoint) error {
	m.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gormlib.DB) error {
		res := tx.Model(&gormModels.VirtualPoint{}).
			Where("id = ? AND tenant_id = ?", m.ID, m.TenantID).
			Select(definitionColumns).
			Updates(m)
		if res.Error != nil {
			return fmt.Errorf("failed to update virtual point: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gormlib.ErrRecordNotFound
		}
		if err := tx.Where("virtual_point_id = ?", m.ID).Delete(&gormModels.VirtualPointInput{}).Error; err != nil {
			return fmt.Errorf("failed to clear inputs: %w", err)
		}
		if len(m.Inputs) == 0 {
			return nil
		}
		for i := range m.Inputs {
			m.Inputs[i].ID = 0
			m.Inputs[i].VirtualPointID = m.ID
		}
		if err := tx.Create(&m.Inputs).Error; err != nil {
			return fmt.Errorf("failed to store inputs: %w", err)
		}
		return nil
	})
}

// GetByID returns nil, nil when the point does not exist for the tenant.
// Soft-deleted points are only returned when includeDeleted is set.
func (r *VirtualPointRepo) GetByID(ctx context.Context, tenantID, id int64, includeDeleted bool) (*gormModels.VirtualPoint, error) {
	var m gormModels.VirtualPoint
	q := r.db.WithContext(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	err := withOrderedInputs(q).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gormlib.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch virtual point %d: %w", id, err)
	}
	return &m, nil
}

// GetByIDs returns the live points among ids for the tenant, keyed by id.
func (r *VirtualPointRepo) GetByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]*gormModels.VirtualPoint, error) {
	out := make(map[int64]*gormModels.VirtualPoint, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []gormModels.VirtualPoint
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch virtual points: %w", err)
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

// ListSchedulable returns every live point across tenants with inputs, for
// loading the engine on startup.
func (r *VirtualPointRepo) ListSchedulable(ctx context.Context) ([]gormModels.VirtualPoint, error) {
	var rows []gormModels.VirtualPoint
	err := withOrderedInputs(r.db.WithContext(ctx)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load virtual points: %w", err)
	}
	return rows, nil
}

// List returns one page of the tenant's live points and the total match count.
func (r *VirtualPointRepo) List(ctx context.Context, tenantID int64, f ListFilter) ([]gormModels.VirtualPoint, int64, error) {
	var total int64
	err := r.filtered(ctx, tenantID, f).
		Model(&gormModels.VirtualPoint{}).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count virtual points: %w", err)
	}

	var rows []gormModels.VirtualPoint
	err = withOrderedInputs(r.filtered(ctx, tenantID, f)).
		Order("id ASC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list virtual points: %w", err)
	}
	return rows, total, nil
}

func (r *VirtualPointRepo) filtered(ctx context.Context, tenantID int64, f ListFilter) *gormlib.DB {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.ScopeType != "" {
		q = q.Where("scope_type = ?", f.ScopeType)
	}
	if f.ScopeID != nil {
		q = q.Where("scope_id = ?", *f.ScopeID)
	}
	if f.Enabled != nil {
		q = q.Where("is_enabled = ?", *f.Enabled)
	}
	switch f.Status {
	case "":
	case string(entities.StatusDisabled):
		q = q.Where("is_enabled = ?", false)
	default:
		q = q.Where("status = ? AND is_enabled = ?", f.Status, true)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	return q
}

// NameTaken reports whether another live point in the same tenant and scope
// already uses name.
func (r *VirtualPointRepo) NameTaken(ctx context.Context, tenantID int64, scope entities.Scope, name string, excludeID int64) (bool, error) {
	q := r.db.WithContext(ctx).Model(&gormModels.VirtualPoint{}).
		Where("tenant_id = ? AND scope_type = ? AND LOWER(name) = ?", tenantID, scope.Type, strings.ToLower(strings.TrimSpace(name)))
	if scope.ID == nil {
		q = q.Where("scope_id IS NULL")
	} else {
		q = q.Where("scope_id = ?", *scope.ID)
	}
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check name: %w", err)
	}
	return count > 0, nil
}

// LiveConsumers returns ids of live points that read producerID.
func (r *VirtualPointRepo) LiveConsumers(ctx context.Context, producerID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&gormModels.VirtualPointInput{}).
		Joins("JOIN virtual_points ON virtual_points.id = virtual_point_inputs.virtual_point_id").
		Where("virtual_point_inputs.source_type = ? AND virtual_point_inputs.source_point_id = ? AND virtual_points.deleted_at IS NULL",
			string(entities.SourceVirtualPoint), producerID).
		Distinct().
		Order("virtual_point_inputs.virtual_point_id ASC").
		Pluck("virtual_point_inputs.virtual_point_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find consumers of %d: %w", producerID, err)
	}
	return ids, nil
}

// SoftDelete marks the point deleted. Returns false when nothing matched.
func (r *VirtualPointRepo) SoftDelete(ctx context.Context, tenantID, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&gormModels.VirtualPoint{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete virtual point %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Restore clears the soft delete flag. Returns false when nothing matched.
func (r *VirtualPointRepo) Restore(ctx context.Context, tenantID, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Model(&gormModels.VirtualPoint{}).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NOT NULL", id, tenantID).
		Update("deleted_at", nil)
	if res.Error != nil {
		return false, fmt.Errorf("failed to restore virtual point %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetEnabled flips is_enabled on a live point.
func (r *VirtualPointRepo) SetEnabled(ctx context.Context, tenantID, id int64, enabled bool) error {
	status := entities.StatusActive
	if !enabled {
		status = entities.StatusDisabled
	}
	res := r.db.WithContext(ctx).
		Model(&gormModels.VirtualPoint{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"is_enabled": enabled,
			"status":     string(status),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to toggle virtual point %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gormlib.ErrRecordNotFound
	}
	return nil
}

// SaveRuntime persists a batch of runtime snapshots in one transaction.
func (r *VirtualPointRepo) SaveRuntime(ctx context.Context, updates []RuntimeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gormlib.DB) error {
		for _, u := range updates {
			st := u.State
			err := tx.Unscoped().
				Model(&gormModels.VirtualPoint{}).
				Where("id = ?", u.PointID).
				UpdateColumns(map[string]interface{}{
					"current_value":         encodeValue(st.CurrentValue),
					"last_calculated_at":    st.LastCalculatedAt,
					"status":                string(st.Status),
					"last_error":            encodeCalcError(st.LastError),
					"execution_count":       st.ExecutionCount,
					"error_count":           st.ErrorCount,
					"avg_execution_time_ms": st.AvgDurationMs,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to save runtime of %d: %w", u.PointID, err)
			}
		}
		return nil
	})
}

// CategoryStats aggregates the tenant's live points by category.
func (r *VirtualPointRepo) CategoryStats(ctx context.Context, tenantID int64) ([]entities.CategoryStats, error) {
	var out []entities.CategoryStats
	err := r.db.WithContext(ctx).
		Model(&gormModels.VirtualPoint{}).
		Select(`category,
			COUNT(*) AS total,
			SUM(CASE WHEN is_enabled THEN 1 ELSE 0 END) AS enabled,
			SUM(CASE WHEN status = ? AND is_enabled THEN 1 ELSE 0 END) AS in_error`, string(entities.StatusError)).
		Where("tenant_id = ?", tenantID).
		Group("category").
		Order("category ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	return out, nil
}

// PerformanceStats lists the slowest points first.
func (r *VirtualPointRepo) PerformanceStats(ctx context.Context, tenantID int64, limit int) ([]entities.PerformanceStats, error) {
	var rows []gormModels.VirtualPoint
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("avg_execution_time_ms DESC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load performance stats: %w", err)
	}
	out := make([]entities.PerformanceStats, 0, len(rows))
	for _, m := range rows {
		out = append(out, entities.PerformanceStats{
			PointID:          m.ID,
			Name:             m.Name,
			Trigger:          m.Trigger,
			Status:           m.Status,
			ExecutionCount:   m.ExecutionCount,
			ErrorCount:       m.ErrorCount,
			AvgDurationMs:    m.AvgDurationMs,
			LastCalculatedAt: m.LastCalculatedAt,
		})
	}
	return out, nil
}
