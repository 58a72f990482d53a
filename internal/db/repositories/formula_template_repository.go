package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulseone/vpengine/internal/models/entities"
	gormModels "pulseone/vpengine/internal/models/gorm"

	"gorm.io/datatypes"
	gormlib "gorm.io/gorm"
)

var templateColumns = []string{
	"name", "description", "category", "tags", "expression", "parameters", "data_type", "updated_at",
}

// TemplateFilter narrows the template list. Zero values mean "no filter".
type TemplateFilter struct {
	Category string
	Tag      string
	Search   string
}

type FormulaTemplateRepo struct {
	db *gormlib.DB
}

func NewFormulaTemplateRepo(db *gormlib.DB) *FormulaTemplateRepo {
	return &FormulaTemplateRepo{db: db}
}

// visibleTo limits a query to the tenant's own and the system templates.
func visibleTo(q *gormlib.DB, tenantID int64) *gormlib.DB {
	return q.Where("tenant_id IN ?", []int64{tenantID, entities.SystemTenantID})
}

func (r *FormulaTemplateRepo) Create(ctx context.Context, t *entities.FormulaTemplate) error {
	m := templateModel(t)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create formula template: %w", err)
	}
	t.ID = m.ID
	t.CreatedAt = m.CreatedAt
	t.UpdatedAt = m.UpdatedAt
	return nil
}

// Update rewrites a tenant-owned template. System templates are read-only.
func (r *FormulaTemplateRepo) Update(ctx context.Context, t *entities.FormulaTemplate) error {
	m := templateModel(t)
	m.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&gormModels.FormulaTemplate{}).
		Where("id = ? AND tenant_id = ? AND is_system = ?", t.ID, t.TenantID, false).
		Select(templateColumns).
		Updates(m)
	if res.Error != nil {
		return fmt.Errorf("failed to update formula template %d: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gormlib.ErrRecordNotFound
	}
	t.UpdatedAt = m.UpdatedAt
	return nil
}

// GetByID returns nil, nil when no template with id is visible to the tenant.
func (r *FormulaTemplateRepo) GetByID(ctx context.Context, tenantID, id int64) (*entities.FormulaTemplate, error) {
	var m gormModels.FormulaTemplate
	err := visibleTo(r.db.WithContext(ctx), tenantID).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gormlib.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch formula template %d: %w", id, err)
	}
	t := templateEntity(&m)
	return &t, nil
}

// List returns the visible templates, most used first.
func (r *FormulaTemplateRepo) List(ctx context.Context, tenantID int64, f TemplateFilter) ([]entities.FormulaTemplate, error) {
	q := visibleTo(r.db.WithContext(ctx), tenantID)
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Tag != "" {
		q = q.Where(datatypes.JSONArrayQuery("tags").Contains(f.Tag))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}

	var rows []gormModels.FormulaTemplate
	if err := q.Order("usage_count DESC").Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list formula templates: %w", err)
	}
	out := make([]entities.FormulaTemplate, 0, len(rows))
	for i := range rows {
		out = append(out, templateEntity(&rows[i]))
	}
	return out, nil
}

// NameTaken reports whether the tenant already owns a live template called name.
func (r *FormulaTemplateRepo) NameTaken(ctx context.Context, tenantID int64, name string, excludeID int64) (bool, error) {
	q := r.db.WithContext(ctx).Model(&gormModels.FormulaTemplate{}).
		Where("tenant_id = ? AND LOWER(name) = ?", tenantID, strings.ToLower(strings.TrimSpace(name)))
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check template name: %w", err)
	}
	return count > 0, nil
}

// Delete soft-deletes a tenant-owned template. Returns false when nothing matched.
func (r *FormulaTemplateRepo) Delete(ctx context.Context, tenantID, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND is_system = ?", id, tenantID, false).
		Delete(&gormModels.FormulaTemplate{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete formula template %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordUsage bumps the template's counter and appends a usage row.
func (r *FormulaTemplateRepo) RecordUsage(ctx context.Context, tenantID, templateID, pointID int64, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gormlib.DB) error {
		res := tx.Model(&gormModels.FormulaTemplate{}).
			Where("id = ?", templateID).
			Updates(map[string]any{
				"usage_count":  gormlib.Expr("usage_count + 1"),
				"last_used_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to count usage of template %d: %w", templateID, res.Error)
		}
		usage := gormModels.FormulaTemplateUsage{
			TemplateID:     templateID,
			TenantID:       tenantID,
			VirtualPointID: pointID,
			UsedAt:         at,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return fmt.Errorf("failed to record usage of template %d: %w", templateID, err)
		}
		return nil
	})
}

// UsedBy returns the ids of points created from the template, oldest first.
func (r *FormulaTemplateRepo) UsedBy(ctx context.Context, tenantID, templateID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&gormModels.FormulaTemplateUsage{}).
		Where("template_id = ? AND tenant_id = ?", templateID, tenantID).
		Order("used_at ASC").Order("id ASC").
		Pluck("virtual_point_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list usage of template %d: %w", templateID, err)
	}
	return ids, nil
}

// EnsureSystem inserts a system template unless one with the same name
// exists. Returns true when a row was created.
func (r *FormulaTemplateRepo) EnsureSystem(ctx context.Context, t entities.FormulaTemplate) (bool, error) {
	t.TenantID = entities.SystemTenantID
	t.IsSystem = true
	taken, err := r.NameTaken(ctx, entities.SystemTenantID, t.Name, 0)
	if err != nil || taken {
		return false, err
	}
	if err := r.Create(ctx, &t); err != nil {
		return false, err
	}
	return true, nil
}

func templateModel(t *entities.FormulaTemplate) *gormModels.FormulaTemplate {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	params := t.Parameters
	if params == nil {
		params = []entities.TemplateParameter{}
	}
	return &gormModels.FormulaTemplate{
		ID:          t.ID,
		TenantID:    t.TenantID,
		Name:        t.Name,
		Description: t.Description,
		Category:    t.Category,
		Tags:        encodeJSON(tags),
		Expression:  t.Expression,
		Parameters:  encodeJSON(params),
		DataType:    string(t.DataType),
		IsSystem:    t.IsSystem,
		UsageCount:  t.UsageCount,
		LastUsedAt:  t.LastUsedAt,
	}
}

func templateEntity(m *gormModels.FormulaTemplate) entities.FormulaTemplate {
	tags := []string{}
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	params := []entities.TemplateParameter{}
	if len(m.Parameters) > 0 {
		_ = json.Unmarshal(m.Parameters, &params)
	}
	return entities.FormulaTemplate{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Tags:        tags,
		Expression:  m.Expression,
		Parameters:  params,
		DataType:    entities.DataType(m.DataType),
		IsSystem:    m.IsSystem,
		UsageCount:  m.UsageCount,
		LastUsedAt:  m.LastUsedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
