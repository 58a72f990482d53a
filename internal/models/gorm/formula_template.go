package gorm

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FormulaTemplate is a reusable expression with {{param}} placeholders.
// Rows with tenant_id 0 are system templates shared by every tenant.
type FormulaTemplate struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID    int64          `gorm:"column:tenant_id;not null;index"`
	Name        string         `gorm:"column:name;type:varchar(100);not null"`
	Description string         `gorm:"column:description;type:text"`
	Category    string         `gorm:"column:category;type:varchar(50);index"`
	Tags        datatypes.JSON `gorm:"column:tags"`
	Expression  string         `gorm:"column:expression;type:text;not null"`
	Parameters  datatypes.JSON `gorm:"column:parameters"`
	DataType    string         `gorm:"column:data_type;type:varchar(20);not null"`
	IsSystem    bool           `gorm:"column:is_system;default:false"`
	UsageCount  int64          `gorm:"column:usage_count;default:0"`
	LastUsedAt  *time.Time     `gorm:"column:last_used_at"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName specifies the table name for GORM
func (FormulaTemplate) TableName() string {
	return "formula_templates"
}

// FormulaTemplateUsage records one virtual point created from a template.
type FormulaTemplateUsage struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TemplateID     int64     `gorm:"column:template_id;not null;index"`
	TenantID       int64     `gorm:"column:tenant_id;not null"`
	VirtualPointID int64     `gorm:"column:virtual_point_id;not null"`
	UsedAt         time.Time `gorm:"column:used_at;not null"`
}

// TableName specifies the table name for GORM
func (FormulaTemplateUsage) TableName() string {
	return "formula_template_usages"
}
