package gorm

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VirtualPoint is the persisted definition plus the engine's runtime columns.
// Scalar values are stored as JSON text so the type survives the round trip.
type VirtualPoint struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID    int64          `gorm:"column:tenant_id;not null;index:idx_vp_tenant_scope"`
	Name        string         `gorm:"column:name;type:varchar(100);not null"`
	Description string         `gorm:"column:description;type:text"`
	Category    string         `gorm:"column:category;type:varchar(50);index"`
	Tags        datatypes.JSON `gorm:"column:tags"`

	DataType      string `gorm:"column:data_type;type:varchar(20);not null"`
	Unit          string `gorm:"column:unit;type:varchar(20)"`
	DecimalPlaces *int   `gorm:"column:decimal_places"`

	Expression string `gorm:"column:expression;type:text;not null"`
	ScopeType  string `gorm:"column:scope_type;type:varchar(20);not null;index:idx_vp_tenant_scope"`
	ScopeID    *int64 `gorm:"column:scope_id;index:idx_vp_tenant_scope"`

	Trigger    string `gorm:"column:calculation_trigger;type:varchar(20);not null"`
	IntervalMs int64  `gorm:"column:interval_ms"`
	Priority   int    `gorm:"column:priority;default:0"`
	TimeoutMs  int64  `gorm:"column:timeout_ms"`

	OnError      string         `gorm:"column:on_error;type:varchar(20);not null"`
	DefaultValue datatypes.JSON `gorm:"column:default_value;type:text"`
	MinValue     *float64       `gorm:"column:min_value"`
	MaxValue     *float64       `gorm:"column:max_value"`

	IsEnabled  bool   `gorm:"column:is_enabled;index"`
	TemplateID *int64 `gorm:"column:template_id;index"`

	// Runtime columns, written by the result writer.
	CurrentValue     datatypes.JSON `gorm:"column:current_value;type:text"`
	LastCalculatedAt *time.Time     `gorm:"column:last_calculated_at"`
	Status           string         `gorm:"column:status;type:varchar(20);index"`
	LastError        datatypes.JSON `gorm:"column:last_error;type:text"`
	ExecutionCount   int64          `gorm:"column:execution_count;default:0"`
	ErrorCount       int64          `gorm:"column:error_count;default:0"`
	AvgDurationMs    float64        `gorm:"column:avg_execution_time_ms;default:0"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`

	// Relationships
	Inputs []VirtualPointInput `gorm:"foreignKey:VirtualPointID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for GORM
func (VirtualPoint) TableName() string {
	return "virtual_points"
}

// VirtualPointInput is one ordered input variable of a virtual point.
type VirtualPointInput struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement"`
	VirtualPointID int64          `gorm:"column:virtual_point_id;not null;index"`
	Position       int            `gorm:"column:position;not null"`
	Name           string         `gorm:"column:name;type:varchar(64);not null"`
	SourceType     string         `gorm:"column:source_type;type:varchar(20);not null"`
	SourcePointID  *int64         `gorm:"column:source_point_id;index"`
	ConstantValue  datatypes.JSON `gorm:"column:constant_value;type:text"`
	DataType       string         `gorm:"column:data_type;type:varchar(20);not null"`
	IsRequired     bool           `gorm:"column:is_required"`
}

// TableName specifies the table name for GORM
func (VirtualPointInput) TableName() string {
	return "virtual_point_inputs"
}

// VirtualPointExecution is an append-only history row per run.
type VirtualPointExecution struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID          string         `gorm:"column:run_id;type:varchar(36);not null"`
	TenantID       int64          `gorm:"column:tenant_id;not null"`
	VirtualPointID int64          `gorm:"column:virtual_point_id;not null;index:idx_vpe_point_time"`
	Trigger        string         `gorm:"column:trigger_type;type:varchar(20);not null"`
	Success        bool           `gorm:"column:success"`
	Value          datatypes.JSON `gorm:"column:value;type:text"`
	ErrorKind      string         `gorm:"column:error_kind;type:varchar(32)"`
	ErrorMessage   string         `gorm:"column:error_message;type:text"`
	DurationMs     float64        `gorm:"column:duration_ms"`
	ExecutedAt     time.Time      `gorm:"column:executed_at;not null;index:idx_vpe_point_time"`
}

// TableName specifies the table name for GORM
func (VirtualPointExecution) TableName() string {
	return "virtual_point_executions"
}
