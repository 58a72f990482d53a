package entities

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"pulseone/vpengine/internal/expression"
)

type DataType string

const (
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeString  DataType = "string"
)

// Kind maps the declared data type onto the expression value kind.
func (d DataType) Kind() expression.Kind {
	switch d {
	case DataTypeBoolean:
		return expression.KindBoolean
	case DataTypeString:
		return expression.KindString
	default:
		return expression.KindNumber
	}
}

func (d DataType) Valid() bool {
	switch d {
	case DataTypeNumber, DataTypeBoolean, DataTypeString:
		return true
	default:
		return false
	}
}

// NormalizeDataType accepts legacy aliases such as "float" or "bool".
func NormalizeDataType(raw string) DataType {
	k, err := expression.ParseKind(raw)
	if err != nil {
		return DataType(strings.ToLower(strings.TrimSpace(raw)))
	}
	return DataType(k.String())
}

type ScopeType string

const (
	ScopeGlobal ScopeType = "global"
	ScopeSite   ScopeType = "site"
	ScopeDevice ScopeType = "device"
)

func (s ScopeType) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeSite, ScopeDevice:
		return true
	default:
		return false
	}
}

type TriggerType string

const (
	TriggerPeriodic TriggerType = "periodic"
	TriggerOnChange TriggerType = "on_change"
	TriggerManual   TriggerType = "manual"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerPeriodic, TriggerOnChange, TriggerManual:
		return true
	default:
		return false
	}
}

type ErrorPolicy string

const (
	OnErrorPropagate     ErrorPolicy = "propagate"
	OnErrorDefaultValue  ErrorPolicy = "default_value"
	OnErrorPreviousValue ErrorPolicy = "previous_value"
)

func (p ErrorPolicy) Valid() bool {
	switch p {
	case OnErrorPropagate, OnErrorDefaultValue, OnErrorPreviousValue:
		return true
	default:
		return false
	}
}

type SourceType string

const (
	SourceDataPoint    SourceType = "data_point"
	SourceVirtualPoint SourceType = "virtual_point"
	SourceConstant     SourceType = "constant"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceDataPoint, SourceVirtualPoint, SourceConstant:
		return true
	default:
		return false
	}
}

const (
	MinIntervalMs    int64 = 1000
	MaxTimeoutMs     int64 = 60000
	MaxDecimalPlaces       = 10
	MaxNameLength          = 100
)

// Scope places a virtual point in the site/device hierarchy. Global scope has no id.
type Scope struct {
	Type ScopeType `json:"type"`
	ID   *int64    `json:"id,omitempty"`
}

// InputSource describes where an input variable's value comes from.
type InputSource struct {
	Type     SourceType        `json:"type"`
	PointID  int64             `json:"point_id,omitempty"`
	Constant *expression.Value `json:"constant,omitempty"`
}

// InputVariable binds an expression identifier to a source.
type InputVariable struct {
	Name       string      `json:"name"`
	Source     InputSource `json:"source"`
	DataType   DataType    `json:"data_type"`
	IsRequired bool        `json:"is_required"`
}

// VirtualPoint is the definition of a computed point.
type VirtualPoint struct {
	ID          int64    `json:"id"`
	TenantID    int64    `json:"tenant_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags"`

	DataType      DataType `json:"data_type"`
	Unit          string   `json:"unit,omitempty"`
	DecimalPlaces *int     `json:"decimal_places,omitempty"`

	Expression string          `json:"expression"`
	Scope      Scope           `json:"scope"`
	Inputs     []InputVariable `json:"inputs"`

	Trigger    TriggerType `json:"trigger"`
	IntervalMs int64       `json:"interval_ms,omitempty"`
	Priority   int         `json:"priority"`
	TimeoutMs  int64       `json:"timeout_ms"`

	OnError      ErrorPolicy       `json:"on_error"`
	DefaultValue *expression.Value `json:"default_value,omitempty"`
	MinValue     *float64          `json:"min_value,omitempty"`
	MaxValue     *float64          `json:"max_value,omitempty"`

	// TemplateID names the formula template the point was created from.
	TemplateID *int64 `json:"template_id,omitempty"`

	IsEnabled bool       `json:"is_enabled"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (vp *VirtualPoint) IsDeleted() bool {
	return vp.DeletedAt != nil
}

// VariableKinds returns the declared kind of every input, keyed by name.
func (vp *VirtualPoint) VariableKinds() map[string]expression.Kind {
	out := make(map[string]expression.Kind, len(vp.Inputs))
	for _, in := range vp.Inputs {
		out[in.Name] = in.DataType.Kind()
	}
	return out
}

// ProducerIDs returns the virtual points this definition consumes.
func (vp *VirtualPoint) ProducerIDs() []int64 {
	return vp.sourceIDs(SourceVirtualPoint)
}

// DataPointIDs returns the raw data points this definition reads.
func (vp *VirtualPoint) DataPointIDs() []int64 {
	return vp.sourceIDs(SourceDataPoint)
}

func (vp *VirtualPoint) sourceIDs(t SourceType) []int64 {
	var ids []int64
	seen := map[int64]bool{}
	for _, in := range vp.Inputs {
		if in.Source.Type == t && !seen[in.Source.PointID] {
			seen[in.Source.PointID] = true
			ids = append(ids, in.Source.PointID)
		}
	}
	return ids
}

// FieldError is one violated definition rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	return f.Field + ": " + f.Message
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the structural rules of a definition. Expression
// semantics are checked separately by the expression validator.
func (vp *VirtualPoint) Validate() []FieldError {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	name := strings.TrimSpace(vp.Name)
	if name == "" {
		add("name", "must not be empty")
	} else if len(name) > MaxNameLength {
		add("name", "must be at most %d characters", MaxNameLength)
	}
	if strings.TrimSpace(vp.Expression) == "" {
		add("expression", "must not be empty")
	}
	if !vp.DataType.Valid() {
		add("data_type", "unknown data type %q", vp.DataType)
	}
	if vp.DecimalPlaces != nil && (*vp.DecimalPlaces < 0 || *vp.DecimalPlaces > MaxDecimalPlaces) {
		add("decimal_places", "must be between 0 and %d", MaxDecimalPlaces)
	}

	switch {
	case !vp.Scope.Type.Valid():
		add("scope.type", "unknown scope type %q", vp.Scope.Type)
	case vp.Scope.Type == ScopeGlobal && vp.Scope.ID != nil:
		add("scope.id", "global scope must not carry an id")
	case vp.Scope.Type != ScopeGlobal && vp.Scope.ID == nil:
		add("scope.id", "%s scope requires an id", vp.Scope.Type)
	}

	switch {
	case !vp.Trigger.Valid():
		add("trigger", "unknown trigger %q", vp.Trigger)
	case vp.Trigger == TriggerPeriodic && vp.IntervalMs < MinIntervalMs:
		add("interval_ms", "periodic points need an interval of at least %d ms", MinIntervalMs)
	}
	if vp.TimeoutMs < 0 || vp.TimeoutMs > MaxTimeoutMs {
		add("timeout_ms", "must be between 0 and %d", MaxTimeoutMs)
	}

	switch {
	case !vp.OnError.Valid():
		add("on_error", "unknown error policy %q", vp.OnError)
	case vp.OnError == OnErrorDefaultValue && vp.DefaultValue == nil:
		add("default_value", "required when on_error is default_value")
	}
	if vp.DefaultValue != nil && vp.DataType.Valid() && vp.DefaultValue.Kind() != vp.DataType.Kind() {
		add("default_value", "must be a %s", vp.DataType)
	}

	if vp.MinValue != nil || vp.MaxValue != nil {
		if vp.DataType != DataTypeNumber {
			add("min_value", "range limits only apply to number points")
		} else if vp.MinValue != nil && vp.MaxValue != nil && *vp.MinValue >= *vp.MaxValue {
			add("min_value", "must be less than max_value")
		}
	}

	names := map[string]bool{}
	for i, in := range vp.Inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		if !identifierPattern.MatchString(in.Name) {
			add(field+".name", "%q is not a valid identifier", in.Name)
		} else if names[in.Name] {
			add(field+".name", "duplicate input name %q", in.Name)
		}
		names[in.Name] = true
		if !in.DataType.Valid() {
			add(field+".data_type", "unknown data type %q", in.DataType)
		}
		switch in.Source.Type {
		case SourceConstant:
			if in.Source.Constant == nil || in.Source.Constant.IsNull() {
				add(field+".source.constant", "constant inputs need a value")
			} else if in.DataType.Valid() && in.Source.Constant.Kind() != in.DataType.Kind() {
				add(field+".source.constant", "constant must be a %s", in.DataType)
			}
		case SourceDataPoint, SourceVirtualPoint:
			if in.Source.PointID <= 0 {
				add(field+".source.point_id", "must reference a point")
			}
		default:
			add(field+".source.type", "unknown source type %q", in.Source.Type)
		}
	}
	return errs
}
