package dtos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
)

// Tags accepts either a JSON array of strings or a comma separated string.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = splitTags(strings.Split(s, ","))
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("tags must be an array or a comma separated string: %w", err)
	}
	*t = splitTags(list)
	return nil
}

func splitTags(raw []string) Tags {
	out := make(Tags, 0, len(raw))
	for _, tag := range raw {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

type InputSourceRequest struct {
	Type     string            `json:"type"`
	PointID  int64             `json:"point_id"`
	Constant *expression.Value `json:"constant"`
}

type InputVariableRequest struct {
	Name       string             `json:"name"`
	Source     InputSourceRequest `json:"source"`
	DataType   string             `json:"data_type"`
	IsRequired *bool              `json:"is_required"`
}

// VirtualPointRequest is the body of create and update calls. formula is
// accepted as an alias of expression, and scope may be given either as an
// object or as flat scope_type/scope_id fields.
type VirtualPointRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Tags        Tags   `json:"tags"`

	DataType      string `json:"data_type"`
	Unit          string `json:"unit"`
	DecimalPlaces *int   `json:"decimal_places"`

	Expression string          `json:"expression"`
	Formula    string          `json:"formula"`
	Scope      *entities.Scope `json:"scope"`
	ScopeType  string          `json:"scope_type"`
	ScopeID    *int64          `json:"scope_id"`

	Inputs []InputVariableRequest `json:"inputs"`

	Trigger    string `json:"trigger"`
	IntervalMs int64  `json:"interval_ms"`
	Priority   int    `json:"priority"`
	TimeoutMs  int64  `json:"timeout_ms"`

	OnError      string            `json:"on_error"`
	DefaultValue *expression.Value `json:"default_value"`
	MinValue     *float64          `json:"min_value"`
	MaxValue     *float64          `json:"max_value"`

	IsEnabled *bool `json:"is_enabled"`

	TemplateID *int64 `json:"template_id"`
}

// ToEntity normalizes the request into a definition. Omitted data types
// default to number, triggers to manual and inputs to required.
func (r *VirtualPointRequest) ToEntity() entities.VirtualPoint {
	expr := r.Expression
	if strings.TrimSpace(expr) == "" {
		expr = r.Formula
	}

	scope := entities.Scope{Type: entities.ScopeType(strings.ToLower(strings.TrimSpace(r.ScopeType))), ID: r.ScopeID}
	if r.Scope != nil {
		scope = *r.Scope
	}
	if scope.Type == "" {
		scope.Type = entities.ScopeGlobal
	}

	trigger := entities.TriggerType(strings.ToLower(strings.TrimSpace(r.Trigger)))
	if trigger == "" {
		trigger = entities.TriggerManual
	}

	enabled := true
	if r.IsEnabled != nil {
		enabled = *r.IsEnabled
	}

	inputs := make([]entities.InputVariable, 0, len(r.Inputs))
	for _, in := range r.Inputs {
		required := true
		if in.IsRequired != nil {
			required = *in.IsRequired
		}
		inputs = append(inputs, entities.InputVariable{
			Name:       strings.TrimSpace(in.Name),
			DataType:   dataTypeOrNumber(in.DataType),
			IsRequired: required,
			Source: entities.InputSource{
				Type:     entities.SourceType(strings.ToLower(strings.TrimSpace(in.Source.Type))),
				PointID:  in.Source.PointID,
				Constant: in.Source.Constant,
			},
		})
	}

	return entities.VirtualPoint{
		Name:          r.Name,
		Description:   r.Description,
		Category:      r.Category,
		Tags:          []string(r.Tags),
		DataType:      dataTypeOrNumber(r.DataType),
		Unit:          r.Unit,
		DecimalPlaces: r.DecimalPlaces,
		Expression:    expr,
		Scope:         scope,
		Inputs:        inputs,
		Trigger:       trigger,
		IntervalMs:    r.IntervalMs,
		Priority:      r.Priority,
		TimeoutMs:     r.TimeoutMs,
		OnError:       entities.ErrorPolicy(strings.ToLower(strings.TrimSpace(r.OnError))),
		DefaultValue:  r.DefaultValue,
		MinValue:      r.MinValue,
		MaxValue:      r.MaxValue,
		IsEnabled:     enabled,
		TemplateID:    r.TemplateID,
	}
}

func dataTypeOrNumber(raw string) entities.DataType {
	if strings.TrimSpace(raw) == "" {
		return entities.DataTypeNumber
	}
	return entities.NormalizeDataType(raw)
}

// ScriptRequest is the body of test-script and validate calls.
type ScriptRequest struct {
	Expression    string                       `json:"expression"`
	Formula       string                       `json:"formula"`
	DataType      string                       `json:"data_type"`
	DecimalPlaces *int                         `json:"decimal_places"`
	MinValue      *float64                     `json:"min_value"`
	MaxValue      *float64                     `json:"max_value"`
	Inputs        []InputVariableRequest       `json:"inputs"`
	Overrides     map[string]*expression.Value `json:"overrides"`
}

// TestPointRequest carries sample values for a stored definition.
type TestPointRequest struct {
	Overrides map[string]*expression.Value `json:"overrides"`
}

// OverrideValues drops null entries so they do not shadow real sources.
func OverrideValues(in map[string]*expression.Value) map[string]expression.Value {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]expression.Value, len(in))
	for name, v := range in {
		if v != nil && !v.IsNull() {
			out[name] = *v
		}
	}
	return out
}

// Definition reuses the create path to normalize the script's inputs.
func (r *ScriptRequest) Definition() entities.VirtualPoint {
	vp := (&VirtualPointRequest{
		Expression:    r.Expression,
		Formula:       r.Formula,
		DataType:      r.DataType,
		DecimalPlaces: r.DecimalPlaces,
		MinValue:      r.MinValue,
		MaxValue:      r.MaxValue,
		Inputs:        r.Inputs,
	}).ToEntity()
	return vp
}

type TemplateParameterRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Default     *string `json:"default"`
}

// FormulaTemplateRequest is the body of template create and update calls.
// When parameters are omitted they are derived from the placeholders.
type FormulaTemplateRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Category    string                     `json:"category"`
	Tags        Tags                       `json:"tags"`
	Expression  string                     `json:"expression"`
	Formula     string                     `json:"formula"`
	Parameters  []TemplateParameterRequest `json:"parameters"`
	DataType    string                     `json:"data_type"`
}

func (r *FormulaTemplateRequest) ToEntity() entities.FormulaTemplate {
	expr := r.Expression
	if strings.TrimSpace(expr) == "" {
		expr = r.Formula
	}
	t := entities.FormulaTemplate{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Tags:        []string(r.Tags),
		Expression:  expr,
		DataType:    dataTypeOrNumber(r.DataType),
	}
	if r.Parameters == nil {
		for _, name := range t.Placeholders() {
			t.Parameters = append(t.Parameters, entities.TemplateParameter{Name: name})
		}
		return t
	}
	t.Parameters = make([]entities.TemplateParameter, 0, len(r.Parameters))
	for _, p := range r.Parameters {
		t.Parameters = append(t.Parameters, entities.TemplateParameter{
			Name:        strings.TrimSpace(p.Name),
			Description: p.Description,
			Default:     p.Default,
		})
	}
	return t
}

// GenerateRequest fills a template's placeholders.
type GenerateRequest struct {
	Values   map[string]string      `json:"values"`
	DataType string                 `json:"data_type"`
	Inputs   []InputVariableRequest `json:"inputs"`
}

// Variables reuses the create path to normalize the variables.
func (r *GenerateRequest) Variables() []entities.InputVariable {
	return (&VirtualPointRequest{Inputs: r.Inputs}).ToEntity().Inputs
}
