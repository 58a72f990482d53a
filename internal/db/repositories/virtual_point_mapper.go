package repositories

import (
	"encoding/json"
	"time"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
	gormModels "pulseone/vpengine/internal/models/gorm"

	"gorm.io/datatypes"
	gormlib "gorm.io/gorm"
)

func encodeJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func encodeValue(v *expression.Value) datatypes.JSON {
	if v == nil || v.IsNull() {
		return nil
	}
	return encodeJSON(v)
}

func decodeValue(j datatypes.JSON) *expression.Value {
	if len(j) == 0 || string(j) == "null" {
		return nil
	}
	var v expression.Value
	if err := json.Unmarshal(j, &v); err != nil || v.IsNull() {
		return nil
	}
	return &v
}

func encodeCalcError(e *entities.CalcError) datatypes.JSON {
	if e == nil {
		return nil
	}
	return encodeJSON(e)
}

func decodeCalcError(j datatypes.JSON) *entities.CalcError {
	if len(j) == 0 || string(j) == "null" {
		return nil
	}
	var e entities.CalcError
	if err := json.Unmarshal(j, &e); err != nil {
		return nil
	}
	return &e
}

// ModelFromEntity converts a definition into its persisted form. Runtime
// columns are left at their zero values.
func ModelFromEntity(vp *entities.VirtualPoint) *gormModels.VirtualPoint {
	tags := vp.Tags
	if tags == nil {
		tags = []string{}
	}
	m := &gormModels.VirtualPoint{
		ID:            vp.ID,
		TenantID:      vp.TenantID,
		Name:          vp.Name,
		Description:   vp.Description,
		Category:      vp.Category,
		Tags:          encodeJSON(tags),
		DataType:      string(vp.DataType),
		Unit:          vp.Unit,
		DecimalPlaces: vp.DecimalPlaces,
		Expression:    vp.Expression,
		ScopeType:     string(vp.Scope.Type),
		ScopeID:       vp.Scope.ID,
		Trigger:       string(vp.Trigger),
		IntervalMs:    vp.IntervalMs,
		Priority:      vp.Priority,
		TimeoutMs:     vp.TimeoutMs,
		OnError:       string(vp.OnError),
		DefaultValue:  encodeValue(vp.DefaultValue),
		MinValue:      vp.MinValue,
		MaxValue:      vp.MaxValue,
		IsEnabled:     vp.IsEnabled,
		TemplateID:    vp.TemplateID,
		DeletedAt:     deletedAtFrom(vp.DeletedAt),
	}
	for i, in := range vp.Inputs {
		row := gormModels.VirtualPointInput{
			VirtualPointID: vp.ID,
			Position:       i,
			Name:           in.Name,
			SourceType:     string(in.Source.Type),
			DataType:       string(in.DataType),
			IsRequired:     in.IsRequired,
		}
		if in.Source.Type == entities.SourceConstant {
			row.ConstantValue = encodeValue(in.Source.Constant)
		} else {
			id := in.Source.PointID
			row.SourcePointID = &id
		}
		m.Inputs = append(m.Inputs, row)
	}
	return m
}

// EntityFromModel converts a persisted row (with Inputs preloaded) to a definition.
func EntityFromModel(m *gormModels.VirtualPoint) entities.VirtualPoint {
	var tags []string
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	if tags == nil {
		tags = []string{}
	}
	vp := entities.VirtualPoint{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Name:          m.Name,
		Description:   m.Description,
		Category:      m.Category,
		Tags:          tags,
		DataType:      entities.DataType(m.DataType),
		Unit:          m.Unit,
		DecimalPlaces: m.DecimalPlaces,
		Expression:    m.Expression,
		Scope:         entities.Scope{Type: entities.ScopeType(m.ScopeType), ID: m.ScopeID},
		Trigger:       entities.TriggerType(m.Trigger),
		IntervalMs:    m.IntervalMs,
		Priority:      m.Priority,
		TimeoutMs:     m.TimeoutMs,
		OnError:       entities.ErrorPolicy(m.OnError),
		DefaultValue:  decodeValue(m.DefaultValue),
		MinValue:      m.MinValue,
		MaxValue:      m.MaxValue,
		IsEnabled:     m.IsEnabled,
		TemplateID:    m.TemplateID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Inputs:        make([]entities.InputVariable, 0, len(m.Inputs)),
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		vp.DeletedAt = &t
	}
	for _, row := range m.Inputs {
		in := entities.InputVariable{
			Name:       row.Name,
			DataType:   entities.DataType(row.DataType),
			IsRequired: row.IsRequired,
			Source:     entities.InputSource{Type: entities.SourceType(row.SourceType)},
		}
		if row.SourcePointID != nil {
			in.Source.PointID = *row.SourcePointID
		}
		if in.Source.Type == entities.SourceConstant {
			in.Source.Constant = decodeValue(row.ConstantValue)
		}
		vp.Inputs = append(vp.Inputs, in)
	}
	return vp
}

// RuntimeFromModel restores the persisted runtime columns. Stored values of
// the "calculating" status never survive a restart.
func RuntimeFromModel(m *gormModels.VirtualPoint) entities.RuntimeState {
	st := entities.RuntimeState{
		CurrentValue:     decodeValue(m.CurrentValue),
		LastCalculatedAt: m.LastCalculatedAt,
		Status:           entities.PointStatus(m.Status),
		LastError:        decodeCalcError(m.LastError),
		ExecutionCount:   m.ExecutionCount,
		ErrorCount:       m.ErrorCount,
		AvgDurationMs:    m.AvgDurationMs,
	}
	switch {
	case !m.IsEnabled || m.DeletedAt.Valid:
		st.Status = entities.StatusDisabled
	case st.Status == "" || st.Status == entities.StatusCalculating || st.Status == entities.StatusDisabled:
		st.Status = entities.StatusActive
	}
	return st
}

func executionModel(e entities.Execution) gormModels.VirtualPointExecution {
	row := gormModels.VirtualPointExecution{
		RunID:          e.RunID,
		TenantID:       e.TenantID,
		VirtualPointID: e.PointID,
		Trigger:        e.Trigger,
		Success:        e.Success,
		Value:          encodeValue(e.Value),
		DurationMs:     e.DurationMs,
		ExecutedAt:     e.ExecutedAt,
	}
	if e.Error != nil {
		row.ErrorKind = e.Error.Kind
		row.ErrorMessage = e.Error.Message
	}
	return row
}

func executionEntity(row gormModels.VirtualPointExecution) entities.Execution {
	e := entities.Execution{
		ID:         row.ID,
		RunID:      row.RunID,
		TenantID:   row.TenantID,
		PointID:    row.VirtualPointID,
		Trigger:    row.Trigger,
		Success:    row.Success,
		Value:      decodeValue(row.Value),
		DurationMs: row.DurationMs,
		ExecutedAt: row.ExecutedAt,
	}
	if row.ErrorKind != "" {
		e.Error = &entities.CalcError{Kind: row.ErrorKind, Message: row.ErrorMessage}
	}
	return e
}

func deletedAtFrom(t *time.Time) gormlib.DeletedAt {
	if t == nil {
		return gormlib.DeletedAt{}
	}
	return gormlib.DeletedAt{Time: *t, Valid: true}
}
