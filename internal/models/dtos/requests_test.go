package dtos

import (
	"encoding/json"
	"testing"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagsUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Tags
	}{
		{"array", `["a", " b ", ""]`, Tags{"a", "b"}},
		{"csv", `"a, b,,c "`, Tags{"a", "b", "c"}},
		{"empty string", `""`, Tags{}},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Tags
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad Tags
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestVirtualPointRequestToEntity(t *testing.T) {
	var req VirtualPointRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Efficiency",
		"formula": "out / in",
		"data_type": "float",
		"scope": {"type": "device", "id": 12},
		"trigger": "PERIODIC",
		"interval_ms": 5000,
		"on_error": "default_value",
		"default_value": 0,
		"inputs": [
			{"name": "out", "source": {"type": "data_point", "point_id": 1}},
			{"name": "in", "source": {"type": "data_point", "point_id": 2}, "is_required": false, "data_type": "int"}
		]
	}`), &req))

	vp := req.ToEntity()
	assert.Equal(t, "out / in", vp.Expression)
	assert.Equal(t, entities.DataTypeNumber, vp.DataType)
	assert.Equal(t, entities.ScopeDevice, vp.Scope.Type)
	require.NotNil(t, vp.Scope.ID)
	assert.EqualValues(t, 12, *vp.Scope.ID)
	assert.Equal(t, entities.TriggerPeriodic, vp.Trigger)
	assert.Equal(t, entities.OnErrorDefaultValue, vp.OnError)
	assert.Equal(t, expression.Number(0), *vp.DefaultValue)
	assert.True(t, vp.IsEnabled)
	require.Len(t, vp.Inputs, 2)
	assert.True(t, vp.Inputs[0].IsRequired)
	assert.False(t, vp.Inputs[1].IsRequired)
	assert.Equal(t, entities.DataTypeNumber, vp.Inputs[1].DataType)
	assert.Empty(t, vp.Validate())
}

func TestVirtualPointRequestDefaults(t *testing.T) {
	req := VirtualPointRequest{Name: "x", Expression: "1", Formula: "2"}
	vp := req.ToEntity()
	assert.Equal(t, "1", vp.Expression, "expression wins over formula")
	assert.Equal(t, entities.ScopeGlobal, vp.Scope.Type)
	assert.Equal(t, entities.TriggerManual, vp.Trigger)
	assert.Equal(t, entities.DataTypeNumber, vp.DataType)
}

func TestOverrideValues(t *testing.T) {
	n := expression.Number(3)
	null := expression.Null()
	got := OverrideValues(map[string]*expression.Value{"a": &n, "b": nil, "c": &null})
	assert.Equal(t, map[string]expression.Value{"a": n}, got)
	assert.Nil(t, OverrideValues(nil))
}

func TestFormulaTemplateRequestToEntity(t *testing.T) {
	var req FormulaTemplateRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Delta",
		"formula": "{{a}} - {{ b }} + {{a}}",
		"tags": "diff, site"
	}`), &req))

	tpl := req.ToEntity()
	assert.Equal(t, "{{a}} - {{ b }} + {{a}}", tpl.Expression)
	assert.Equal(t, entities.DataTypeNumber, tpl.DataType)
	assert.Equal(t, []string{"diff", "site"}, tpl.Tags)
	assert.Equal(t, []entities.TemplateParameter{{Name: "a"}, {Name: "b"}}, tpl.Parameters)
	assert.Empty(t, tpl.Validate())

	req = FormulaTemplateRequest{
		Name:       "Scaled",
		Expression: "{{x}} * {{k}}",
		DataType:   "float",
		Parameters: []TemplateParameterRequest{{Name: " x "}, {Name: "k", Default: strPtr("2")}},
	}
	tpl = req.ToEntity()
	assert.Equal(t, entities.DataTypeNumber, tpl.DataType)
	assert.Equal(t, "x", tpl.Parameters[0].Name)
	require.NotNil(t, tpl.Parameters[1].Default)
	assert.Equal(t, "2", *tpl.Parameters[1].Default)
}

func TestVirtualPointRequestCarriesTemplateID(t *testing.T) {
	var req VirtualPointRequest
	require.NoError(t, json.Unmarshal([]byte(`{"name": "P", "expression": "1", "template_id": 9}`), &req))
	vp := req.ToEntity()
	require.NotNil(t, vp.TemplateID)
	assert.Equal(t, int64(9), *vp.TemplateID)
}

func TestGenerateRequestVariables(t *testing.T) {
	var req GenerateRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"values": {"voltage": "v"},
		"inputs": [{"name": " v ", "source": {"type": "DATA_POINT", "point_id": 4}}]
	}`), &req))
	vars := req.Variables()
	require.Len(t, vars, 1)
	assert.Equal(t, "v", vars[0].Name)
	assert.Equal(t, entities.SourceDataPoint, vars[0].Source.Type)
	assert.True(t, vars[0].IsRequired)
	assert.Equal(t, "v", req.Values["voltage"])
}

func strPtr(s string) *string { return &s }
