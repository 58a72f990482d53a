package entities

import (
	"testing"

	"pulseone/vpengine/internal/expression"

	"github.com/stretchr/testify/assert"
)

func validPoint() VirtualPoint {
	return VirtualPoint{
		Name:       "Total Power",
		DataType:   DataTypeNumber,
		Expression: "a + b",
		Scope:      Scope{Type: ScopeGlobal},
		Trigger:    TriggerPeriodic,
		IntervalMs: 5000,
		OnError:    OnErrorPropagate,
		Inputs: []InputVariable{
			{Name: "a", DataType: DataTypeNumber, IsRequired: true, Source: InputSource{Type: SourceDataPoint, PointID: 10}},
			{Name: "b", DataType: DataTypeNumber, Source: InputSource{Type: SourceVirtualPoint, PointID: 3}},
		},
	}
}

func fields(errs []FieldError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestVirtualPointValidate(t *testing.T) {
	ptr := func(f float64) *float64 { return &f }
	id := int64(4)
	def := expression.String("x")
	seven := expression.Number(7)

	tests := []struct {
		name   string
		mutate func(vp *VirtualPoint)
		want   []string
	}{
		{"valid", func(vp *VirtualPoint) {}, nil},
		{"empty name", func(vp *VirtualPoint) { vp.Name = " " }, []string{"name"}},
		{"global scope with id", func(vp *VirtualPoint) { vp.Scope.ID = &id }, []string{"scope.id"}},
		{"site scope without id", func(vp *VirtualPoint) { vp.Scope = Scope{Type: ScopeSite} }, []string{"scope.id"}},
		{"short interval", func(vp *VirtualPoint) { vp.IntervalMs = 500 }, []string{"interval_ms"}},
		{"manual without interval", func(vp *VirtualPoint) { vp.Trigger = TriggerManual; vp.IntervalMs = 0 }, nil},
		{"timeout too large", func(vp *VirtualPoint) { vp.TimeoutMs = 120000 }, []string{"timeout_ms"}},
		{"default policy without value", func(vp *VirtualPoint) { vp.OnError = OnErrorDefaultValue }, []string{"default_value"}},
		{"default of wrong type", func(vp *VirtualPoint) { vp.OnError = OnErrorDefaultValue; vp.DefaultValue = &def }, []string{"default_value"}},
		{"default value ok", func(vp *VirtualPoint) { vp.OnError = OnErrorDefaultValue; vp.DefaultValue = &seven }, nil},
		{"inverted range", func(vp *VirtualPoint) { vp.MinValue = ptr(10); vp.MaxValue = ptr(1) }, []string{"min_value"}},
		{"range on boolean", func(vp *VirtualPoint) { vp.DataType = DataTypeBoolean; vp.MinValue = ptr(1) }, []string{"min_value"}},
		{"duplicate input", func(vp *VirtualPoint) { vp.Inputs[1].Name = "a" }, []string{"inputs[1].name"}},
		{"bad identifier", func(vp *VirtualPoint) { vp.Inputs[0].Name = "1a" }, []string{"inputs[0].name"}},
		{"constant without value", func(vp *VirtualPoint) { vp.Inputs[0].Source = InputSource{Type: SourceConstant} }, []string{"inputs[0].source.constant"}},
		{"missing point id", func(vp *VirtualPoint) { vp.Inputs[0].Source.PointID = 0 }, []string{"inputs[0].source.point_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vp := validPoint()
			tt.mutate(&vp)
			got := fields(vp.Validate())
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSourceIDs(t *testing.T) {
	vp := validPoint()
	vp.Inputs = append(vp.Inputs, InputVariable{Name: "c", DataType: DataTypeNumber, Source: InputSource{Type: SourceVirtualPoint, PointID: 3}})
	assert.Equal(t, []int64{3}, vp.ProducerIDs())
	assert.Equal(t, []int64{10}, vp.DataPointIDs())
	assert.Equal(t, expression.KindNumber, vp.VariableKinds()["b"])
}

func TestUsableValue(t *testing.T) {
	v := expression.Number(42)
	_, ok := RuntimeState{Status: StatusError}.UsableValue()
	assert.False(t, ok)

	got, ok := RuntimeState{Status: StatusError, CurrentValue: &v}.UsableValue()
	assert.True(t, ok)
	assert.Equal(t, 42.0, got.Num())

	_, ok = RuntimeState{Status: StatusDisabled, CurrentValue: &v}.UsableValue()
	assert.False(t, ok)
}

func TestNormalizeDataType(t *testing.T) {
	assert.Equal(t, DataTypeNumber, NormalizeDataType("float"))
	assert.Equal(t, DataTypeBoolean, NormalizeDataType("Bool"))
	assert.Equal(t, DataType("blob"), NormalizeDataType("blob"))
}
