package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPoints is a VirtualPointSource backed by a function.
type mockPoints struct {
	ValueFunc func(ctx context.Context, id int64, rc Context) (expression.Value, error)
	calls     map[int64]int
}

func (m *mockPoints) VirtualPointValue(ctx context.Context, id int64, rc Context) (expression.Value, error) {
	if m.calls == nil {
		m.calls = map[int64]int{}
	}
	m.calls[id]++
	return m.ValueFunc(ctx, id, rc)
}

func constant(v expression.Value) entities.InputSource {
	return entities.InputSource{Type: entities.SourceConstant, Constant: &v}
}

func dataPoint(id int64) entities.InputSource {
	return entities.InputSource{Type: entities.SourceDataPoint, PointID: id}
}

func virtualPoint(id int64) entities.InputSource {
	return entities.InputSource{Type: entities.SourceVirtualPoint, PointID: id}
}

func TestResolve_AllSources(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(100, expression.Number(3))
	dp.Set(101, expression.String("1"))
	points := &mockPoints{ValueFunc: func(ctx context.Context, id int64, rc Context) (expression.Value, error) {
		return expression.Number(10), nil
	}}
	r := New(dp, points)

	env, err := r.Resolve(context.Background(), []entities.InputVariable{
		{Name: "a", DataType: entities.DataTypeNumber, IsRequired: true, Source: dataPoint(100)},
		{Name: "running", DataType: entities.DataTypeBoolean, IsRequired: true, Source: dataPoint(101)},
		{Name: "b", DataType: entities.DataTypeNumber, IsRequired: true, Source: virtualPoint(7)},
		{Name: "k", DataType: entities.DataTypeNumber, Source: constant(expression.Number(0.5))},
		{Name: "label", DataType: entities.DataTypeString, Source: dataPoint(100)},
	}, Context{TenantID: 1})
	require.NoError(t, err)

	assert.Equal(t, expression.Number(3), env["a"])
	assert.Equal(t, expression.Boolean(true), env["running"])
	assert.Equal(t, expression.Number(10), env["b"])
	assert.Equal(t, expression.Number(0.5), env["k"])
	assert.Equal(t, expression.String("3"), env["label"])
}

func TestResolve_RequiredFailureNamesVariable(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(100, expression.Number(1))
	r := New(dp, nil)

	_, err := r.Resolve(context.Background(), []entities.InputVariable{
		{Name: "a", DataType: entities.DataTypeNumber, IsRequired: true, Source: dataPoint(100)},
		{Name: "missing", DataType: entities.DataTypeNumber, IsRequired: true, Source: dataPoint(404)},
		{Name: "later", DataType: entities.DataTypeNumber, IsRequired: true, Source: dataPoint(405)},
	}, Context{TenantID: 1})

	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "missing", rerr.Variable)
	assert.Equal(t, entities.SourceDataPoint, rerr.SourceType)
	assert.Equal(t, int64(404), rerr.PointID)
	assert.ErrorIs(t, err, providers.ErrDataPointNotFound)
	assert.Contains(t, err.Error(), `input "missing" (data_point 404)`)
}

func TestResolve_OptionalFailureIsNull(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.SetReading(100, providers.Reading{Value: expression.Number(1), Quality: providers.QualityOffline})
	r := New(dp, nil)

	env, err := r.Resolve(context.Background(), []entities.InputVariable{
		{Name: "opt", DataType: entities.DataTypeNumber, Source: dataPoint(100)},
		{Name: "vp", DataType: entities.DataTypeNumber, Source: virtualPoint(9)},
		{Name: "text", DataType: entities.DataTypeNumber, Source: constant(expression.String("abc"))},
	}, Context{TenantID: 1})
	require.NoError(t, err)
	assert.True(t, env["opt"].IsNull())
	assert.True(t, env["vp"].IsNull())
	assert.True(t, env["text"].IsNull())
}

func TestResolve_OverridesWin(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	r := New(dp, nil)

	env, err := r.Resolve(context.Background(), []entities.InputVariable{
		{Name: "a", DataType: entities.DataTypeNumber, IsRequired: true, Source: dataPoint(100)},
		{Name: "on", DataType: entities.DataTypeBoolean, IsRequired: true, Source: dataPoint(101)},
	}, Context{TenantID: 1, Overrides: map[string]expression.Value{
		"a":  expression.Number(5),
		"on": expression.String("on"),
	}})
	require.NoError(t, err)
	assert.Equal(t, expression.Number(5), env["a"])
	assert.Equal(t, expression.Boolean(true), env["on"])
	assert.Zero(t, dp.Calls(100), "overridden sources are not read")
}

func TestResolve_MemoizesProducers(t *testing.T) {
	points := &mockPoints{ValueFunc: func(ctx context.Context, id int64, rc Context) (expression.Value, error) {
		if id == 2 {
			return expression.Null(), ErrNoValue
		}
		return expression.Number(float64(id)), nil
	}}
	r := New(providers.NewStaticDataPointProvider(), points)
	memo := NewMemo()
	inputs := []entities.InputVariable{
		{Name: "x", DataType: entities.DataTypeNumber, IsRequired: true, Source: virtualPoint(1)},
		{Name: "y", DataType: entities.DataTypeNumber, Source: virtualPoint(2)},
	}

	for i := 0; i < 3; i++ {
		env, err := r.Resolve(context.Background(), inputs, Context{TenantID: 1, Memo: memo})
		require.NoError(t, err)
		assert.Equal(t, 1.0, env["x"].Num())
		assert.True(t, env["y"].IsNull())
	}
	assert.Equal(t, 1, points.calls[1])
	assert.Equal(t, 1, points.calls[2], "failures are memoized too")
	assert.Equal(t, 2, memo.Len())
}

func TestResolve_DeadlineAbortsEvenOptional(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(100, expression.Number(1))
	r := New(dp, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := r.Resolve(ctx, []entities.InputVariable{
		{Name: "opt", DataType: entities.DataTypeNumber, Source: dataPoint(100)},
	}, Context{TenantID: 1})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNestedDepth(t *testing.T) {
	rc := Context{TenantID: 3}
	var err error
	for i := 0; i < maxDepth; i++ {
		rc, err = rc.Nested()
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), rc.TenantID)
	_, err = rc.Nested()
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		in      expression.Value
		kind    expression.Kind
		want    expression.Value
		wantErr bool
	}{
		{"same kind", expression.Number(2), expression.KindNumber, expression.Number(2), false},
		{"bool to number", expression.Boolean(true), expression.KindNumber, expression.Number(1), false},
		{"text to number", expression.String(" 4.5 "), expression.KindNumber, expression.Number(4.5), false},
		{"bad text to number", expression.String("x"), expression.KindNumber, expression.Null(), true},
		{"number to bool", expression.Number(0), expression.KindBoolean, expression.Boolean(false), false},
		{"text to bool", expression.String("OFF"), expression.KindBoolean, expression.Boolean(false), false},
		{"number to text", expression.Number(1.25), expression.KindString, expression.String("1.25"), false},
		{"null", expression.Null(), expression.KindNumber, expression.Null(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
