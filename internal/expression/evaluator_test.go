package expression

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eval(t *testing.T, src string, env Env) (Value, error) {
	t.Helper()
	n, err := Parse(src)
	require.NoError(t, err, "parse %q", src)
	res, err := Evaluate(context.Background(), n, env, Options{})
	return res.Value, err
}

func TestEvaluateValues(t *testing.T) {
	env := Env{
		"a":     Number(10),
		"b":     Number(4),
		"on":    Boolean(true),
		"off":   Boolean(false),
		"name":  String("pump"),
		"empty": Null(),
	}
	tests := []struct {
		src  string
		want Value
	}{
		{"2 + 2", Number(4)},
		{"a - b * 2", Number(2)},
		{"a / b", Number(2.5)},
		{"-a + 3", Number(-7)},
		{"(a + b) * 2", Number(28)},
		{"a > b", Boolean(true)},
		{"a <= b", Boolean(false)},
		{"a == 10", Boolean(true)},
		{"a != 10", Boolean(false)},
		{"on && !off", Boolean(true)},
		{"off || on", Boolean(true)},
		{"name + '-1'", String("pump-1")},
		{"name == 'pump'", Boolean(true)},
		{"'abc' < 'abd'", Boolean(true)},
		{"a > 5 ? 'high' : 'low'", String("high")},
		{"IF(a < 5, 1, 2)", Number(2)},
		{"SUM(a, b, 1)", Number(15)},
		{"AVG(a, b)", Number(7)},
		{"MIN(a, b, -1)", Number(-1)},
		{"MAX(a, b)", Number(10)},
		{"abs(-3)", Number(3)},
		{"SQRT(16)", Number(4)},
		{"POW(2, 10)", Number(1024)},
		{"ROUND(3.14159, 2)", Number(3.14)},
		{"ISNULL(empty)", Boolean(true)},
		{"ISNULL(a)", Boolean(false)},
		{"empty == empty", Boolean(true)},
		{"empty != a", Boolean(true)},
		{"NUM('12.5') + 1", Number(13.5)},
		{"NUM(on)", Number(1)},
		{"STR(a) + 'x'", String("10x")},
		{"TRUE == true", Boolean(true)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := eval(t, tt.src, env)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v (%s), got %v (%s)", tt.want, tt.want.Kind(), got, got.Kind())
		})
	}
}

func TestEvaluateConstantIgnoresEnv(t *testing.T) {
	for _, env := range []Env{nil, {}, {"x": String("y")}, {"a": Number(-1)}} {
		got, err := eval(t, "2 + 2", env)
		require.NoError(t, err)
		assert.Equal(t, 4.0, got.Num())
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	n := MustParse("IF(a > b, a * 1.5, b / 3) + SUM(a, b)")
	env := Env{"a": Number(3), "b": Number(9)}
	first, err := Evaluate(context.Background(), n, env, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Evaluate(context.Background(), n, env, Options{})
		require.NoError(t, err)
		assert.True(t, first.Value.Equal(again.Value))
	}
}

func TestEvaluateErrors(t *testing.T) {
	env := Env{
		"a":     Number(1),
		"zero":  Number(0),
		"on":    Boolean(true),
		"name":  String("x"),
		"empty": Null(),
	}
	tests := []struct {
		src    string
		kind   ErrorKind
		column int
	}{
		{"a / zero", ErrDivisionByZero, 3},
		{"a / (zero * 2)", ErrDivisionByZero, 3},
		{"name + a", ErrTypeMismatch, 6},
		{"a < name", ErrTypeMismatch, 3},
		{"on > a", ErrTypeMismatch, 4},
		{"a == name", ErrTypeMismatch, 3},
		{"a + empty", ErrTypeMismatch, 3},
		{"!a", ErrTypeMismatch, 1},
		{"-on", ErrTypeMismatch, 1},
		{"a && on", ErrTypeMismatch, 3},
		{"a ? 1 : 2", ErrTypeMismatch, 3},
		{"IF(name, 1, 2)", ErrTypeMismatch, 1},
		{"SUM(a, name)", ErrTypeMismatch, 1},
		{"SQRT(-1)", ErrRuntimeFault, 1},
		{"POW(10, 400)", ErrRuntimeFault, 1},
		{"ROUND(a, 1.5)", ErrRuntimeFault, 1},
		{"NUM('abc')", ErrTypeMismatch, 1},
		{"undefined + 1", ErrRuntimeFault, 1},
		{"NOPE(1)", ErrRuntimeFault, 1},
		{"MAX()", ErrRuntimeFault, 1},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := eval(t, tt.src, env)
			var ee *EvalError
			require.True(t, errors.As(err, &ee), "expected *EvalError, got %v", err)
			assert.Equal(t, tt.kind, ee.Kind, ee.Message)
			assert.Equal(t, 1, ee.Line)
			assert.Equal(t, tt.column, ee.Column)
		})
	}
}

func TestEvaluateShortCircuit(t *testing.T) {
	env := Env{"a": Number(1), "zero": Number(0)}
	tests := []struct {
		src  string
		want Value
	}{
		{"false && (a / zero > 1)", Boolean(false)},
		{"true || (a / zero > 1)", Boolean(true)},
		{"true ? 1 : a / zero", Number(1)},
		{"IF(false, a / zero, 7)", Number(7)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := eval(t, tt.src, env)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got))
		})
	}
}

func TestEvaluateStepBudget(t *testing.T) {
	src := strings.Repeat("a + ", 50) + "a"
	n := MustParse(src)
	_, err := Evaluate(context.Background(), n, Env{"a": Number(1)}, Options{MaxSteps: 20})
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrTimeout, ee.Kind)

	res, err := Evaluate(context.Background(), n, Env{"a": Number(1)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 51.0, res.Value.Num())
}

func TestEvaluateDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := Evaluate(ctx, MustParse("1 + 1"), nil, Options{})
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrTimeout, ee.Kind)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(Number(3), KindNumber)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Num())

	_, err = Coerce(String("3"), KindNumber)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrTypeMismatch, ee.Kind)

	_, err = Coerce(Null(), KindBoolean)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrTypeMismatch, ee.Kind)

	assert.Equal(t, 1.24, RoundTo(Number(1.2351), 2).Num())
	assert.Equal(t, "x", RoundTo(String("x"), 2).Str())
}

func TestValueJSON(t *testing.T) {
	for _, v := range []Value{Number(1.5), Boolean(true), String("on"), Null()} {
		data, err := v.MarshalJSON()
		require.NoError(t, err)
		var back Value
		require.NoError(t, back.UnmarshalJSON(data))
		assert.True(t, v.Equal(back), "round trip of %s", data)
	}
}
