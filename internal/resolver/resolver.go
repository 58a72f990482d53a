package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/providers"
)

// maxDepth bounds eager producer recursion. The dependency graph is acyclic,
// so only a corrupted graph can reach it.
const maxDepth = 64

// VirtualPointSource supplies the value of a producer virtual point.
type VirtualPointSource interface {
	VirtualPointValue(ctx context.Context, pointID int64, rc Context) (expression.Value, error)
}

// Context carries per-run resolution settings.
type Context struct {
	TenantID int64

	// Overrides replace sources by variable name (dry-run sample inputs).
	Overrides map[string]expression.Value

	// Memo shares producer results across one run or cascade.
	Memo *Memo

	depth int
}

// Nested returns the context used to resolve a producer's own inputs.
func (rc Context) Nested() (Context, error) {
	if rc.depth+1 > maxDepth {
		return rc, fmt.Errorf("producer chain deeper than %d", maxDepth)
	}
	return Context{TenantID: rc.TenantID, Memo: rc.Memo, depth: rc.depth + 1}, nil
}

// ResolutionError names the first required variable that could not be resolved.
type ResolutionError struct {
	Variable   string
	SourceType entities.SourceType
	PointID    int64
	Err        error
}

func (e *ResolutionError) Error() string {
	switch e.SourceType {
	case entities.SourceConstant:
		return fmt.Sprintf("input %q (constant): %v", e.Variable, e.Err)
	default:
		return fmt.Sprintf("input %q (%s %d): %v", e.Variable, e.SourceType, e.PointID, e.Err)
	}
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ErrNoValue is returned for a producer that has no usable value.
var ErrNoValue = errors.New("no usable value")

type Resolver struct {
	dataPoints providers.DataPointProvider
	points     VirtualPointSource
}

func New(dataPoints providers.DataPointProvider, points VirtualPointSource) *Resolver {
	return &Resolver{dataPoints: dataPoints, points: points}
}

// Resolve binds every input to a typed value. Optional inputs that fail
// resolve to null; the first failing required input aborts resolution.
func (r *Resolver) Resolve(ctx context.Context, inputs []entities.InputVariable, rc Context) (expression.Env, error) {
	env := make(expression.Env, len(inputs))
	for _, in := range inputs {
		v, err := r.resolveOne(ctx, in, rc)
		if err != nil {
			if in.IsRequired || ctx.Err() != nil {
				return nil, &ResolutionError{Variable: in.Name, SourceType: in.Source.Type, PointID: in.Source.PointID, Err: err}
			}
			v = expression.Null()
		}
		env[in.Name] = v
	}
	return env, nil
}

func (r *Resolver) resolveOne(ctx context.Context, in entities.InputVariable, rc Context) (expression.Value, error) {
	kind := in.DataType.Kind()
	if v, ok := rc.Overrides[in.Name]; ok {
		if v.IsNull() {
			return v, nil
		}
		return Convert(v, kind)
	}
	if err := ctx.Err(); err != nil {
		return expression.Null(), err
	}

	switch in.Source.Type {
	case entities.SourceConstant:
		if in.Source.Constant == nil || in.Source.Constant.IsNull() {
			return expression.Null(), errors.New("constant has no value")
		}
		return Convert(*in.Source.Constant, kind)

	case entities.SourceDataPoint:
		reading, err := r.dataPoints.CurrentValue(ctx, rc.TenantID, in.Source.PointID)
		if err != nil {
			return expression.Null(), err
		}
		return Convert(reading.Value, kind)

	case entities.SourceVirtualPoint:
		v, err := r.producerValue(ctx, in.Source.PointID, rc)
		if err != nil {
			return expression.Null(), err
		}
		return Convert(v, kind)
	}
	return expression.Null(), fmt.Errorf("unknown source type %q", in.Source.Type)
}

func (r *Resolver) producerValue(ctx context.Context, id int64, rc Context) (expression.Value, error) {
	if rc.Memo != nil {
		if out, ok := rc.Memo.Lookup(id); ok {
			return out.Value, out.Err
		}
	}
	if r.points == nil {
		return expression.Null(), ErrNoValue
	}
	v, err := r.points.VirtualPointValue(ctx, id, rc)
	if rc.Memo != nil && ctx.Err() == nil {
		rc.Memo.Store(id, v, err)
	}
	return v, err
}

// Convert adapts a resolved value to the variable's declared kind. Textual
// telemetry is parsed; numbers and booleans convert as 1/0.
func Convert(v expression.Value, kind expression.Kind) (expression.Value, error) {
	if v.Kind() == kind {
		return v, nil
	}
	if v.IsNull() {
		return v, errors.New("value is null")
	}
	switch kind {
	case expression.KindNumber:
		switch v.Kind() {
		case expression.KindBoolean:
			if v.Bool() {
				return expression.Number(1), nil
			}
			return expression.Number(0), nil
		case expression.KindString:
			return expression.ParseLiteral(v.Str(), kind)
		}
	case expression.KindBoolean:
		switch v.Kind() {
		case expression.KindNumber:
			return expression.Boolean(v.Num() != 0), nil
		case expression.KindString:
			return expression.ParseLiteral(v.Str(), kind)
		}
	case expression.KindString:
		return expression.String(v.String()), nil
	}
	return expression.Null(), fmt.Errorf("cannot convert %s to %s", v.Kind(), kind)
}

// Memo records producer outcomes so each producer is computed at most once
// per run or cascade.
type Memo struct {
	mu      sync.Mutex
	entries map[int64]Outcome
}

// Outcome is a producer's memoized result.
type Outcome struct {
	Value expression.Value
	Err   error
}

func NewMemo() *Memo {
	return &Memo{entries: make(map[int64]Outcome)}
}

func (m *Memo) Lookup(id int64) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.entries[id]
	return out, ok
}

func (m *Memo) Store(id int64, v expression.Value, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = Outcome{Value: v, Err: err}
}

func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
