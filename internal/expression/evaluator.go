package expression

import (
	"context"
	"errors"
	"math"
	"time"
)

// DefaultMaxSteps bounds the number of nodes a single evaluation may visit.
const DefaultMaxSteps = 100000

// Env binds input variable names to resolved values.
type Env map[string]Value

// Options tunes a single evaluation.
type Options struct {
	// MaxSteps caps visited nodes; zero means DefaultMaxSteps.
	MaxSteps int
}

// Result is a successful evaluation.
type Result struct {
	Value    Value
	Duration time.Duration
}

// Evaluate walks the tree against env. It is pure: the same tree and env
// always produce the same result. A context deadline or an exhausted step
// budget ends evaluation with a timeout error.
func Evaluate(ctx context.Context, root Node, env Env, opts Options) (Result, error) {
	start := time.Now()
	limit := opts.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}
	e := &evaluator{ctx: ctx, done: ctx.Done(), env: env, maxSteps: limit}
	v, err := e.eval(root)
	if err != nil {
		return Result{Duration: time.Since(start)}, err
	}
	return Result{Value: v, Duration: time.Since(start)}, nil
}

type evaluator struct {
	ctx      context.Context
	done     <-chan struct{}
	env      Env
	steps    int
	maxSteps int
}

func (e *evaluator) step(at Position) error {
	e.steps++
	if e.steps > e.maxSteps {
		return evalErrorf(ErrTimeout, at, "evaluation exceeded %d steps", e.maxSteps)
	}
	select {
	case <-e.done:
		if errors.Is(e.ctx.Err(), context.DeadlineExceeded) {
			return evalErrorf(ErrTimeout, at, "evaluation exceeded its time budget")
		}
		return evalErrorf(ErrRuntimeFault, at, "evaluation cancelled")
	default:
		return nil
	}
}

func (e *evaluator) eval(n Node) (Value, error) {
	if err := e.step(n.Pos()); err != nil {
		return Null(), err
	}
	switch t := n.(type) {
	case *NumberLit:
		return Number(t.Value), nil
	case *StringLit:
		return String(t.Value), nil
	case *BoolLit:
		return Boolean(t.Value), nil
	case *Ident:
		v, ok := e.env[t.Name]
		if !ok {
			return Null(), evalErrorf(ErrRuntimeFault, t.At, "variable %q has no value", t.Name)
		}
		return v, nil
	case *UnaryExpr:
		return e.evalUnary(t)
	case *BinaryExpr:
		return e.evalBinary(t)
	case *CondExpr:
		return e.evalConditional(t.At, t.Cond, t.Then, t.Else)
	case *CallExpr:
		return e.evalCall(t)
	}
	return Null(), evalErrorf(ErrRuntimeFault, n.Pos(), "unsupported node %T", n)
}

func (e *evaluator) evalUnary(t *UnaryExpr) (Value, error) {
	x, err := e.eval(t.X)
	if err != nil {
		return Null(), err
	}
	switch t.Op {
	case "!":
		if x.Kind() != KindBoolean {
			return Null(), evalErrorf(ErrTypeMismatch, t.At, "'!' requires a boolean, got %s", x.Kind())
		}
		return Boolean(!x.Bool()), nil
	case "-":
		if x.Kind() != KindNumber {
			return Null(), evalErrorf(ErrTypeMismatch, t.At, "unary '-' requires a number, got %s", x.Kind())
		}
		return Number(-x.Num()), nil
	}
	return Null(), evalErrorf(ErrRuntimeFault, t.At, "unknown unary operator %q", t.Op)
}

func (e *evaluator) evalBinary(t *BinaryExpr) (Value, error) {
	if t.Op == "&&" || t.Op == "||" {
		return e.evalLogical(t)
	}
	l, err := e.eval(t.Left)
	if err != nil {
		return Null(), err
	}
	r, err := e.eval(t.Right)
	if err != nil {
		return Null(), err
	}

	switch t.Op {
	case "==", "!=":
		eq, err := equal(t, l, r)
		if err != nil {
			return Null(), err
		}
		if t.Op == "!=" {
			eq = !eq
		}
		return Boolean(eq), nil
	case "<", ">", "<=", ">=":
		return compare(t, l, r)
	case "+":
		if l.Kind() == KindString && r.Kind() == KindString {
			return String(l.Str() + r.Str()), nil
		}
		return arithmetic(t, l, r)
	case "-", "*", "/":
		return arithmetic(t, l, r)
	}
	return Null(), evalErrorf(ErrRuntimeFault, t.At, "unknown operator %q", t.Op)
}

func (e *evaluator) evalLogical(t *BinaryExpr) (Value, error) {
	l, err := e.eval(t.Left)
	if err != nil {
		return Null(), err
	}
	if l.Kind() != KindBoolean {
		return Null(), evalErrorf(ErrTypeMismatch, t.At, "'%s' requires boolean operands, got %s", t.Op, l.Kind())
	}
	if t.Op == "&&" && !l.Bool() {
		return Boolean(false), nil
	}
	if t.Op == "||" && l.Bool() {
		return Boolean(true), nil
	}
	r, err := e.eval(t.Right)
	if err != nil {
		return Null(), err
	}
	if r.Kind() != KindBoolean {
		return Null(), evalErrorf(ErrTypeMismatch, t.At, "'%s' requires boolean operands, got %s", t.Op, r.Kind())
	}
	return r, nil
}

func (e *evaluator) evalConditional(at Position, cond, then, els Node) (Value, error) {
	c, err := e.eval(cond)
	if err != nil {
		return Null(), err
	}
	if c.Kind() != KindBoolean {
		return Null(), evalErrorf(ErrTypeMismatch, at, "condition must be boolean, got %s", c.Kind())
	}
	if c.Bool() {
		return e.eval(then)
	}
	return e.eval(els)
}

func (e *evaluator) evalCall(t *CallExpr) (Value, error) {
	b, ok := lookupBuiltin(t.Name)
	if !ok {
		return Null(), evalErrorf(ErrRuntimeFault, t.At, "unknown function %s", t.Name)
	}
	if !b.acceptsArgs(len(t.Args)) {
		return Null(), evalErrorf(ErrRuntimeFault, t.At, "%s takes %s argument(s), got %d", b.name, b.arityText(), len(t.Args))
	}
	if b.call == nil {
		// IF is the only lazy builtin.
		return e.evalConditional(t.At, t.Args[0], t.Args[1], t.Args[2])
	}
	args := make([]Value, len(t.Args))
	for i, a := range t.Args {
		v, err := e.eval(a)
		if err != nil {
			return Null(), err
		}
		args[i] = v
	}
	v, err := b.call(t.At, args)
	if err != nil {
		return Null(), err
	}
	return finite(t.At, v)
}

func equal(t *BinaryExpr, l, r Value) (bool, error) {
	if l.IsNull() || r.IsNull() {
		return l.IsNull() && r.IsNull(), nil
	}
	if l.Kind() != r.Kind() {
		return false, evalErrorf(ErrTypeMismatch, t.At, "cannot compare %s with %s", l.Kind(), r.Kind())
	}
	return l.Equal(r), nil
}

func compare(t *BinaryExpr, l, r Value) (Value, error) {
	var c int
	switch {
	case l.Kind() == KindNumber && r.Kind() == KindNumber:
		c = cmpOrdered(l.Num(), r.Num())
	case l.Kind() == KindString && r.Kind() == KindString:
		c = cmpOrdered(l.Str(), r.Str())
	default:
		return Null(), evalErrorf(ErrTypeMismatch, t.At, "'%s' cannot order %s and %s", t.Op, l.Kind(), r.Kind())
	}
	switch t.Op {
	case "<":
		return Boolean(c < 0), nil
	case ">":
		return Boolean(c > 0), nil
	case "<=":
		return Boolean(c <= 0), nil
	default:
		return Boolean(c >= 0), nil
	}
}

func cmpOrdered[T float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func arithmetic(t *BinaryExpr, l, r Value) (Value, error) {
	if l.Kind() != KindNumber || r.Kind() != KindNumber {
		return Null(), evalErrorf(ErrTypeMismatch, t.At, "'%s' requires numbers, got %s and %s", t.Op, l.Kind(), r.Kind())
	}
	a, b := l.Num(), r.Num()
	var out float64
	switch t.Op {
	case "+":
		out = a + b
	case "-":
		out = a - b
	case "*":
		out = a * b
	case "/":
		if b == 0 {
			return Null(), evalErrorf(ErrDivisionByZero, t.At, "division by zero")
		}
		out = a / b
	}
	return finite(t.At, Number(out))
}

func finite(at Position, v Value) (Value, error) {
	if v.Kind() == KindNumber && (math.IsNaN(v.Num()) || math.IsInf(v.Num(), 0)) {
		return Null(), evalErrorf(ErrRuntimeFault, at, "result is not a finite number")
	}
	return v, nil
}
