package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/resolver"
)

// Calculator performs one resolve + evaluate pass. It never touches
// runtime state; the scheduler and dry runs both build on it.
type Calculator struct {
	resolver *resolver.Resolver
	maxSteps int
}

func NewCalculator(r *resolver.Resolver, maxSteps int) *Calculator {
	if maxSteps <= 0 {
		maxSteps = expression.DefaultMaxSteps
	}
	return &Calculator{resolver: r, maxSteps: maxSteps}
}

// Calculation is the result of a successful pass.
type Calculation struct {
	Value    expression.Value
	Inputs   expression.Env
	Duration time.Duration
}

// Calculate resolves def's inputs and evaluates root against them. The
// result is checked against the declared type, rounded to the configured
// decimal places and checked against the valid range. Panics are recovered
// as runtime faults. Inputs are returned even on failure when resolution
// succeeded.
func (c *Calculator) Calculate(ctx context.Context, def *entities.VirtualPoint, root expression.Node, rc resolver.Context) (calc Calculation, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Recovered panic during calculation",
				"point_id", def.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = &expression.EvalError{Kind: expression.ErrRuntimeFault, Message: fmt.Sprintf("internal fault: %v", r)}
		}
		calc.Duration = time.Since(start)
	}()

	env, err := c.resolver.Resolve(ctx, def.Inputs, rc)
	if err != nil {
		return calc, err
	}
	calc.Inputs = env

	res, err := expression.Evaluate(ctx, root, env, expression.Options{MaxSteps: c.maxSteps})
	if err != nil {
		return calc, err
	}

	v, err := expression.Coerce(res.Value, def.DataType.Kind())
	if err != nil {
		return calc, err
	}
	if def.DecimalPlaces != nil {
		v = expression.RoundTo(v, *def.DecimalPlaces)
	}
	if err := checkRange(def, v); err != nil {
		return calc, err
	}
	calc.Value = v
	return calc, nil
}

func checkRange(def *entities.VirtualPoint, v expression.Value) error {
	if v.Kind() != expression.KindNumber {
		return nil
	}
	if def.MinValue != nil && v.Num() < *def.MinValue {
		return &expression.EvalError{Kind: expression.ErrRuntimeFault, Message: fmt.Sprintf("value %s is below the minimum %g", v, *def.MinValue)}
	}
	if def.MaxValue != nil && v.Num() > *def.MaxValue {
		return &expression.EvalError{Kind: expression.ErrRuntimeFault, Message: fmt.Sprintf("value %s is above the maximum %g", v, *def.MaxValue)}
	}
	return nil
}
