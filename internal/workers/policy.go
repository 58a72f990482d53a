package workers

import (
	"context"
	"errors"
	"time"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/resolver"
)

// Classify turns any run failure into the persisted error description.
func Classify(err error) *entities.CalcError {
	if err == nil {
		return nil
	}

	var rerr *resolver.ResolutionError
	if errors.As(err, &rerr) {
		kind := entities.ErrorKindResolution
		if errors.Is(err, context.DeadlineExceeded) {
			kind = string(expression.ErrTimeout)
		}
		return &entities.CalcError{Kind: kind, Message: rerr.Error(), Variable: rerr.Variable}
	}

	var eerr *expression.EvalError
	if errors.As(err, &eerr) {
		return &entities.CalcError{Kind: string(eerr.Kind), Message: eerr.Message, Line: eerr.Line, Column: eerr.Column}
	}

	var perr *expression.ParseError
	if errors.As(err, &perr) {
		return &entities.CalcError{Kind: string(expression.ErrRuntimeFault), Message: perr.Error(), Line: perr.Line, Column: perr.Column}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &entities.CalcError{Kind: string(expression.ErrTimeout), Message: "calculation exceeded its timeout"}
	case errors.Is(err, context.Canceled):
		return &entities.CalcError{Kind: string(expression.ErrRuntimeFault), Message: "calculation cancelled"}
	}
	return &entities.CalcError{Kind: string(expression.ErrRuntimeFault), Message: err.Error()}
}

// applyOutcome derives the next runtime state from a finished run.
//
// On failure the error policy decides what consumers see: propagate clears
// the value, default_value substitutes the configured default and
// previous_value keeps the last good value. The status is error in all three
// cases. LastCalculatedAt moves only when a new value is installed.
func applyOutcome(def *entities.VirtualPoint, prev entities.RuntimeState, value *expression.Value, calcErr *entities.CalcError, at time.Time, dur time.Duration) entities.RuntimeState {
	next := prev.Clone()
	ms := float64(dur.Microseconds()) / 1000

	next.ExecutionCount++
	next.LastDurationMs = ms
	next.AvgDurationMs += (ms - next.AvgDurationMs) / float64(next.ExecutionCount)

	if calcErr == nil {
		v := *value
		next.CurrentValue = &v
		next.LastCalculatedAt = &at
		next.Status = entities.StatusActive
		next.LastError = nil
		return next
	}

	next.ErrorCount++
	next.Status = entities.StatusError
	next.LastError = calcErr
	switch def.OnError {
	case entities.OnErrorDefaultValue:
		if def.DefaultValue != nil {
			v := *def.DefaultValue
			next.CurrentValue = &v
			next.LastCalculatedAt = &at
		} else {
			next.CurrentValue = nil
		}
	case entities.OnErrorPreviousValue:
		// keep whatever value the point already had
	default:
		next.CurrentValue = nil
	}
	return next
}

// substitute returns the value a failing producer hands to eager consumers.
func substitute(def *entities.VirtualPoint, state entities.RuntimeState) (expression.Value, bool) {
	switch def.OnError {
	case entities.OnErrorDefaultValue:
		if def.DefaultValue != nil {
			return *def.DefaultValue, true
		}
	case entities.OnErrorPreviousValue:
		if state.CurrentValue != nil {
			return *state.CurrentValue, true
		}
	}
	return expression.Null(), false
}

// usableChanged reports whether consumers would now read something different.
func usableChanged(prev, next entities.RuntimeState) bool {
	pv, pok := prev.UsableValue()
	nv, nok := next.UsableValue()
	if pok != nok {
		return true
	}
	return pok && !pv.Equal(nv)
}
