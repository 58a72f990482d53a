package entities

import (
	"time"

	"pulseone/vpengine/internal/expression"
)

type PointStatus string

const (
	StatusActive      PointStatus = "active"
	StatusCalculating PointStatus = "calculating"
	StatusError       PointStatus = "error"
	StatusDisabled    PointStatus = "disabled"
)

// ErrorKindResolution marks a run that failed before evaluation because a
// required input could not be resolved. Evaluation failures use the
// expression.ErrorKind values.
const ErrorKindResolution = "resolution_error"

// CalcError is the persisted description of the last failed run.
type CalcError struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Variable string `json:"variable,omitempty"`
}

// RuntimeState is owned by the scheduler. CurrentValue is nil when no usable
// value exists (never computed, or the last run failed under propagate).
type RuntimeState struct {
	CurrentValue     *expression.Value `json:"current_value"`
	LastCalculatedAt *time.Time        `json:"last_calculated_at,omitempty"`
	Status           PointStatus       `json:"status"`
	LastError        *CalcError        `json:"last_error,omitempty"`

	ExecutionCount int64   `json:"execution_count"`
	ErrorCount     int64   `json:"error_count"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	LastDurationMs float64 `json:"last_duration_ms"`
	DroppedTicks   int64   `json:"dropped_ticks"`
}

// UsableValue returns the value consumers may read. A point in error still
// exposes a value when its policy substituted one.
func (s RuntimeState) UsableValue() (expression.Value, bool) {
	if s.Status == StatusDisabled || s.CurrentValue == nil {
		return expression.Null(), false
	}
	return *s.CurrentValue, true
}

// Clone deep-copies pointer fields so callers can hold a snapshot.
func (s RuntimeState) Clone() RuntimeState {
	out := s
	if s.CurrentValue != nil {
		v := *s.CurrentValue
		out.CurrentValue = &v
	}
	if s.LastCalculatedAt != nil {
		t := *s.LastCalculatedAt
		out.LastCalculatedAt = &t
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}

// Execution is one recorded run of a virtual point.
type Execution struct {
	ID         int64             `json:"id"`
	RunID      string            `json:"run_id"`
	TenantID   int64             `json:"tenant_id"`
	PointID    int64             `json:"point_id"`
	Trigger    string            `json:"trigger"`
	Success    bool              `json:"success"`
	Value      *expression.Value `json:"value,omitempty"`
	Error      *CalcError        `json:"error,omitempty"`
	DurationMs float64           `json:"duration_ms"`
	ExecutedAt time.Time         `json:"executed_at"`
}
