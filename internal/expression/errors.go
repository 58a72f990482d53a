package expression

import "fmt"

// Position is a 1-based line/column location inside expression source.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ParseError reports malformed expression text.
type ParseError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

func parseErrorf(at Position, format string, args ...any) *ParseError {
	return &ParseError{Line: at.Line, Column: at.Column, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies evaluation failures.
type ErrorKind string

const (
	ErrDivisionByZero ErrorKind = "division_by_zero"
	ErrTypeMismatch   ErrorKind = "type_mismatch"
	ErrTimeout        ErrorKind = "timeout"
	ErrRuntimeFault   ErrorKind = "runtime_fault"
)

// EvalError is returned by Evaluate and Coerce.
type EvalError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
	Column  int       `json:"column,omitempty"`
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at line %d, column %d: %s", e.Kind, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func evalErrorf(kind ErrorKind, at Position, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Line: at.Line, Column: at.Column, Message: fmt.Sprintf(format, args...)}
}
