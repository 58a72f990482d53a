package services

import (
	"errors"
	"fmt"
	"strings"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ServiceError carries an API error code plus optional structured details
// (validation result, cycle path, consumer ids).
type ServiceError struct {
	Code    string
	Message string
	Details any
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func newServiceError(code string, details any, err error) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: constants.GetServiceErrorMessage(code),
		Details: details,
		Err:     err,
	}
}

func notFound(id int64) *ServiceError {
	return newServiceError(constants.ErrCodeNotFound, map[string]int64{"id": id}, fmt.Errorf("virtual point %d: %w", id, ErrNotFound))
}

func templateNotFound(id int64) *ServiceError {
	return newServiceError(constants.ErrCodeNotFound, map[string]int64{"template_id": id}, fmt.Errorf("formula template %d: %w", id, ErrNotFound))
}

func internal(err error) *ServiceError {
	return newServiceError(constants.ErrCodeInternal, nil, err)
}

// ValidationError reports every broken definition rule together with the
// expression validation result.
type ValidationError struct {
	Fields     []entities.FieldError        `json:"fields,omitempty"`
	Expression *expression.ValidationResult `json:"expression,omitempty"`
}

func (e *ValidationError) Error() string {
	var parts []string
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	if e.Expression != nil {
		for _, issue := range e.Expression.Errors {
			parts = append(parts, "expression: "+issue.Message)
		}
	}
	if len(parts) == 0 {
		return "invalid definition"
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0 && (e.Expression == nil || e.Expression.IsValid)
}

func validationFailed(ve *ValidationError) *ServiceError {
	return newServiceError(constants.ErrCodeValidationFailed, ve, ve)
}
