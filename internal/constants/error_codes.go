package constants

// Service error codes returned in API error bodies.
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeParseFailed      = "PARSE_FAILED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeCyclicDependency = "CYCLIC_DEPENDENCY"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNameConflict     = "NAME_CONFLICT"
	ErrCodeHasDependents    = "HAS_DEPENDENTS"
	ErrCodePointDisabled    = "POINT_DISABLED"
	ErrCodeInvalidScope     = "INVALID_SCOPE"
	ErrCodeResolutionFailed = "RESOLUTION_FAILED"
	ErrCodeEvaluationFailed = "EVALUATION_FAILED"
	ErrCodeSchedulerStopped = "SCHEDULER_STOPPED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeReadOnly         = "READ_ONLY"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

var ServiceErrorMessages = map[string]string{
	ErrCodeInvalidRequest:   "The request body or parameters are invalid",
	ErrCodeParseFailed:      "The expression could not be parsed",
	ErrCodeValidationFailed: "The virtual point definition is invalid",
	ErrCodeCyclicDependency: "The definition would create a dependency cycle",
	ErrCodeNotFound:         "The requested resource was not found",
	ErrCodeNameConflict:     "A virtual point with this name already exists in the scope",
	ErrCodeHasDependents:    "Other virtual points still consume this point",
	ErrCodePointDisabled:    "The virtual point is disabled",
	ErrCodeInvalidScope:     "The scope or one of its references is not valid",
	ErrCodeResolutionFailed: "An input variable could not be resolved",
	ErrCodeEvaluationFailed: "The expression failed to evaluate",
	ErrCodeSchedulerStopped: "The scheduler is shutting down",
	ErrCodeRateLimited:      "Too many requests",
	ErrCodeReadOnly:         "System templates cannot be changed",
	ErrCodeInternal:         "An internal error occurred",
}

// GetServiceErrorMessage returns the human-readable message for a service error code
func GetServiceErrorMessage(code string) string {
	if msg, exists := ServiceErrorMessages[code]; exists {
		return msg
	}
	return ServiceErrorMessages[ErrCodeInternal]
}
