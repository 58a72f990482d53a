package constants

// Data Provider Error Codes
// These constants define failure scenarios for telemetry and scope collaborators

// Lookup errors
const (
	ErrCodeDataPointNotFound    = "DATAPOINT_NOT_FOUND"
	ErrCodeDataPointBadQuality  = "DATAPOINT_BAD_QUALITY"
	ErrCodeDataPointStale       = "DATAPOINT_STALE"
	ErrCodeSourceUnavailable    = "SOURCE_UNAVAILABLE"
	ErrCodeInvalidDataFormat    = "INVALID_DATA_FORMAT"
	ErrCodeScopeNotFound        = "SCOPE_NOT_FOUND"
	ErrCodeTypeConversionError  = "TYPE_CONVERSION_ERROR"
	ErrCodeVirtualPointNotFound = "VIRTUAL_POINT_NOT_FOUND"
	ErrCodeProducerFailed       = "PRODUCER_FAILED"
)

// Error Messages
// Human-readable messages corresponding to error codes

var DataProviderErrorMessages = map[string]string{
	ErrCodeDataPointNotFound:    "No current value exists for the data point",
	ErrCodeDataPointBadQuality:  "The data point's current value has unusable quality",
	ErrCodeDataPointStale:       "The data point's current value is older than the allowed age",
	ErrCodeSourceUnavailable:    "The telemetry source could not be reached",
	ErrCodeInvalidDataFormat:    "The stored value could not be decoded",
	ErrCodeScopeNotFound:        "The site or device does not exist for this tenant",
	ErrCodeTypeConversionError:  "Unable to convert the value to the variable's declared type",
	ErrCodeVirtualPointNotFound: "The referenced virtual point does not exist or is deleted",
	ErrCodeProducerFailed:       "The referenced virtual point has no usable value",
}

// GetErrorMessage returns the human-readable message for an error code
func GetErrorMessage(code string) string {
	if msg, exists := DataProviderErrorMessages[code]; exists {
		return msg
	}
	return "An unknown error occurred"
}
