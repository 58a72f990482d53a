package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/expression"
)

// DataPointProvider defines the interface for telemetry current values
type DataPointProvider interface {
	// CurrentValue returns the latest reading of a raw data point
	CurrentValue(ctx context.Context, tenantID, dataPointID int64) (Reading, error)

	// GetProviderType returns the provider type identifier
	GetProviderType() string
}

// Quality of a telemetry reading, as reported by the collector.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityBad       Quality = "bad"
	QualityUncertain Quality = "uncertain"
	QualityStale     Quality = "stale"
	QualityOffline   Quality = "offline"
)

var qualityCodes = []Quality{QualityGood, QualityBad, QualityUncertain, QualityStale, QualityOffline}

// QualityFromCode maps the collector's numeric quality codes.
func QualityFromCode(code int) Quality {
	if code < 0 || code >= len(qualityCodes) {
		return QualityBad
	}
	return qualityCodes[code]
}

// ParseQuality accepts either a numeric code or a name. Empty means good.
func ParseQuality(s string) Quality {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return QualityGood
	}
	if n, err := strconv.Atoi(s); err == nil {
		return QualityFromCode(n)
	}
	for _, q := range qualityCodes {
		if string(q) == s {
			return q
		}
	}
	return QualityBad
}

// Usable reports whether a value of this quality may feed a calculation.
func (q Quality) Usable() bool {
	return q == QualityGood || q == QualityUncertain
}

// Reading is one current value of a data point.
type Reading struct {
	Value     expression.Value
	Quality   Quality
	Timestamp time.Time
}

// check applies the quality and age rules shared by every provider.
func (r Reading) check(dataPointID int64, maxAge time.Duration, now time.Time) error {
	if !r.Quality.Usable() {
		return &ProviderError{
			Code:    constants.ErrCodeDataPointBadQuality,
			Message: constants.GetErrorMessage(constants.ErrCodeDataPointBadQuality),
			Details: fmt.Sprintf("data point %d has quality %s", dataPointID, r.Quality),
		}
	}
	if maxAge > 0 && !r.Timestamp.IsZero() && now.Sub(r.Timestamp) > maxAge {
		return &ProviderError{
			Code:    constants.ErrCodeDataPointStale,
			Message: constants.GetErrorMessage(constants.ErrCodeDataPointStale),
			Details: fmt.Sprintf("data point %d last updated %s ago", dataPointID, now.Sub(r.Timestamp).Round(time.Millisecond)),
		}
	}
	return nil
}

// InferValue turns the collector's textual value into a typed value. Numbers
// win over booleans so "1" stays numeric; conversion to the variable's
// declared type happens during resolution.
func InferValue(raw string) expression.Value {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return expression.Number(f)
	}
	switch strings.ToLower(s) {
	case "true":
		return expression.Boolean(true)
	case "false":
		return expression.Boolean(false)
	}
	return expression.String(raw)
}

// ProviderError is returned by collaborators; Code is one of the constants
// in constants/data_provider_errors.go.
type ProviderError struct {
	Code    string
	Message string
	Details string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches on the error code, so errors.Is(err, ErrDataPointNotFound) works
// for any not-found error regardless of details.
func (e *ProviderError) Is(target error) bool {
	var t *ProviderError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrDataPointNotFound = &ProviderError{Code: constants.ErrCodeDataPointNotFound, Message: constants.GetErrorMessage(constants.ErrCodeDataPointNotFound)}
	ErrBadQuality        = &ProviderError{Code: constants.ErrCodeDataPointBadQuality, Message: constants.GetErrorMessage(constants.ErrCodeDataPointBadQuality)}
	ErrStale             = &ProviderError{Code: constants.ErrCodeDataPointStale, Message: constants.GetErrorMessage(constants.ErrCodeDataPointStale)}
	ErrScopeNotFound     = &ProviderError{Code: constants.ErrCodeScopeNotFound, Message: constants.GetErrorMessage(constants.ErrCodeScopeNotFound)}
)

func notFound(dataPointID int64) error {
	return &ProviderError{
		Code:    constants.ErrCodeDataPointNotFound,
		Message: constants.GetErrorMessage(constants.ErrCodeDataPointNotFound),
		Details: fmt.Sprintf("data point %d", dataPointID),
	}
}

func unavailable(source string, err error) error {
	return &ProviderError{
		Code:    constants.ErrCodeSourceUnavailable,
		Message: constants.GetErrorMessage(constants.ErrCodeSourceUnavailable),
		Details: source,
		Err:     err,
	}
}

func malformed(dataPointID int64, err error) error {
	return &ProviderError{
		Code:    constants.ErrCodeInvalidDataFormat,
		Message: constants.GetErrorMessage(constants.ErrCodeInvalidDataFormat),
		Details: fmt.Sprintf("data point %d", dataPointID),
		Err:     err,
	}
}
