package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/constants"
	reqctx "pulseone/vpengine/internal/context"
	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/services"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// handleServiceError maps service errors to appropriate HTTP responses
func handleServiceError(w http.ResponseWriter, initTime time.Time, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		statusCode := http.StatusInternalServerError

		switch svcErr.Code {
		case constants.ErrCodeInvalidRequest, constants.ErrCodeParseFailed,
			constants.ErrCodeValidationFailed, constants.ErrCodeInvalidScope:
			statusCode = http.StatusBadRequest
		case constants.ErrCodeNotFound:
			statusCode = http.StatusNotFound
		case constants.ErrCodeCyclicDependency, constants.ErrCodeNameConflict,
			constants.ErrCodeHasDependents, constants.ErrCodePointDisabled,
			constants.ErrCodeReadOnly:
			statusCode = http.StatusConflict
		case constants.ErrCodeSchedulerStopped:
			statusCode = http.StatusServiceUnavailable
		}

		if statusCode == http.StatusInternalServerError {
			logging.Error("Request failed", "code", svcErr.Code, "error", svcErr.Err)
			common.RespondError(w, initTime, statusCode, svcErr.Code, svcErr.Message, nil)
			return
		}
		common.RespondError(w, initTime, statusCode, svcErr.Code, svcErr.Message, svcErr.Details)
		return
	}

	// Default to internal server error for unknown errors
	logging.Error("Unexpected request failure", "error", err)
	common.RespondError(w, initTime, http.StatusInternalServerError, constants.ErrCodeInternal,
		"An unexpected error occurred", nil)
}

func badRequest(w http.ResponseWriter, initTime time.Time, message string) {
	common.RespondError(w, initTime, http.StatusBadRequest, constants.ErrCodeInvalidRequest, message, nil)
}

// decodeBody decodes a JSON body into dst. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid virtual point id %q", raw)
	}
	return id, nil
}

func templateID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "templateID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid template id %q", raw)
	}
	return id, nil
}

func tenantOf(r *http.Request) int64 {
	id, _ := reqctx.GetTenantID(r.Context())
	return id
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}
