package api

import (
	"net/http"
	"time"

	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/models/dtos"
	"pulseone/vpengine/internal/services"
)

func scriptRequest(req *dtos.ScriptRequest) services.ScriptRequest {
	def := req.Definition()
	return services.ScriptRequest{
		Expression:    def.Expression,
		DataType:      def.DataType,
		DecimalPlaces: def.DecimalPlaces,
		MinValue:      def.MinValue,
		MaxValue:      def.MaxValue,
		Inputs:        def.Inputs,
		Overrides:     dtos.OverrideValues(req.Overrides),
	}
}

// TestScript handles POST /api/v1/virtual-points/test-script
func (h *Handlers) TestScript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.ScriptRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		result, err := h.deps.Services.DryRun.TestScript(r.Context(), tenantOf(r), scriptRequest(&req))
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Script evaluated", result)
	}
}

// ValidateScript handles POST /api/v1/virtual-points/validate
func (h *Handlers) ValidateScript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.ScriptRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		result, err := h.deps.Services.DryRun.Validate(scriptRequest(&req))
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Script validated", result)
	}
}

// TestVirtualPoint handles POST /api/v1/virtual-points/{id}/test
func (h *Handlers) TestVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		var req dtos.TestPointRequest
		if err := decodeBody(r, &req, true); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		result, err := h.deps.Services.DryRun.TestPoint(r.Context(), tenantOf(r), id, dtos.OverrideValues(req.Overrides))
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual point evaluated", result)
	}
}
