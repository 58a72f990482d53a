package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/models/dtos"
)

// ListVirtualPoints handles GET /api/v1/virtual-points
//
// Filters: category, scope_type, scope_id, status, enabled, search, page, limit.
func (h *Handlers) ListVirtualPoints() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		q := r.URL.Query()

		f := repositories.ListFilter{
			Category:  q.Get("category"),
			ScopeType: strings.ToLower(q.Get("scope_type")),
			Status:    strings.ToLower(q.Get("status")),
			Search:    q.Get("search"),
		}
		if raw := q.Get("scope_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				badRequest(w, initTime, "scope_id must be an integer")
				return
			}
			f.ScopeID = &id
		}
		if raw := q.Get("enabled"); raw != "" {
			enabled, err := strconv.ParseBool(raw)
			if err != nil {
				badRequest(w, initTime, "enabled must be true or false")
				return
			}
			f.Enabled = &enabled
		}
		var err error
		if f.Page, err = queryInt(r, "page"); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}
		if f.Limit, err = queryInt(r, "limit"); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		page, err := h.deps.Services.Points.List(r.Context(), tenantOf(r), f)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual points retrieved", page)
	}
}

// GetVirtualPoint handles GET /api/v1/virtual-points/{id}
func (h *Handlers) GetVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		view, err := h.deps.Services.Points.Get(r.Context(), tenantOf(r), id)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual point retrieved", view)
	}
}

// CreateVirtualPoint handles POST /api/v1/virtual-points
func (h *Handlers) CreateVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.VirtualPointRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		view, err := h.deps.Services.Points.Create(r.Context(), tenantOf(r), req.ToEntity())
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual point created", view, http.StatusCreated)
	}
}

// UpdateVirtualPoint handles PUT /api/v1/virtual-points/{id}
func (h *Handlers) UpdateVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		var req dtos.VirtualPointRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		view, err := h.deps.Services.Points.Update(r.Context(), tenantOf(r), id, req.ToEntity())
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual point updated", view)
	}
}

// DeleteVirtualPoint handles DELETE /api/v1/virtual-points/{id}
func (h *Handlers) DeleteVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		if err := h.deps.Services.Points.Delete(r.Context(), tenantOf(r), id); err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual point deleted", map[string]int64{"id": id})
	}
}

// RestoreVirtualPoint handles POST /api/v1/virtual-points/{id}/restore
func (h *Handlers) RestoreVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		view, err := h.deps.Services.Points.Restore(r.Context(), tenantOf(r), id)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual point restored", view)
	}
}

// ToggleVirtualPoint handles POST /api/v1/virtual-points/{id}/toggle
func (h *Handlers) ToggleVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		view, err := h.deps.Services.Points.Toggle(r.Context(), tenantOf(r), id)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Virtual point toggled", view)
	}
}

// ExecuteVirtualPoint handles POST /api/v1/virtual-points/{id}/execute
//
// The run is synchronous. A failed calculation still answers 200 with
// success=false and the raw error in the body.
func (h *Handlers) ExecuteVirtualPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		result, err := h.deps.Services.Points.Execute(r.Context(), tenantOf(r), id)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		message := "Virtual point executed"
		if !result.Success {
			message = "Virtual point execution failed"
		}
		common.RespondSuccess(w, initTime, message, result)
	}
}

// GetVirtualPointHistory handles GET /api/v1/virtual-points/{id}/history
func (h *Handlers) GetVirtualPointHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := pathID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		history, err := h.deps.Services.Stats.History(r.Context(), tenantOf(r), id, limit)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Execution history retrieved", history)
	}
}
