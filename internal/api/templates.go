package api

import (
	"net/http"
	"strings"
	"time"

	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/models/dtos"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/services"
)

// ListTemplates handles GET /api/v1/virtual-points/templates
//
// Filters: category, tag, search.
func (h *Handlers) ListTemplates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		q := r.URL.Query()
		f := repositories.TemplateFilter{
			Category: strings.TrimSpace(q.Get("category")),
			Tag:      strings.TrimSpace(q.Get("tag")),
			Search:   q.Get("search"),
		}

		list, err := h.deps.Services.Templates.List(r.Context(), tenantOf(r), f)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Formula templates retrieved", list)
	}
}

// GetTemplate handles GET /api/v1/virtual-points/templates/{templateID}
func (h *Handlers) GetTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := templateID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		tpl, err := h.deps.Services.Templates.Get(r.Context(), tenantOf(r), id)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Formula template retrieved", tpl)
	}
}

// CreateTemplate handles POST /api/v1/virtual-points/templates
func (h *Handlers) CreateTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		var req dtos.FormulaTemplateRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		tpl, err := h.deps.Services.Templates.Create(r.Context(), tenantOf(r), req.ToEntity())
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Formula template created", tpl, http.StatusCreated)
	}
}

// UpdateTemplate handles PUT /api/v1/virtual-points/templates/{templateID}
func (h *Handlers) UpdateTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := templateID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		var req dtos.FormulaTemplateRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		tpl, err := h.deps.Services.Templates.Update(r.Context(), tenantOf(r), id, req.ToEntity())
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Formula template updated", tpl)
	}
}

// DeleteTemplate handles DELETE /api/v1/virtual-points/templates/{templateID}
func (h *Handlers) DeleteTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := templateID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		if err := h.deps.Services.Templates.Delete(r.Context(), tenantOf(r), id); err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Formula template deleted", map[string]int64{"id": id})
	}
}

// TemplateUsage handles GET /api/v1/virtual-points/templates/{templateID}/usage
func (h *Handlers) TemplateUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := templateID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		ids, err := h.deps.Services.Templates.Usage(r.Context(), tenantOf(r), id)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Template usage retrieved", map[string]any{
			"template_id": id,
			"point_ids":   ids,
		})
	}
}

// GenerateFromTemplate handles POST /api/v1/virtual-points/templates/{templateID}/generate
//
// The rendered expression is validated but nothing is stored; clients pass
// it, with template_id, to the create call.
func (h *Handlers) GenerateFromTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		id, err := templateID(r)
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		var req dtos.GenerateRequest
		if err := decodeBody(r, &req, true); err != nil {
			badRequest(w, initTime, err.Error())
			return
		}
		var dt entities.DataType
		if strings.TrimSpace(req.DataType) != "" {
			dt = entities.NormalizeDataType(req.DataType)
		}

		res, err := h.deps.Services.Templates.Generate(r.Context(), tenantOf(r), id, services.GenerateRequest{
			Values:   req.Values,
			DataType: dt,
			Inputs:   req.Variables(),
		})
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Expression generated", res)
	}
}
