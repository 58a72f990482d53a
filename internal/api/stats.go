package api

import (
	"net/http"
	"time"

	"pulseone/vpengine/internal/common"
)

// CategoryStats handles GET /api/v1/virtual-points/stats/category
func (h *Handlers) CategoryStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		stats, err := h.deps.Services.Stats.CategoryStats(r.Context(), tenantOf(r))
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Category statistics retrieved", stats)
	}
}

// PerformanceStats handles GET /api/v1/virtual-points/stats/performance
func (h *Handlers) PerformanceStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		limit, err := queryInt(r, "limit")
		if err != nil {
			badRequest(w, initTime, err.Error())
			return
		}

		stats, err := h.deps.Services.Stats.PerformanceStats(r.Context(), tenantOf(r), limit)
		if err != nil {
			handleServiceError(w, initTime, err)
			return
		}
		common.RespondSuccess(w, initTime, "Performance statistics retrieved", stats)
	}
}
