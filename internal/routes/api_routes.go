package routes

import (
	"pulseone/vpengine/internal/api"
	"pulseone/vpengine/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterAPIRoutes registers all API v1 routes and handlers
func RegisterAPIRoutes(r chi.Router, handlers *api.Handlers, defaultTenant int64, limiter *middleware.RateLimiter) {
	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(middleware.TenantMiddleware(defaultTenant))

		v1.Route("/virtual-points", func(vp chi.Router) {
			vp.Get("/", handlers.ListVirtualPoints())
			vp.Post("/", handlers.CreateVirtualPoint())
			vp.Post("/validate", handlers.ValidateScript())

			vp.Get("/stats/category", handlers.CategoryStats())
			vp.Get("/stats/performance", handlers.PerformanceStats())

			vp.Route("/templates", func(tpl chi.Router) {
				tpl.Get("/", handlers.ListTemplates())
				tpl.Post("/", handlers.CreateTemplate())
				tpl.Get("/{templateID}", handlers.GetTemplate())
				tpl.Put("/{templateID}", handlers.UpdateTemplate())
				tpl.Delete("/{templateID}", handlers.DeleteTemplate())
				tpl.Get("/{templateID}/usage", handlers.TemplateUsage())
				tpl.Post("/{templateID}/generate", handlers.GenerateFromTemplate())
			})

			vp.Get("/{id}", handlers.GetVirtualPoint())
			vp.Put("/{id}", handlers.UpdateVirtualPoint())
			vp.Delete("/{id}", handlers.DeleteVirtualPoint())
			vp.Post("/{id}/restore", handlers.RestoreVirtualPoint())
			vp.Post("/{id}/toggle", handlers.ToggleVirtualPoint())
			vp.Get("/{id}/history", handlers.GetVirtualPointHistory())

			// Runs that evaluate expressions are rate limited per client
			vp.Group(func(limited chi.Router) {
				limited.Use(limiter.Middleware)
				limited.Post("/test-script", handlers.TestScript())
				limited.Post("/{id}/test", handlers.TestVirtualPoint())
				limited.Post("/{id}/execute", handlers.ExecuteVirtualPoint())
			})
		})
	})
}
