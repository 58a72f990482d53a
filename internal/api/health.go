package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"pulseone/vpengine/internal/models/entities"
)

// HealthCheckHandler handles GET /healthCheck
//
// @Summary Health check
// @Description Verifies the database, telemetry sources and scheduler.
// @Tags Misc
// @Success 200 {object} entities.HealthCheckResponse
// @Failure 503 {object} entities.HealthCheckResponse
// @Router /healthCheck [get]
func HealthCheckHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services := make(map[string]entities.ServiceStatus)

		// Definitions database
		dbStatus := entities.ServiceStatus{Status: "ok", Details: "Database connected"}
		if sqlDB, err := deps.ORM.DB(); err != nil {
			dbStatus = entities.ServiceStatus{Status: "down", Details: err.Error()}
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = entities.ServiceStatus{Status: "down", Details: err.Error()}
		}
		services["database"] = dbStatus

		if deps.TelemetryDB != nil {
			status := entities.ServiceStatus{Status: "ok", Details: "Postgres Connected"}
			if err := deps.TelemetryDB.PingContext(ctx); err != nil {
				status = entities.ServiceStatus{Status: "down", Details: err.Error()}
			}
			services["postgres"] = status
		}

		if deps.Redis != nil {
			status := entities.ServiceStatus{Status: "ok", Details: "Redis Connected"}
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				status = entities.ServiceStatus{Status: "down", Details: err.Error()}
			}
			services["redis"] = status
		}

		scheduled := 0
		if deps.Scheduler != nil {
			scheduled = len(deps.Scheduler.Scheduled())
			services["scheduler"] = entities.ServiceStatus{
				Status:  "ok",
				Details: formatScheduled(scheduled),
			}
		}

		overallStatus := "ok"
		for _, svc := range services {
			if svc.Status != "ok" {
				overallStatus = "down"
				break
			}
		}

		resp := entities.HealthCheckResponse{
			Services:        services,
			Status:          overallStatus,
			ScheduledPoints: scheduled,
			UpSince:         deps.UpSince,
			Uptime:          time.Since(deps.UpSince).Round(time.Second).String(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func formatScheduled(n int) string {
	if n == 1 {
		return "1 point scheduled"
	}
	return strconv.Itoa(n) + " points scheduled"
}
