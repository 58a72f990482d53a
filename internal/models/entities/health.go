package entities

import "time"

type ServiceStatus struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

// HealthCheckResponse is the body of /healthCheck. ScheduledPoints counts
// the enabled and disabled points the scheduler currently holds.
type HealthCheckResponse struct {
	Status          string                   `json:"status"`
	Services        map[string]ServiceStatus `json:"services"`
	ScheduledPoints int                      `json:"scheduled_points"`
	UpSince         time.Time                `json:"up_since"`
	Uptime          string                   `json:"uptime"`
}
