package entities

import "time"

type CategoryStats struct {
	Category string `json:"category"`
	Total    int64  `json:"total"`
	Enabled  int64  `json:"enabled"`
	InError  int64  `json:"in_error"`
}

type PerformanceStats struct {
	PointID          int64      `json:"point_id"`
	Name             string     `json:"name"`
	Trigger          string     `json:"trigger"`
	Status           string     `json:"status"`
	ExecutionCount   int64      `json:"execution_count"`
	ErrorCount       int64      `json:"error_count"`
	AvgDurationMs    float64    `json:"avg_duration_ms"`
	LastCalculatedAt *time.Time `json:"last_calculated_at,omitempty"`
}
