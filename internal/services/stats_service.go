package services

import (
	"context"

	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/models/entities"
)

const (
	defaultStatsLimit   = 10
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type StatsService struct {
	points     *repositories.VirtualPointRepo
	executions *repositories.ExecutionRepo
}

func NewStatsService(points *repositories.VirtualPointRepo, executions *repositories.ExecutionRepo) *StatsService {
	return &StatsService{points: points, executions: executions}
}

func (s *StatsService) CategoryStats(ctx context.Context, tenantID int64) ([]entities.CategoryStats, error) {
	stats, err := s.points.CategoryStats(ctx, tenantID)
	if err != nil {
		return nil, internal(err)
	}
	if stats == nil {
		stats = []entities.CategoryStats{}
	}
	return stats, nil
}

// PerformanceStats returns the slowest points first.
func (s *StatsService) PerformanceStats(ctx context.Context, tenantID int64, limit int) ([]entities.PerformanceStats, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultStatsLimit
	}
	stats, err := s.points.PerformanceStats(ctx, tenantID, limit)
	if err != nil {
		return nil, internal(err)
	}
	return stats, nil
}

// History returns the most recent runs of a point, newest first. Deleted
// points keep their history.
func (s *StatsService) History(ctx context.Context, tenantID, id int64, limit int) ([]entities.Execution, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	m, err := s.points.GetByID(ctx, tenantID, id, true)
	if err != nil {
		return nil, internal(err)
	}
	if m == nil {
		return nil, notFound(id)
	}
	execs, err := s.executions.ListByPoint(ctx, tenantID, id, limit)
	if err != nil {
		return nil, internal(err)
	}
	if execs == nil {
		execs = []entities.Execution{}
	}
	return execs, nil
}
