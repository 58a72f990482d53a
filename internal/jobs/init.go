package jobs

import (
	"context"

	"pulseone/vpengine/internal/config"
	"pulseone/vpengine/internal/metrics"
)

// InitializeJobs starts all background jobs. They stop when ctx is done.
func InitializeJobs(
	ctx context.Context,
	cfg config.HistoryConfig,
	pruner HistoryPruner,
	m *metrics.MetricsRegistry,
) *HistoryRetentionJob {
	retention := NewHistoryRetentionJob(pruner, cfg.Retention, m)
	go retention.RunScheduled(ctx, cfg.PruneInterval)
	return retention
}
