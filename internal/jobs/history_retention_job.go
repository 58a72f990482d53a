package jobs

import (
	"context"
	"time"

	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/metrics"
)

// HistoryPruner deletes execution history older than a cutoff.
type HistoryPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryRetentionJob keeps the execution history table bounded.
type HistoryRetentionJob struct {
	pruner    HistoryPruner
	retention time.Duration
	metrics   *metrics.MetricsRegistry
	now       func() time.Time
}

func NewHistoryRetentionJob(pruner HistoryPruner, retention time.Duration, m *metrics.MetricsRegistry) *HistoryRetentionJob {
	return &HistoryRetentionJob{
		pruner:    pruner,
		retention: retention,
		metrics:   m,
		now:       time.Now,
	}
}

// Run deletes every execution recorded before now minus the retention.
func (j *HistoryRetentionJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if j.metrics != nil {
		j.metrics.HistoryPrunedTotal.Add(float64(deleted))
	}
	if deleted > 0 {
		logging.Info("[HistoryRetentionJob] Pruned execution history", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// RunScheduled prunes once on start and then every interval until ctx is done.
func (j *HistoryRetentionJob) RunScheduled(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := j.Run(ctx); err != nil {
		logging.Error("[HistoryRetentionJob] Error in initial run", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				logging.Error("[HistoryRetentionJob] Error in scheduled run", "error", err)
			}
		case <-ctx.Done():
			logging.Info("[HistoryRetentionJob] Shutting down scheduled pruning")
			return
		}
	}
}
