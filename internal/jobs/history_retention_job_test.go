package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pulseone/vpengine/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (m *mockPruner) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.deleted, m.err
}

func (m *mockPruner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cutoffs)
}

func TestHistoryRetentionJob_Run(t *testing.T) {
	pruner := &mockPruner{deleted: 12}
	m := metrics.NewMetricsRegistryWith(prometheus.NewRegistry())
	job := NewHistoryRetentionJob(pruner, 48*time.Hour, m)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	deleted, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 12, deleted)
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), pruner.cutoffs[0])

	var out dto.Metric
	require.NoError(t, m.HistoryPrunedTotal.Write(&out))
	assert.Equal(t, 12.0, out.GetCounter().GetValue())
}

func TestHistoryRetentionJob_RunError(t *testing.T) {
	job := NewHistoryRetentionJob(&mockPruner{err: errors.New("locked")}, time.Hour, nil)
	_, err := job.Run(context.Background())
	assert.EqualError(t, err, "locked")
}

func TestHistoryRetentionJob_RunScheduled(t *testing.T) {
	pruner := &mockPruner{}
	job := NewHistoryRetentionJob(pruner, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.RunScheduled(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return pruner.calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}
}
