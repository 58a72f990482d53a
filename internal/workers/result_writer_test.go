package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/metrics"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/providers"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStores struct {
	mu         sync.Mutex
	updates    [][]repositories.RuntimeUpdate
	executions [][]entities.Execution
	saveErr    error
}

func (m *mockStores) SaveRuntime(ctx context.Context, updates []repositories.RuntimeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, updates)
	return m.saveErr
}

func (m *mockStores) InsertBatch(ctx context.Context, execs []entities.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, execs)
	return nil
}

func (m *mockStores) batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

type mockPublisher struct {
	mu      sync.Mutex
	updates []providers.PointUpdate
}

func (m *mockPublisher) Publish(ctx context.Context, u providers.PointUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	return nil
}

func outcome(pointID int64, v float64) RunOutcome {
	val := expression.Number(v)
	return RunOutcome{
		RunID:      "run",
		TenantID:   1,
		PointID:    pointID,
		Trigger:    entities.TriggerPeriodic,
		Value:      &val,
		State:      entities.RuntimeState{CurrentValue: &val, Status: entities.StatusActive},
		Duration:   1500 * time.Microsecond,
		ExecutedAt: time.Now().UTC(),
	}
}

func TestResultWriter_FlushKeepsLatestStatePerPoint(t *testing.T) {
	stores := &mockStores{}
	pub := &mockPublisher{}
	m := metrics.NewMetricsRegistryWith(prometheus.NewRegistry())
	w := NewResultWriter(stores, stores, pub, m, 10, time.Hour)

	w.Record(outcome(1, 1))
	w.Record(outcome(2, 5))
	w.Record(outcome(1, 2))
	assert.Equal(t, 3, w.Pending())

	w.Flush(context.Background())
	assert.Zero(t, w.Pending())

	require.Len(t, stores.executions, 1)
	assert.Len(t, stores.executions[0], 3)
	assert.InDelta(t, 1.5, stores.executions[0][0].DurationMs, 1e-9)
	assert.True(t, stores.executions[0][0].Success)

	require.Len(t, stores.updates, 1)
	require.Len(t, stores.updates[0], 2)
	byID := map[int64]float64{}
	for _, u := range stores.updates[0] {
		byID[u.PointID] = u.State.CurrentValue.Num()
	}
	assert.Equal(t, map[int64]float64{1: 2, 2: 5}, byID)

	assert.Len(t, pub.updates, 2)
	assert.Equal(t, 1.0, counterValue(t, m.ResultBatchesTotal.WithLabelValues("success")))
}

func TestResultWriter_FailedSaveIsCounted(t *testing.T) {
	stores := &mockStores{saveErr: errors.New("db down")}
	m := metrics.NewMetricsRegistryWith(prometheus.NewRegistry())
	w := NewResultWriter(stores, stores, nil, m, 10, time.Hour)

	failed := outcome(1, 0)
	failed.Value = nil
	failed.CalcError = &entities.CalcError{Kind: "timeout"}
	w.Record(failed)
	w.Flush(context.Background())

	assert.Equal(t, 1.0, counterValue(t, m.ResultBatchesTotal.WithLabelValues("error")))
	require.Len(t, stores.executions, 1)
	assert.False(t, stores.executions[0][0].Success)
	assert.Equal(t, "timeout", stores.executions[0][0].Error.Kind)
}

func TestResultWriter_RunFlushesOnSizeAndShutdown(t *testing.T) {
	stores := &mockStores{}
	w := NewResultWriter(stores, stores, nil, nil, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.Record(outcome(1, 1))
	w.Record(outcome(2, 1))
	assert.Eventually(t, func() bool { return stores.batches() == 1 }, time.Second, 5*time.Millisecond)

	w.Record(outcome(3, 1))
	cancel()
	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, 2, stores.batches())

	w.Record(outcome(4, 1))
	assert.Zero(t, w.Pending(), "records after shutdown are dropped")
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
