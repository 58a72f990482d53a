package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pulseone/vpengine/internal/config"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/graph"
	"pulseone/vpengine/internal/metrics"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/providers"
	"pulseone/vpengine/internal/resolver"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []RunOutcome
}

func (r *recordingSink) Record(out RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, out)
}

func (r *recordingSink) pointIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, len(r.outcomes))
	for i, o := range r.outcomes {
		ids[i] = o.PointID
	}
	return ids
}

// mockDataPoints is a DataPointProvider backed by a function.
type mockDataPoints struct {
	CurrentValueFunc func(ctx context.Context, tenantID, dataPointID int64) (providers.Reading, error)
}

func (m *mockDataPoints) GetProviderType() string { return "mock" }

func (m *mockDataPoints) CurrentValue(ctx context.Context, tenantID, dataPointID int64) (providers.Reading, error) {
	return m.CurrentValueFunc(ctx, tenantID, dataPointID)
}

func newTestScheduler(t *testing.T, opts SchedulerOptions, dp providers.DataPointProvider) (*Scheduler, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	m := metrics.NewMetricsRegistryWith(prometheus.NewRegistry())
	s := NewScheduler(opts, dp, graph.New(), sink, m)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, sink
}

func point(id int64, expr string, trigger entities.TriggerType, inputs ...entities.InputVariable) entities.VirtualPoint {
	return entities.VirtualPoint{
		ID:         id,
		TenantID:   1,
		Name:       "vp",
		DataType:   entities.DataTypeNumber,
		Expression: expr,
		Scope:      entities.Scope{Type: entities.ScopeGlobal},
		Inputs:     inputs,
		Trigger:    trigger,
		IntervalMs: 1000,
		OnError:    entities.OnErrorPropagate,
		IsEnabled:  true,
	}
}

func fromDataPoint(name string, id int64, dt entities.DataType) entities.InputVariable {
	return entities.InputVariable{Name: name, DataType: dt, IsRequired: true,
		Source: entities.InputSource{Type: entities.SourceDataPoint, PointID: id}}
}

func fromPoint(name string, id int64) entities.InputVariable {
	return entities.InputVariable{Name: name, DataType: entities.DataTypeNumber, IsRequired: true,
		Source: entities.InputSource{Type: entities.SourceVirtualPoint, PointID: id}}
}

func TestScheduler_PeriodicDropsOverlappingTicks(t *testing.T) {
	var inFlight, maxInFlight int32
	dp := &mockDataPoints{CurrentValueFunc: func(ctx context.Context, tenantID, id int64) (providers.Reading, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(35 * time.Millisecond)
		return providers.Reading{Value: expression.Number(1), Quality: providers.QualityGood}, nil
	}}
	s, sink := newTestScheduler(t, SchedulerOptions{}, dp)
	s.interval = 10 * time.Microsecond // 1000ms interval runs every 10ms

	require.NoError(t, s.Register(point(1, "x + 1", entities.TriggerPeriodic, fromDataPoint("x", 5, entities.DataTypeNumber)), entities.RuntimeState{}))
	s.Start()
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	st, ok := s.State(1)
	require.True(t, ok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight), "runs of one point never overlap")
	assert.Greater(t, st.DroppedTicks, int64(0))
	assert.GreaterOrEqual(t, st.ExecutionCount, int64(2))
	assert.Len(t, sink.pointIDs(), int(st.ExecutionCount))
	assert.Equal(t, expression.Number(2), *st.CurrentValue)
}

func TestScheduler_PreviousValueKeptOnTypeMismatch(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(7, expression.String("21"))
	s, _ := newTestScheduler(t, SchedulerOptions{}, dp)

	def := point(1, "NUM(a) * 2", entities.TriggerManual, fromDataPoint("a", 7, entities.DataTypeString))
	def.OnError = entities.OnErrorPreviousValue
	require.NoError(t, s.Register(def, entities.RuntimeState{}))

	out, err := s.Execute(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, expression.Number(42), *out.Value)
	firstAt := *out.State.LastCalculatedAt

	dp.Set(7, expression.String("abc"))
	out, err = s.Execute(context.Background(), 1)

	var eerr *expression.EvalError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expression.ErrTypeMismatch, eerr.Kind)
	assert.Nil(t, out.Value)

	st, _ := s.State(1)
	assert.Equal(t, entities.StatusError, st.Status)
	require.NotNil(t, st.CurrentValue)
	assert.Equal(t, expression.Number(42), *st.CurrentValue)
	assert.Equal(t, firstAt, *st.LastCalculatedAt)
	assert.Equal(t, string(expression.ErrTypeMismatch), st.LastError.Kind)
	assert.EqualValues(t, 2, st.ExecutionCount)
	assert.EqualValues(t, 1, st.ErrorCount)
}

func registerChain(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Register(point(1, "x + 1", entities.TriggerOnChange, fromDataPoint("x", 10, entities.DataTypeNumber)), entities.RuntimeState{}))
	require.NoError(t, s.Register(point(2, "a * 2", entities.TriggerOnChange, fromPoint("a", 1)), entities.RuntimeState{}))
	require.NoError(t, s.Register(point(3, "b + 100", entities.TriggerOnChange, fromPoint("b", 2)), entities.RuntimeState{}))
}

func TestScheduler_CascadeRunsEachPointOnceInOrder(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(10, expression.Number(1))
	s, sink := newTestScheduler(t, SchedulerOptions{}, dp)
	registerChain(t, s)

	order := s.Cascade(context.Background(), []int64{10}, nil)
	assert.Equal(t, []int64{1, 2, 3}, order)
	assert.Equal(t, []int64{1, 2, 3}, sink.pointIDs())

	st, _ := s.State(3)
	assert.Equal(t, expression.Number(104), *st.CurrentValue)
}

func TestScheduler_DebouncedChangesCoalesce(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(10, expression.Number(1))
	s, sink := newTestScheduler(t, SchedulerOptions{OnChangeDebounce: 20 * time.Millisecond}, dp)
	registerChain(t, s)
	s.Start()

	s.NotifyDataPointChanged(10)
	dp.Set(10, expression.Number(4))
	s.NotifyDataPointChanged(10)

	assert.Eventually(t, func() bool {
		st, _ := s.State(3)
		return st.CurrentValue != nil && st.CurrentValue.Equal(expression.Number(110))
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, sink.pointIDs())
}

func TestScheduler_ManualExecuteCascadesToDependents(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(10, expression.Number(2))
	s, sink := newTestScheduler(t, SchedulerOptions{OnChangeDebounce: 5 * time.Millisecond}, dp)
	registerChain(t, s)
	s.Start()

	out, err := s.Execute(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, expression.Number(3), *out.Value)

	assert.Eventually(t, func() bool {
		st, _ := s.State(3)
		return st.CurrentValue != nil && st.CurrentValue.Equal(expression.Number(106))
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, sink.pointIDs())
}

func TestScheduler_ScheduledModeReadsProducerState(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(10, expression.Number(1))
	s, _ := newTestScheduler(t, SchedulerOptions{}, dp)
	registerChain(t, s)

	_, err := s.Execute(context.Background(), 2)
	var rerr *resolver.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "a", rerr.Variable)
	assert.ErrorIs(t, err, resolver.ErrNoValue)

	st, _ := s.State(2)
	assert.Equal(t, entities.ErrorKindResolution, st.LastError.Kind)
	assert.Equal(t, "a", st.LastError.Variable)
}

func TestScheduler_EagerModeComputesProducers(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Set(10, expression.Number(1))
	s, _ := newTestScheduler(t, SchedulerOptions{ResolutionMode: config.ResolutionEager}, dp)
	registerChain(t, s)

	out, err := s.Execute(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, expression.Number(104), *out.Value)

	producer, _ := s.State(1)
	assert.Zero(t, producer.ExecutionCount, "eager resolution leaves producer state alone")
	assert.Nil(t, producer.CurrentValue)
}

func TestScheduler_EagerModeUsesProducerPolicy(t *testing.T) {
	dp := providers.NewStaticDataPointProvider()
	dp.Fail(10, providers.ErrDataPointNotFound)
	s, _ := newTestScheduler(t, SchedulerOptions{ResolutionMode: config.ResolutionEager}, dp)

	producer := point(1, "x + 1", entities.TriggerManual, fromDataPoint("x", 10, entities.DataTypeNumber))
	producer.OnError = entities.OnErrorDefaultValue
	def := expression.Number(-1)
	producer.DefaultValue = &def
	require.NoError(t, s.Register(producer, entities.RuntimeState{}))
	require.NoError(t, s.Register(point(2, "a * 10", entities.TriggerManual, fromPoint("a", 1)), entities.RuntimeState{}))

	out, err := s.Execute(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, expression.Number(-10), *out.Value)
}

func TestScheduler_ExecuteErrors(t *testing.T) {
	s, _ := newTestScheduler(t, SchedulerOptions{}, providers.NewStaticDataPointProvider())

	_, err := s.Execute(context.Background(), 99)
	assert.ErrorIs(t, err, ErrUnknownPoint)

	def := point(1, "1 + 1", entities.TriggerManual)
	def.IsEnabled = false
	require.NoError(t, s.Register(def, entities.RuntimeState{}))
	_, err = s.Execute(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPointDisabled)

	st, _ := s.State(1)
	assert.Equal(t, entities.StatusDisabled, st.Status)

	require.NoError(t, s.SetEnabled(1, true))
	out, err := s.Execute(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, expression.Number(2), *out.Value)

	s.Start()
	require.NoError(t, s.Shutdown(context.Background()))
	_, err = s.Execute(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestScheduler_RegisterRejectsCycles(t *testing.T) {
	s, _ := newTestScheduler(t, SchedulerOptions{}, providers.NewStaticDataPointProvider())
	require.NoError(t, s.Register(point(1, "b", entities.TriggerManual, fromPoint("b", 2)), entities.RuntimeState{}))

	err := s.Register(point(2, "a", entities.TriggerManual, fromPoint("a", 1)), entities.RuntimeState{})
	var cerr *graph.CyclicDependencyError
	require.ErrorAs(t, err, &cerr)
	_, ok := s.State(2)
	assert.False(t, ok)

	err = s.Register(point(3, "1 +", entities.TriggerManual), entities.RuntimeState{})
	var perr *expression.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestScheduler_TimeoutClassified(t *testing.T) {
	dp := &mockDataPoints{CurrentValueFunc: func(ctx context.Context, tenantID, id int64) (providers.Reading, error) {
		<-ctx.Done()
		return providers.Reading{}, ctx.Err()
	}}
	s, _ := newTestScheduler(t, SchedulerOptions{}, dp)
	def := point(1, "x", entities.TriggerManual, fromDataPoint("x", 1, entities.DataTypeNumber))
	def.TimeoutMs = 20
	require.NoError(t, s.Register(def, entities.RuntimeState{}))

	out, err := s.Execute(context.Background(), 1)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, string(expression.ErrTimeout), out.CalcError.Kind)
}

func TestScheduler_UnregisterStopsPoint(t *testing.T) {
	s, _ := newTestScheduler(t, SchedulerOptions{}, providers.NewStaticDataPointProvider())
	require.NoError(t, s.Register(point(1, "1", entities.TriggerManual), entities.RuntimeState{}))
	assert.Equal(t, []int64{1}, s.Scheduled())

	s.Unregister(1)
	assert.Empty(t, s.Scheduled())
	assert.False(t, s.Graph().Has(1))
}

func TestScheduler_RunCapLimitsParallelRuns(t *testing.T) {
	var inFlight, maxInFlight int32
	dp := &mockDataPoints{CurrentValueFunc: func(ctx context.Context, tenantID, id int64) (providers.Reading, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return providers.Reading{Value: expression.Number(1), Quality: providers.QualityGood}, nil
	}}
	s, _ := newTestScheduler(t, SchedulerOptions{MaxConcurrentRuns: 1}, dp)
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, s.Register(point(id, "x", entities.TriggerManual, fromDataPoint("x", 9, entities.DataTypeNumber)), entities.RuntimeState{}))
	}

	var wg sync.WaitGroup
	for id := int64(1); id <= 3; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.Execute(context.Background(), id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight))
}

func TestScheduler_ShutdownDrainsInFlightRuns(t *testing.T) {
	started := make(chan struct{}, 1)
	var finished atomic.Bool
	dp := &mockDataPoints{CurrentValueFunc: func(ctx context.Context, tenantID, id int64) (providers.Reading, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return providers.Reading{Value: expression.Number(3), Quality: providers.QualityGood}, nil
	}}
	s, sink := newTestScheduler(t, SchedulerOptions{}, dp)
	s.interval = 10 * time.Microsecond

	require.NoError(t, s.Register(point(1, "x", entities.TriggerPeriodic, fromDataPoint("x", 9, entities.DataTypeNumber)), entities.RuntimeState{}))
	s.Start()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("periodic run never started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.True(t, finished.Load(), "shutdown returned before the in-flight run finished")
	assert.NotEmpty(t, sink.pointIDs())
}

func TestScheduler_EagerModeEvaluatesSharedProducerOnce(t *testing.T) {
	var reads int32
	dp := &mockDataPoints{CurrentValueFunc: func(ctx context.Context, tenantID, id int64) (providers.Reading, error) {
		n := atomic.AddInt32(&reads, 1)
		return providers.Reading{Value: expression.Number(float64(n)), Quality: providers.QualityGood}, nil
	}}
	s, _ := newTestScheduler(t, SchedulerOptions{ResolutionMode: config.ResolutionEager}, dp)

	require.NoError(t, s.Register(point(1, "x", entities.TriggerManual, fromDataPoint("x", 10, entities.DataTypeNumber)), entities.RuntimeState{}))
	require.NoError(t, s.Register(point(2, "a", entities.TriggerManual, fromPoint("a", 1)), entities.RuntimeState{}))
	require.NoError(t, s.Register(point(3, "a", entities.TriggerManual, fromPoint("a", 1)), entities.RuntimeState{}))
	require.NoError(t, s.Register(point(4, "b - c", entities.TriggerManual, fromPoint("b", 2), fromPoint("c", 3)), entities.RuntimeState{}))

	out, err := s.Execute(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, expression.Number(0), *out.Value)
	assert.EqualValues(t, 1, atomic.LoadInt32(&reads))

	// a new run reads fresh values
	_, err = s.Execute(context.Background(), 4)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&reads))
}
