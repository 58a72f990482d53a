package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pulseone/vpengine/internal/config"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/graph"
	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/metrics"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/providers"
	"pulseone/vpengine/internal/resolver"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownPoint     = errors.New("virtual point is not scheduled")
	ErrPointDisabled    = errors.New("virtual point is disabled")
	ErrSchedulerStopped = errors.New("scheduler is shut down")
)

// ResultSink receives every finished run.
type ResultSink interface {
	Record(outcome RunOutcome)
}

// RunOutcome describes one finished run and the state it produced.
type RunOutcome struct {
	RunID      string
	TenantID   int64
	PointID    int64
	Trigger    entities.TriggerType
	Value      *expression.Value
	Err        error
	CalcError  *entities.CalcError
	State      entities.RuntimeState
	Duration   time.Duration
	ExecutedAt time.Time
}

// Success reports whether the expression produced a value.
func (o RunOutcome) Success() bool {
	return o.CalcError == nil
}

// SchedulerOptions tune the scheduler; zero values fall back to defaults.
type SchedulerOptions struct {
	ResolutionMode    string
	OnChangeDebounce  time.Duration
	MaxConcurrentRuns int64
	DefaultTimeout    time.Duration
	MaxSteps          int
}

// OptionsFromConfig maps the scheduler section of the service config.
func OptionsFromConfig(c config.SchedulerConfig) SchedulerOptions {
	return SchedulerOptions{
		ResolutionMode:    c.ResolutionMode,
		OnChangeDebounce:  c.OnChangeDebounce,
		MaxConcurrentRuns: c.MaxConcurrentRuns,
		DefaultTimeout:    c.DefaultTimeout,
		MaxSteps:          c.MaxSteps,
	}
}

func (o *SchedulerOptions) setDefaults() {
	if o.ResolutionMode == "" {
		o.ResolutionMode = config.ResolutionScheduled
	}
	if o.OnChangeDebounce <= 0 {
		o.OnChangeDebounce = 200 * time.Millisecond
	}
	if o.MaxConcurrentRuns <= 0 {
		o.MaxConcurrentRuns = 32
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 5 * time.Second
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = expression.DefaultMaxSteps
	}
}

// pointRuntime is the scheduler's view of one virtual point. slot holds a
// token while a run is in flight, serializing runs of the same point.
type pointRuntime struct {
	id   int64
	slot chan struct{}

	mu     sync.Mutex
	def    entities.VirtualPoint
	ast    expression.Node
	state  entities.RuntimeState
	stopFn context.CancelFunc
}

func (p *pointRuntime) snapshot() (entities.VirtualPoint, expression.Node, entities.RuntimeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.def, p.ast, p.state.Clone()
}

func (p *pointRuntime) tryAcquire() bool {
	select {
	case p.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *pointRuntime) acquire(ctx context.Context) error {
	select {
	case p.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pointRuntime) release() {
	<-p.slot
}

// Scheduler owns the runtime state of every registered virtual point and
// drives periodic, on-change and manual runs.
type Scheduler struct {
	opts       SchedulerOptions
	graph      *graph.DependencyGraph
	calculator *Calculator
	sink       ResultSink
	metrics    *metrics.MetricsRegistry
	sem        *semaphore.Weighted
	log        *zap.SugaredLogger

	mu     sync.RWMutex
	points map[int64]*pointRuntime

	pendingMu  sync.Mutex
	pendingDPs map[int64]struct{}
	pendingVPs map[int64]struct{}
	kick       chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	lifeMu   sync.Mutex
	interval time.Duration // unit of IntervalMs
}

func NewScheduler(
	opts SchedulerOptions,
	dataPoints providers.DataPointProvider,
	g *graph.DependencyGraph,
	sink ResultSink,
	m *metrics.MetricsRegistry,
) *Scheduler {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:       opts,
		graph:      g,
		sink:       sink,
		metrics:    m,
		sem:        semaphore.NewWeighted(opts.MaxConcurrentRuns),
		log:        logging.With("component", "scheduler"),
		points:     make(map[int64]*pointRuntime),
		pendingDPs: make(map[int64]struct{}),
		pendingVPs: make(map[int64]struct{}),
		kick:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		interval:   time.Millisecond,
	}
	s.calculator = NewCalculator(resolver.New(dataPoints, s), opts.MaxSteps)
	return s
}

// Calculator exposes the scheduler's resolve + evaluate pipeline for dry runs.
func (s *Scheduler) Calculator() *Calculator {
	return s.calculator
}

// Graph returns the dependency graph the scheduler orders cascades with.
func (s *Scheduler) Graph() *graph.DependencyGraph {
	return s.graph
}

// Start launches the cascade loop and the periodic timers of every enabled
// periodic point. Points registered later start their timers immediately.
func (s *Scheduler) Start() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cascadeLoop()
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.points {
		s.syncTimer(p)
	}
	s.log.Infow("Scheduler started", "points", len(s.points), "resolution_mode", s.opts.ResolutionMode)
}

// Shutdown stops all timers and the cascade loop, then waits for in-flight
// runs to finish or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	s.stopped = true
	s.lifeMu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Infow("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) running() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.started && !s.stopped
}

// Register adds or replaces a point definition. The expression must parse
// and the producer edges must keep the graph acyclic; on error nothing
// changes. state seeds the runtime state of a point not yet known, which is
// how persisted values survive restarts.
func (s *Scheduler) Register(def entities.VirtualPoint, state entities.RuntimeState) error {
	root, err := expression.Parse(def.Expression)
	if err != nil {
		return err
	}
	if err := s.graph.Set(def.ID, def.ProducerIDs(), def.DataPointIDs()); err != nil {
		return err
	}

	s.mu.Lock()
	p, exists := s.points[def.ID]
	if !exists {
		p = &pointRuntime{id: def.ID, slot: make(chan struct{}, 1), state: state.Clone()}
		s.points[def.ID] = p
	}
	s.mu.Unlock()

	p.mu.Lock()
	p.def = def
	p.ast = root
	switch {
	case !def.IsEnabled:
		p.state.Status = entities.StatusDisabled
	case p.state.Status == entities.StatusDisabled || p.state.Status == "":
		p.state.Status = entities.StatusActive
	}
	p.mu.Unlock()

	if s.running() {
		s.syncTimer(p)
	}
	s.updateGauge()
	return nil
}

// Unregister forgets a point. Consumer edges pointing at it remain in the
// graph so dependents are still discoverable.
func (s *Scheduler) Unregister(id int64) {
	s.mu.Lock()
	p, ok := s.points[id]
	delete(s.points, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	if p.stopFn != nil {
		p.stopFn()
		p.stopFn = nil
	}
	p.mu.Unlock()
	s.graph.Remove(id)
	s.updateGauge()
}

// SetEnabled toggles a point. Disabling stops its timer and hides its value
// from consumers; enabling restores the active status.
func (s *Scheduler) SetEnabled(id int64, enabled bool) error {
	p := s.lookup(id)
	if p == nil {
		return ErrUnknownPoint
	}
	p.mu.Lock()
	p.def.IsEnabled = enabled
	if enabled {
		if p.state.Status == entities.StatusDisabled {
			p.state.Status = entities.StatusActive
		}
	} else {
		p.state.Status = entities.StatusDisabled
	}
	p.mu.Unlock()

	if s.running() {
		s.syncTimer(p)
	}
	s.updateGauge()
	return nil
}

// State returns a snapshot of a point's runtime state.
func (s *Scheduler) State(id int64) (entities.RuntimeState, bool) {
	p := s.lookup(id)
	if p == nil {
		return entities.RuntimeState{}, false
	}
	_, _, st := p.snapshot()
	return st, true
}

// Snapshot returns the runtime state of every registered point, by id.
func (s *Scheduler) Snapshot() map[int64]entities.RuntimeState {
	s.mu.RLock()
	ps := make([]*pointRuntime, 0, len(s.points))
	for _, p := range s.points {
		ps = append(ps, p)
	}
	s.mu.RUnlock()

	out := make(map[int64]entities.RuntimeState, len(ps))
	for _, p := range ps {
		_, _, st := p.snapshot()
		out[p.id] = st
	}
	return out
}

// Scheduled returns the registered point ids, sorted.
func (s *Scheduler) Scheduled() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.points))
	for id := range s.points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Scheduler) lookup(id int64) *pointRuntime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.points[id]
}

func (s *Scheduler) priority(id int64) int {
	p := s.lookup(id)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.def.Priority
}

// TimeoutOf is the run budget of def: its own timeout_ms or the default.
func (s *Scheduler) TimeoutOf(def *entities.VirtualPoint) time.Duration {
	if def.TimeoutMs > 0 {
		return time.Duration(def.TimeoutMs) * time.Millisecond
	}
	return s.opts.DefaultTimeout
}

func (s *Scheduler) updateGauge() {
	if s.metrics == nil {
		return
	}
	counts := map[entities.TriggerType]int{
		entities.TriggerPeriodic: 0,
		entities.TriggerOnChange: 0,
		entities.TriggerManual:   0,
	}
	s.mu.RLock()
	for _, p := range s.points {
		p.mu.Lock()
		if p.def.IsEnabled {
			counts[p.def.Trigger]++
		}
		p.mu.Unlock()
	}
	s.mu.RUnlock()
	for trigger, n := range counts {
		s.metrics.PointsScheduled.WithLabelValues(string(trigger)).Set(float64(n))
	}
}

// Execute runs a point now and waits for the outcome. It waits for any
// in-flight run of the same point first; the wait and the run together are
// bounded by the point's timeout. The returned error is the raw failure
// (resolution or evaluation); the outcome carries the policy-applied state.
func (s *Scheduler) Execute(ctx context.Context, id int64) (RunOutcome, error) {
	if !s.running() {
		s.lifeMu.Lock()
		stopped := s.stopped
		s.lifeMu.Unlock()
		if stopped {
			return RunOutcome{}, ErrSchedulerStopped
		}
	}
	p := s.lookup(id)
	if p == nil {
		return RunOutcome{}, ErrUnknownPoint
	}
	def, _, _ := p.snapshot()
	if !def.IsEnabled {
		return RunOutcome{}, ErrPointDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, s.TimeoutOf(&def))
	defer cancel()
	if err := p.acquire(ctx); err != nil {
		return RunOutcome{}, &expression.EvalError{Kind: expression.ErrTimeout, Message: "timed out waiting for the in-flight run to finish"}
	}
	defer p.release()

	out := s.run(ctx, p, entities.TriggerManual, nil, true)
	return out, out.Err
}

// VirtualPointValue implements resolver.VirtualPointSource. In scheduled mode
// it returns the producer's current usable value; in eager mode it computes
// the producer now, applying the producer's own error policy, without
// changing the producer's runtime state.
func (s *Scheduler) VirtualPointValue(ctx context.Context, id int64, rc resolver.Context) (expression.Value, error) {
	p := s.lookup(id)
	if p == nil {
		return expression.Null(), fmt.Errorf("virtual point %d: %w", id, ErrUnknownPoint)
	}
	def, root, state := p.snapshot()
	if !def.IsEnabled {
		return expression.Null(), fmt.Errorf("virtual point %d: %w", id, ErrPointDisabled)
	}

	if s.opts.ResolutionMode != config.ResolutionEager {
		if v, ok := state.UsableValue(); ok {
			return v, nil
		}
		return expression.Null(), producerError(id, state)
	}

	nested, err := rc.Nested()
	if err != nil {
		return expression.Null(), err
	}
	calc, err := s.calculator.Calculate(ctx, &def, root, nested)
	if err == nil {
		return calc.Value, nil
	}
	if v, ok := substitute(&def, state); ok {
		return v, nil
	}
	return expression.Null(), fmt.Errorf("virtual point %d: %w", id, err)
}

func producerError(id int64, state entities.RuntimeState) error {
	if state.LastError != nil {
		return fmt.Errorf("virtual point %d is in error (%s): %w", id, state.LastError.Message, resolver.ErrNoValue)
	}
	return fmt.Errorf("virtual point %d has not been calculated yet: %w", id, resolver.ErrNoValue)
}

// run performs one run of p. The caller holds p's slot. cascadeDependents
// controls whether a changed value schedules the on-change consumers.
func (s *Scheduler) run(ctx context.Context, p *pointRuntime, trigger entities.TriggerType, memo *resolver.Memo, cascadeDependents bool) RunOutcome {
	def, root, _ := p.snapshot()
	out := RunOutcome{RunID: uuid.NewString(), TenantID: def.TenantID, PointID: def.ID, Trigger: trigger}
	if memo == nil && s.opts.ResolutionMode == config.ResolutionEager {
		// a shared producer is evaluated once per run
		memo = resolver.NewMemo()
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		out.Err = err
		out.CalcError = Classify(err)
		out.ExecutedAt = time.Now().UTC()
		_, _, out.State = p.snapshot()
		return out
	}
	defer s.sem.Release(1)

	p.mu.Lock()
	prev := p.state.Clone()
	p.state.Status = entities.StatusCalculating
	p.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, s.TimeoutOf(&def))
	calc, err := s.calculator.Calculate(runCtx, &def, root, resolver.Context{TenantID: def.TenantID, Memo: memo})
	cancel()

	out.ExecutedAt = time.Now().UTC()
	out.Duration = calc.Duration
	out.Err = err
	out.CalcError = Classify(err)
	if err == nil {
		v := calc.Value
		out.Value = &v
	}

	p.mu.Lock()
	next := applyOutcome(&p.def, prev, out.Value, out.CalcError, out.ExecutedAt, calc.Duration)
	next.DroppedTicks = p.state.DroppedTicks
	if !p.def.IsEnabled {
		// disabled while the run was in flight
		next.Status = entities.StatusDisabled
	}
	p.state = next
	out.State = next.Clone()
	p.mu.Unlock()

	s.observe(out)
	if s.sink != nil {
		s.sink.Record(out)
	}
	if cascadeDependents && usableChanged(prev, next) {
		s.pointChanged(def.ID)
	}
	return out
}

func (s *Scheduler) observe(out RunOutcome) {
	status := "success"
	if !out.Success() {
		status = "error"
		s.log.Debugw("Calculation failed",
			"point_id", out.PointID,
			"trigger", out.Trigger,
			"error_kind", out.CalcError.Kind,
			"error", out.CalcError.Message,
		)
	}
	if s.metrics == nil {
		return
	}
	s.metrics.EvaluationsTotal.WithLabelValues(string(out.Trigger), status).Inc()
	s.metrics.EvaluationDuration.WithLabelValues(string(out.Trigger)).Observe(out.Duration.Seconds())
}
