package workers

import (
	"context"
	"sync"
	"time"

	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/metrics"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/providers"

	"go.uber.org/zap"
)

// RuntimeStore persists runtime snapshots.
type RuntimeStore interface {
	SaveRuntime(ctx context.Context, updates []repositories.RuntimeUpdate) error
}

// ExecutionStore appends execution history.
type ExecutionStore interface {
	InsertBatch(ctx context.Context, execs []entities.Execution) error
}

// ResultWriter batches run outcomes and writes them to the database and the
// live publisher off the calculation path. Only the newest state of each
// point in a batch is persisted; every run becomes a history row.
type ResultWriter struct {
	runtime    RuntimeStore
	executions ExecutionStore
	publisher  providers.ResultPublisher
	metrics    *metrics.MetricsRegistry
	log        *zap.SugaredLogger

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []RunOutcome
	flushCh chan struct{}
	done    chan struct{}
	stopped bool
}

func NewResultWriter(
	runtime RuntimeStore,
	executions ExecutionStore,
	publisher providers.ResultPublisher,
	m *metrics.MetricsRegistry,
	batchSize int,
	flushInterval time.Duration,
) *ResultWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if publisher == nil {
		publisher = providers.NopPublisher{}
	}
	return &ResultWriter{
		runtime:       runtime,
		executions:    executions,
		publisher:     publisher,
		metrics:       m,
		log:           logging.With("component", "result_writer"),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Record queues an outcome. It never blocks on I/O.
func (w *ResultWriter) Record(out RunOutcome) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, out)
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run flushes on the interval or when a batch fills up, until ctx is done.
// The final flush happens after ctx is cancelled.
func (w *ResultWriter) Run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Flush(ctx)
		case <-w.flushCh:
			w.Flush(ctx)
		}
	}
}

// Wait blocks until Run has made its final flush.
func (w *ResultWriter) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued outcomes.
func (w *ResultWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes everything queued so far.
func (w *ResultWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	latest := make(map[int64]int, len(batch))
	execs := make([]entities.Execution, 0, len(batch))
	for i, out := range batch {
		latest[out.PointID] = i
		execs = append(execs, executionOf(out))
	}
	updates := make([]repositories.RuntimeUpdate, 0, len(latest))
	for i, out := range batch {
		if latest[out.PointID] == i {
			updates = append(updates, repositories.RuntimeUpdate{PointID: out.PointID, State: out.State})
		}
	}

	status := "success"
	if err := w.runtime.SaveRuntime(ctx, updates); err != nil {
		status = "error"
		w.log.Errorw("Failed to persist runtime state", "points", len(updates), "error", err)
	}
	if err := w.executions.InsertBatch(ctx, execs); err != nil {
		status = "error"
		w.log.Errorw("Failed to persist execution history", "runs", len(execs), "error", err)
	}
	if w.metrics != nil {
		w.metrics.ResultBatchesTotal.WithLabelValues(status).Inc()
	}

	for i, out := range batch {
		if latest[out.PointID] != i {
			continue
		}
		err := w.publisher.Publish(ctx, providers.PointUpdate{
			TenantID:     out.TenantID,
			PointID:      out.PointID,
			Value:        out.State.CurrentValue,
			Status:       out.State.Status,
			Error:        out.State.LastError,
			CalculatedAt: out.ExecutedAt,
		})
		if err != nil {
			w.log.Warnw("Failed to publish result", "point_id", out.PointID, "error", err)
		}
	}
}

func executionOf(out RunOutcome) entities.Execution {
	return entities.Execution{
		RunID:      out.RunID,
		TenantID:   out.TenantID,
		PointID:    out.PointID,
		Trigger:    string(out.Trigger),
		Success:    out.Success(),
		Value:      out.Value,
		Error:      out.CalcError,
		DurationMs: float64(out.Duration.Microseconds()) / 1000,
		ExecutedAt: out.ExecutedAt,
	}
}
