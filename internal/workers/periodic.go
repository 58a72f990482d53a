package workers

import (
	"context"
	"time"

	"pulseone/vpengine/internal/models/entities"
)

// syncTimer starts or stops p's periodic timer to match its definition.
// A changed interval restarts the timer.
func (s *Scheduler) syncTimer(p *pointRuntime) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopFn != nil {
		p.stopFn()
		p.stopFn = nil
	}
	if !p.def.IsEnabled || p.def.Trigger != entities.TriggerPeriodic || p.def.IntervalMs <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	p.stopFn = cancel
	every := time.Duration(p.def.IntervalMs) * s.interval

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPeriodic(ctx, p, every)
	}()
}

// runPeriodic fires p every interval. A tick that arrives while the previous
// run is still in flight is dropped and counted, never queued.
func (s *Scheduler) runPeriodic(ctx context.Context, p *pointRuntime, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tryAcquire() {
				s.dropTick(p)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer p.release()
				// in-flight runs finish within their own timeout on shutdown
				s.run(context.WithoutCancel(ctx), p, entities.TriggerPeriodic, nil, true)
			}()
		}
	}
}

func (s *Scheduler) dropTick(p *pointRuntime) {
	p.mu.Lock()
	p.state.DroppedTicks++
	dropped := p.state.DroppedTicks
	p.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TicksDroppedTotal.Inc()
	}
	s.log.Debugw("Dropped periodic tick, previous run still in flight", "point_id", p.id, "dropped_ticks", dropped)
}
