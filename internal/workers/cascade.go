package workers

import (
	"context"
	"time"

	"pulseone/vpengine/internal/config"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/resolver"
)

// NotifyDataPointChanged schedules the on-change consumers of a raw data
// point. Changes arriving within the debounce window are coalesced into one
// cascade.
func (s *Scheduler) NotifyDataPointChanged(dataPointID int64) {
	s.pendingMu.Lock()
	s.pendingDPs[dataPointID] = struct{}{}
	s.pendingMu.Unlock()
	s.signal()
}

// pointChanged schedules the on-change dependents of a virtual point whose
// usable value changed outside a cascade.
func (s *Scheduler) pointChanged(pointID int64) {
	if len(s.graph.DependentsOf(pointID)) == 0 {
		return
	}
	s.pendingMu.Lock()
	s.pendingVPs[pointID] = struct{}{}
	s.pendingMu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) takePending() (dps, vps []int64) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id := range s.pendingDPs {
		dps = append(dps, id)
	}
	for id := range s.pendingVPs {
		vps = append(vps, id)
	}
	s.pendingDPs = make(map[int64]struct{})
	s.pendingVPs = make(map[int64]struct{})
	return dps, vps
}

// cascadeLoop waits for change notifications, lets the debounce window
// close, then runs one cascade over everything that accumulated.
func (s *Scheduler) cascadeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
		}

		timer := time.NewTimer(s.opts.OnChangeDebounce)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		dps, vps := s.takePending()
		if len(dps) == 0 && len(vps) == 0 {
			continue
		}
		s.cascade(context.WithoutCancel(s.ctx), dps, vps)
	}
}

func (s *Scheduler) onChangeEnabled(id int64) bool {
	p := s.lookup(id)
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.def.IsEnabled && p.def.Trigger == entities.TriggerOnChange
}

// cascade recomputes the on-change points affected by the changed data
// points and virtual points. Every affected point runs exactly once, after
// all of its affected producers. It returns the ids in execution order.
func (s *Scheduler) cascade(ctx context.Context, dps, vps []int64) []int64 {
	var seeds []int64
	for _, dp := range dps {
		seeds = append(seeds, s.graph.ConsumersOfDataPoint(dp)...)
	}
	for _, vp := range vps {
		seeds = append(seeds, s.graph.DependentsOf(vp)...)
	}

	affected := s.graph.Closure(seeds, s.onChangeEnabled)
	if len(affected) == 0 {
		return nil
	}
	order, err := s.graph.TopologicalOrder(affected, s.priority)
	if err != nil {
		s.log.Errorw("Cannot order cascade", "error", err, "points", affected)
		return nil
	}
	if s.metrics != nil {
		s.metrics.CascadeSize.Observe(float64(len(order)))
	}
	s.log.Debugw("Running cascade", "data_points", dps, "virtual_points", vps, "order", order)

	var memo *resolver.Memo
	if s.opts.ResolutionMode == config.ResolutionEager {
		memo = resolver.NewMemo()
	}

	ran := make([]int64, 0, len(order))
	for _, id := range order {
		if ctx.Err() != nil {
			break
		}
		p := s.lookup(id)
		if p == nil {
			continue
		}
		def, _, _ := p.snapshot()
		if !def.IsEnabled {
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, s.TimeoutOf(&def))
		err := p.acquire(waitCtx)
		cancel()
		if err != nil {
			s.log.Warnw("Skipped cascade run, previous run did not finish", "point_id", id)
			continue
		}
		out := s.run(ctx, p, entities.TriggerOnChange, memo, false)
		p.release()

		if memo != nil {
			if v, ok := out.State.UsableValue(); ok {
				memo.Store(id, v, nil)
			} else {
				memo.Store(id, v, producerError(id, out.State))
			}
		}
		ran = append(ran, id)
	}
	return ran
}

// Cascade runs the cascade for the given changes synchronously. Manual
// executions use it to refresh on-change dependents.
func (s *Scheduler) Cascade(ctx context.Context, dataPoints, points []int64) []int64 {
	return s.cascade(ctx, dataPoints, points)
}
