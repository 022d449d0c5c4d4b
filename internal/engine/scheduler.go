package engine

import (
	"context"
	"time"
)

// noTargetWait is how long the scheduler idles before rechecking when no
// target has arrived yet.
const noTargetWait = 20 * time.Millisecond

type schedulerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startSchedulerLocked launches the interpolation scheduler. s.runMu must be
// held and the session running.
func (s *Session) startSchedulerLocked() {
	ctx, cancel := context.WithCancel(s.runCtx)
	h := &schedulerHandle{cancel: cancel, done: make(chan struct{})}
	s.sched = h
	s.group.Go(func() error {
		defer close(h.done)
		s.runScheduler(ctx)
		return nil
	})
}

// stopSchedulerLocked cancels the scheduler and waits for it to exit.
func (s *Session) stopSchedulerLocked() error {
	h := s.sched
	s.sched = nil
	if h == nil {
		return nil
	}
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-time.After(s.joinTimeout):
		return ErrJoinTimeout
	}
}

// runScheduler produces one output per tick at the configured frame rate
// from the latest target.
func (s *Session) runScheduler(ctx context.Context) {
	interval := s.snapshot().cfg.GetTickInterval()
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	logf("interpolation scheduler running at %v per tick", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		snap := s.snapshot()
		if d := snap.cfg.GetTickInterval(); d != interval {
			interval = d
			ticker.Reset(d)
		}

		if !s.tick() {
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(noTargetWait):
			}
		}
	}
}

// tick emits one interpolated output. It reports false when there is no
// target yet.
func (s *Session) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return false
	}
	if !s.strategy.Kind().Scheduled() {
		return true
	}
	s.emitLocked(s.strategy.Produce(*s.target, s.snapshot().params))
	return true
}
