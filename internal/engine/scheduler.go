package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler triggers polling cycles at a fixed interval. A tick that arrives
// while the previous cycle is still running is skipped: the per-order lease
// already tolerates overlap, but skipping avoids piling cycles up behind a
// slow vendor.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger
	mu       sync.Mutex
}

func NewScheduler(e *Engine, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	return &Scheduler{engine: e, interval: interval, log: log}
}

// Run blocks until ctx is cancelled. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	go s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			// Wait out the in-flight cycle; it stops between orders.
			s.mu.Lock()
			s.mu.Unlock() //nolint:staticcheck // empty critical section is the wait
			return
		case <-ticker.C:
			go s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.mu.TryLock() {
		s.log.Warn("previous cycle still running, skipping tick")
		return
	}
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.engine.RunCycle(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("cycle failed", zap.Error(err))
		return
	}
	s.log.Info("cycle finished", zap.Duration("took", time.Since(start)))
}
