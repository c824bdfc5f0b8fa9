package harness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CycleScheduler decides when a harness cycle executes: exactly once, or
// repeatedly at a fixed interval until stopped.
type CycleScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func() error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// DefaultCycleScheduler implements the CycleScheduler interface.
//
// The first cycle always runs synchronously inside Start so that build,
// launch, and health failures surface as Start's return value with their
// types intact. In continuous mode later cycles run on a ticker loop and
// their errors are logged, not fatal: a transient failure should not kill a
// long-lived monitoring deployment.
type DefaultCycleScheduler struct {
	interval time.Duration
	runOnce  bool
	log      *zap.SugaredLogger
	cycle    func() error

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}

	stopped atomic.Bool
}

// NewDefaultCycleScheduler creates a new DefaultCycleScheduler.
func NewDefaultCycleScheduler(interval time.Duration, runOnce bool, log *zap.SugaredLogger) *DefaultCycleScheduler {
	return &DefaultCycleScheduler{
		interval: interval,
		runOnce:  runOnce,
		log:      log,
	}
}

// RegisterCallback sets the cycle function. Must be called before Start.
func (s *DefaultCycleScheduler) RegisterCallback(cycle func() error) {
	s.cycle = cycle
}

// Start runs the first cycle and, in continuous mode, hands off to the
// ticker loop.
func (s *DefaultCycleScheduler) Start(ctx context.Context) error {
	if s.cycle == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	if err := s.cycle(); err != nil {
		return err
	}
	if s.runOnce {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.log.Infow("Scheduling further cycles", "interval", s.interval)
	go s.loop(loopCtx)
	return nil
}

// loop runs cycles on the ticker until the context is canceled, either by
// Stop or by the parent.
func (s *DefaultCycleScheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.log.Infow("Starting scheduled cycle")
			if err := s.cycle(); err != nil {
				s.log.Errorw("Scheduled cycle failed", "error", err)
			}
		case <-ctx.Done():
			s.log.Debugw("Scheduler loop exiting", "reason", context.Cause(ctx))
			s.stopped.Store(true)
			return
		}
	}
}

// Stop cancels the ticker loop. Safe to call multiple times; a cycle already
// in flight still completes.
func (s *DefaultCycleScheduler) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Stopped returns true once the scheduler will run no further cycles.
func (s *DefaultCycleScheduler) Stopped() bool {
	return s.stopped.Load()
}

// WaitForShutdown blocks until the ticker loop has terminated. In run-once
// mode there is no loop and it returns immediately.
func (s *DefaultCycleScheduler) WaitForShutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warnw("Timed out waiting for scheduler loop to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}

var _ CycleScheduler = (*DefaultCycleScheduler)(nil)
