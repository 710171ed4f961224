// Package reconciler runs report reconciliation passes in the background and
// on demand, never more than one at a time.
package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"refereecore/internal/core"
)

const (
	defaultInitialDelay = time.Minute
	defaultInterval     = time.Hour
)

// Reconciler performs one reconciliation pass.
type Reconciler interface {
	ReconcileReports(ctx context.Context) (core.ReconcileSummary, error)
}

// Stats describes what the scheduler has done so far.
type Stats struct {
	Runs        int64                 `json:"runs"`
	Failures    int64                 `json:"failures"`
	Skipped     int64                 `json:"skipped"`
	Running     bool                  `json:"running"`
	LastRunAt   *time.Time            `json:"last_run_at,omitempty"`
	LastError   string                `json:"last_error,omitempty"`
	LastSummary *core.ReconcileSummary `json:"last_summary,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInitialDelay sets the wait before the first scheduled pass.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.initialDelay = d
		}
	}
}

// WithInterval sets the period between scheduled passes.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scheduler triggers reconciliation passes on a timer and on demand. A pass
// requested while another is running is skipped, not queued.
type Scheduler struct {
	reconciler   Reconciler
	initialDelay time.Duration
	interval     time.Duration
	logger       core.Logger

	running atomic.Bool

	mu      sync.Mutex
	stats   Stats
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler constructs a scheduler around r.
func NewScheduler(r Reconciler, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		reconciler:   r,
		initialDelay: defaultInitialDelay,
		interval:     defaultInterval,
		logger:       discardLogger{},
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the timed passes. Calling Start again, or after Stop, has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the timer and waits for an in-flight pass, bounded by ctx.
// Cancelling the pass context stops it between groups.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			if _, ran, _ := s.runPass(s.ctx, "schedule"); !ran {
				s.logger.Debug("scheduled reconciliation skipped", "reason", "pass already running")
			}
			timer.Reset(s.interval)
		}
	}
}

// Trigger runs a pass now using ctx. It reports false without running when a
// pass is already in progress or the scheduler is stopped.
func (s *Scheduler) Trigger(ctx context.Context) (core.ReconcileSummary, bool, error) {
	summary, ran, err := s.runPass(ctx, "trigger")
	if !ran {
		s.logger.Debug("triggered reconciliation skipped", "reason", "pass already running")
	}
	return summary, ran, err
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Running = s.running.Load()
	return out
}

func (s *Scheduler) runPass(ctx context.Context, source string) (core.ReconcileSummary, bool, error) {
	s.mu.Lock()
	if s.stopped || !s.running.CompareAndSwap(false, true) {
		s.stats.Skipped++
		s.mu.Unlock()
		return core.ReconcileSummary{}, false, nil
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer s.running.Store(false)

	s.logger.Info("reconciliation pass started", "source", source)
	summary, err := s.reconciler.ReconcileReports(ctx)
	now := time.Now().UTC()

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRunAt = &now
	s.stats.LastSummary = &summary
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("reconciliation pass failed", "source", source, "error", err,
			"groups_merged", summary.GroupsMerged, "groups_failed", summary.GroupsFailed)
		return summary, true, err
	}
	return summary, true, nil
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
