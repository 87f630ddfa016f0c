package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicFunc is a sweep invoked on every tick. Errors are logged, never fatal.
type PeriodicFunc func(context.Context) error

type periodicJob struct {
	name     string
	interval time.Duration
	run      PeriodicFunc
}

// Scheduler drives the recurring billing sweeps (compliance evaluation,
// fulfillment retries, gateway reconciliation, reminders). Each job ticks on
// its own interval; a slow sweep delays only its own next run.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    []periodicJob
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler constructs an idle scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Register adds a periodic job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, run PeriodicFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval <= 0 || run == nil {
		return
	}
	s.jobs = append(s.jobs, periodicJob{name: name, interval: interval, run: run})
}

// Start launches one goroutine per registered job. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.started = true
	s.logger.Sugar().Infow("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job periodicJob) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := time.Now()
			if err := job.run(ctx); err != nil {
				s.logger.Sugar().Errorw("periodic job failed", "job", job.name, "error", err)
				continue
			}
			s.logger.Sugar().Debugw("periodic job completed", "job", job.name, "took", time.Since(started))
		}
	}
}
