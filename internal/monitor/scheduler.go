package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on their own tickers. Executions share a bounded
// pool, and a job whose previous execution is still in flight skips its
// tick.
type Scheduler struct {
	logger  *slog.Logger
	sem     chan struct{}
	jobs    []*scheduledJob
	wg      sync.WaitGroup
	started atomic.Bool
}

type scheduledJob struct {
	Job
	inFlight atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
}

// NewScheduler creates a scheduler running at most workers executions at
// a time.
func NewScheduler(workers int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{logger: logger, sem: make(chan struct{}, workers)}
}

// Add registers a job. Jobs must be added before Run.
func (s *Scheduler) Add(job Job) error {
	if s.started.Load() {
		return fmt.Errorf("scheduler already running")
	}
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	s.jobs = append(s.jobs, &scheduledJob{Job: job})
	return nil
}

// Run fires every job once immediately and then on each tick until ctx is
// done. Cancellation reaches in-flight executions through ctx; Run
// returns after they finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(gctx, j)
			return nil
		})
	}
	_ = g.Wait()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j *scheduledJob) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	s.fire(ctx, j)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j *scheduledJob) {
	if !j.inFlight.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.logger.Debug("job still running, tick skipped", "job", j.Name)
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		j.inFlight.Store(false)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer j.inFlight.Store(false)

		start := time.Now()
		err := j.Run(ctx)
		j.runs.Add(1)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("job failed", "job", j.Name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Debug("job finished", "job", j.Name, "duration", time.Since(start))
	}()
}

// JobStats reports execution counters of one job.
type JobStats struct {
	Name    string
	Runs    int64
	Skipped int64
}

// Stats returns the counters of every job, in registration order.
func (s *Scheduler) Stats() []JobStats {
	out := make([]JobStats, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStats{Name: j.Name, Runs: j.runs.Load(), Skipped: j.skipped.Load()})
	}
	return out
}
