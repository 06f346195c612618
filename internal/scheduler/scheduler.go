// Package scheduler runs the reconciliation jobs on fixed intervals.
//
// Each job is an independent sweep over persisted state. A tick that
// arrives while the previous run of the same job is still going is
// skipped rather than queued; overlap with live API-triggered transitions
// on the same rows is safe because every transition re-checks its
// precondition. A panic in one run is contained and logged, never fatal.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/assetmarket/internal/sweep"
	"github.com/mbd888/assetmarket/internal/traces"
)

var (
	// ErrJobNotFound is returned when a job name is not registered.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobBusy is returned when a manual trigger lands while the same
	// job is already mid-run.
	ErrJobBusy = errors.New("job already running")
)

// RunFunc performs one sweep pass at the given logical time.
type RunFunc func(ctx context.Context, now time.Time) (*sweep.Result, error)

// Job is one registered sweep with its schedule.
type Job struct {
	Name     string
	Interval time.Duration
	Run      RunFunc

	enabled atomic.Bool
	busy    atomic.Bool
}

// Enabled reports whether the job fires on its schedule.
func (j *Job) Enabled() bool { return j.enabled.Load() }

// JobStatus is the operational view of a registered job.
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
}

// Scheduler owns the job table and the per-job tick loops.
type Scheduler struct {
	jobs    map[string]*Job
	order   []string
	now     func() time.Time
	logger  *slog.Logger
	stop    chan struct{}
	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler. The injected clock drives the logical
// time passed to every sweep, so tests can pin it.
func New(logger *slog.Logger, now func() time.Time) *Scheduler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		jobs:   make(map[string]*Job),
		now:    now,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Register adds a job to the table, enabled. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, run RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{Name: name, Interval: interval, Run: run}
	job.enabled.Store(true)
	s.jobs[name] = job
	s.order = append(s.order, name)
}

// SetEnabled toggles a job without removing it from the table.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	job.enabled.Store(enabled)
	return nil
}

// Jobs returns the operational status of every registered job, in
// registration order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		job := s.jobs[name]
		out = append(out, JobStatus{
			Name:     job.Name,
			Interval: job.Interval,
			Enabled:  job.enabled.Load(),
			Running:  job.busy.Load(),
		})
	}
	return out
}

// Start launches one tick loop per job. Call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := make([]*Job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	s.mu.Unlock()

	for _, job := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("scheduler started", "jobs", len(jobs))
}

// Stop signals every loop and waits for in-flight runs to finish.
// A sweep stops between rows, so shutdown never corrupts state.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if !job.enabled.Load() {
				continue
			}
			s.runOnce(ctx, job)
		}
	}
}

// RunJob fires one job immediately by name, regardless of its schedule or
// enabled flag. Used by the admin surface and by tests. It claims the same
// busy flag as the tick loop, so a manual trigger never overlaps a
// scheduled run of the same job.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*sweep.Result, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	if !job.busy.CompareAndSwap(false, true) {
		return nil, ErrJobBusy
	}
	defer job.busy.Store(false)
	return s.execute(ctx, job)
}

// runOnce is the scheduled path: skip if the previous run is still going.
func (s *Scheduler) runOnce(ctx context.Context, job *Job) {
	if !job.busy.CompareAndSwap(false, true) {
		s.logger.Warn("job still running, skipping tick", "job", job.Name)
		jobSkipped.WithLabelValues(job.Name).Inc()
		return
	}
	defer job.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduled job", "job", job.Name, "panic", fmt.Sprint(r))
			jobErrors.WithLabelValues(job.Name).Inc()
		}
	}()

	if _, err := s.execute(ctx, job); err != nil {
		s.logger.Warn("job completed with errors", "job", job.Name, "error", err)
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) (*sweep.Result, error) {
	ctx, span := traces.StartSpan(ctx, "scheduler.run", traces.JobName(job.Name))
	defer span.End()

	start := time.Now()
	result, err := job.Run(ctx, s.now())
	jobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if result != nil {
		jobRowsProcessed.WithLabelValues(job.Name).Add(float64(result.Processed))
		jobRowFailures.WithLabelValues(job.Name).Add(float64(len(result.Failures)))
	}
	if err != nil {
		jobErrors.WithLabelValues(job.Name).Inc()
		return result, err
	}

	if result != nil {
		s.logger.Info("job completed", "job", job.Name,
			"processed", result.Processed, "skipped", result.Skipped,
			"failed", len(result.Failures))
	}
	return result, nil
}
