// Package scheduler runs named jobs on interval and cron triggers. A job never
// overlaps itself: a trigger that fires while the previous run of the same job
// is still active is dropped, and manual runs go through the same guard.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

// Job ids of the collector.
const (
	JobStatusCollection = "station_status_collection"
	JobDataMaintenance  = "data_maintenance"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobRunning     = errors.New("job already running")
	ErrStarted        = errors.New("scheduler already started")
	ErrDuplicateJobID = errors.New("duplicate job id")
)

// Job is a named unit of recurring work.
type Job struct {
	ID      string
	Name    string
	Trigger Trigger
	Run     func(ctx context.Context) domain.Result
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Trigger      string            `json:"trigger"`
	Running      bool              `json:"running"`
	NextRun      *time.Time        `json:"next_run_time,omitempty"`
	LastRun      *time.Time        `json:"last_run_time,omitempty"`
	LastStatus   domain.SyncStatus `json:"last_status,omitempty"`
	LastDuration time.Duration     `json:"last_duration_ns,omitempty"`
	Runs         int64             `json:"runs"`
	Suppressed   int64             `json:"suppressed"`
}

// Status reports whether the scheduler is active and the state of its jobs.
type Status struct {
	Running bool        `json:"scheduler_running"`
	Jobs    []JobStatus `json:"jobs"`
}

type entry struct {
	job     Job
	running atomic.Bool

	mu           sync.Mutex
	next         time.Time
	lastRun      time.Time
	lastStatus   domain.SyncStatus
	lastDuration time.Duration
	runs         int64
	suppressed   int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInitialRun fires the given jobs once as soon as the scheduler starts.
func WithInitialRun(ids ...string) Option {
	return func(s *Scheduler) {
		s.initial = append(s.initial, ids...)
	}
}

// Scheduler owns a set of jobs and their trigger loops.
type Scheduler struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	initial []string

	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	started bool
	cancel  context.CancelFunc

	loops sync.WaitGroup
	runs  sync.WaitGroup
}

// New creates a stopped Scheduler.
func New(clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		jobs:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job) error {
	if job.ID == "" || job.Trigger == nil || job.Run == nil {
		return fmt.Errorf("register job %q: id, trigger and run are required", job.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("register job %q: %w", job.ID, ErrDuplicateJobID)
	}
	s.jobs[job.ID] = &entry{job: job}
	s.order = append(s.order, job.ID)
	return nil
}

// Start launches one trigger loop per job. Runs use a context derived from
// ctx, so cancelling ctx has the same effect as Stop on in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	for _, id := range s.initial {
		if _, ok := s.jobs[id]; !ok {
			return fmt.Errorf("initial run %q: %w", id, ErrJobNotFound)
		}
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, id := range s.order {
		e := s.jobs[id]
		s.loops.Add(1)
		go s.loop(ctx, e)
		s.logger.Info("job scheduled", "job", id, "trigger", e.job.Trigger.String())
	}
	for _, id := range s.initial {
		s.fire(ctx, s.jobs[id])
	}

	s.metrics.SchedulerRunning.Set(1)
	s.logger.Info("scheduler started", "jobs", len(s.order))
	return nil
}

// Stop cancels all trigger loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.loops.Wait()
	s.runs.Wait()

	s.metrics.SchedulerRunning.Set(0)
	s.logger.Info("scheduler stopped")
	return nil
}

// Trigger runs a job now, in the caller's goroutine, and returns its result.
// It fails with ErrJobRunning instead of overlapping an active run.
func (s *Scheduler) Trigger(ctx context.Context, id string) (domain.Result, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Warn("manual run rejected, job is running", "job", id)
		return nil, ErrJobRunning
	}
	s.logger.Info("manual job run", "job", id)
	return s.execute(ctx, e), nil
}

// Status returns the state of every job in registration order.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.started, Jobs: make([]JobStatus, 0, len(s.order))}
	for _, id := range s.order {
		e := s.jobs[id]
		e.mu.Lock()
		js := JobStatus{
			ID:           id,
			Name:         e.job.Name,
			Trigger:      e.job.Trigger.String(),
			Running:      e.running.Load(),
			LastStatus:   e.lastStatus,
			LastDuration: e.lastDuration,
			Runs:         e.runs,
			Suppressed:   e.suppressed,
		}
		if s.started && !e.next.IsZero() {
			next := e.next
			js.NextRun = &next
		}
		if !e.lastRun.IsZero() {
			last := e.lastRun
			js.LastRun = &last
		}
		e.mu.Unlock()
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.loops.Done()
	for {
		now := s.clock.Now()
		next := e.job.Trigger.Next(now)
		e.mu.Lock()
		e.next = next
		e.mu.Unlock()

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
		s.fire(ctx, e)
	}
}

// fire starts a scheduled run unless the job is already running.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Lock()
		e.suppressed++
		e.mu.Unlock()
		s.metrics.JobSuppressed.WithLabelValues(e.job.ID).Inc()
		s.logger.Warn("trigger suppressed, previous run still active", "job", e.job.ID)
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.execute(ctx, e)
	}()
}

// execute runs the job body. The caller must hold the running flag.
func (s *Scheduler) execute(ctx context.Context, e *entry) domain.Result {
	defer e.running.Store(false)

	id := e.job.ID
	s.metrics.JobRunning.WithLabelValues(id).Set(1)
	defer s.metrics.JobRunning.WithLabelValues(id).Set(0)

	start := s.clock.Now()
	r := s.safeRun(ctx, e)
	d := s.clock.Since(start)

	e.mu.Lock()
	e.lastRun = start
	e.lastStatus = r.Status()
	e.lastDuration = d
	e.runs++
	e.mu.Unlock()

	s.metrics.JobRuns.WithLabelValues(id, string(r.Status())).Inc()
	s.metrics.JobDuration.WithLabelValues(id).Observe(d.Seconds())
	s.logger.Info("job finished", "job", id, "status", r.Status(), "duration", d)
	return r
}

func (s *Scheduler) safeRun(ctx context.Context, e *entry) (r domain.Result) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("job panicked", "job", e.job.ID, "panic", p)
			r = domain.Failed{Reason: fmt.Errorf("job %s panicked: %v", e.job.ID, p)}
		}
	}()
	r = e.job.Run(ctx)
	if r == nil {
		r = domain.Success{}
	}
	return r
}
