// Package scheduler drives the periodic jobs. It wraps a seconds-resolution
// cron runner with three guarantees: a job never runs concurrently with
// itself (overlapping firings coalesce into the running one), firings that
// arrive later than the misfire grace are skipped, and all schedules
// evaluate in UTC.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trading_bot/internal/core"
	"trading_bot/pkg/telemetry"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultMisfireGrace is how late a firing may start before it is skipped
const DefaultMisfireGrace = 30 * time.Second

// Job is one scheduled body. The context is cancelled on shutdown.
type Job func(ctx context.Context)

type managedJob struct {
	id      string
	entryID cron.EntryID
	running atomic.Bool
	runs    atomic.Int64
	skips   atomic.Int64
}

// Scheduler owns the cron runner and the registered jobs
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*managedJob
	grace   time.Duration
	logger  core.ILogger
	started bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a stopped scheduler
func New(grace time.Duration, logger core.ILogger) *Scheduler {
	if grace <= 0 {
		grace = DefaultMisfireGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
		),
		jobs:   make(map[string]*managedJob),
		grace:  grace,
		logger: logger.WithField("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddCronJob registers fn under a seconds-resolution cron spec. Registering
// an id twice replaces the earlier job.
func (s *Scheduler) AddCronJob(id, spec string, fn Job) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		// Specs here carry a seconds field
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err = parser.Parse(spec)
		if err != nil {
			return fmt.Errorf("invalid cron spec %q for job %s: %w", spec, id, err)
		}
	}
	s.schedule(id, schedule, fn)
	return nil
}

// AddIntervalJob registers fn to run every interval
func (s *Scheduler) AddIntervalJob(id string, every time.Duration, fn Job) error {
	if every <= 0 {
		return fmt.Errorf("interval for job %s must be positive, got %s", id, every)
	}
	s.schedule(id, intervalSchedule{every: every}, fn)
	return nil
}

// AddDateJob registers fn to run once at the given instant
func (s *Scheduler) AddDateJob(id string, at time.Time, fn Job) error {
	if !at.After(time.Now()) {
		return fmt.Errorf("date for job %s is in the past: %s", id, at)
	}
	s.schedule(id, dateSchedule{at: at.UTC()}, fn)
	return nil
}

func (s *Scheduler) schedule(id string, schedule cron.Schedule, fn Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[id]; ok {
		s.cron.Remove(old.entryID)
		s.logger.Info("Replacing scheduled job", "job_id", id)
	}

	j := &managedJob{id: id}
	j.entryID = s.cron.Schedule(schedule, cron.FuncJob(s.wrap(j, fn)))
	s.jobs[id] = j
}

// wrap enforces the single-instance and misfire contracts around fn
func (s *Scheduler) wrap(j *managedJob, fn Job) func() {
	metrics := telemetry.GetGlobalMetrics()
	attrs := metric.WithAttributes(attribute.String("job", j.id))

	return func() {
		// Overlapping firing: the running instance absorbs it
		if !j.running.CompareAndSwap(false, true) {
			j.skips.Add(1)
			metrics.JobSkipsTotal.Add(s.ctx, 1, attrs)
			s.logger.Warn("Skipping overlapping job firing", "job_id", j.id)
			return
		}
		defer j.running.Store(false)

		// Firings delivered long after their scheduled time are misfires
		entry := s.cron.Entry(j.entryID)
		if !entry.Prev.IsZero() {
			if late := time.Since(entry.Prev); late > s.grace {
				j.skips.Add(1)
				metrics.JobSkipsTotal.Add(s.ctx, 1, attrs)
				s.logger.Warn("Skipping misfired job", "job_id", j.id, "late", late.String())
				return
			}
		}

		start := time.Now()
		j.runs.Add(1)
		metrics.JobRunsTotal.Add(s.ctx, 1, attrs)

		fn(s.ctx)

		metrics.JobDurationSeconds.Record(s.ctx, time.Since(start).Seconds(), attrs)
	}
}

// Start begins firing jobs. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("Scheduler started", "jobs", len(s.jobs), "misfire_grace", s.grace.String())
}

// Shutdown stops firing. With wait=true it blocks until every running job
// body has drained.
func (s *Scheduler) Shutdown(wait bool) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	// Cancel first so running bodies see the stop signal while we drain
	s.cancel()
	drained := s.cron.Stop()
	if wait {
		<-drained.Done()
	}
	s.logger.Info("Scheduler stopped", "waited", wait)
}

// Running reports whether the scheduler is started
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stats reports per-job run and skip counts for the status surface
func (s *Scheduler) Stats() map[string]map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]int64, len(s.jobs))
	for id, j := range s.jobs {
		out[id] = map[string]int64{
			"runs":  j.runs.Load(),
			"skips": j.skips.Load(),
		}
	}
	return out
}

// intervalSchedule fires at a constant delay. cron.Every rounds durations
// below a second up to a second; this keeps the requested cadence as-is.
type intervalSchedule struct {
	every time.Duration
}

func (i intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(i.every)
}

// dateSchedule fires exactly once at a fixed instant
type dateSchedule struct {
	at time.Time
}

func (d dateSchedule) Next(t time.Time) time.Time {
	if t.Before(d.at) {
		return d.at
	}
	// Zero time means never again
	return time.Time{}
}
