// Package scheduler drives scheduled connected apps from a cron ticker.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-apps/core"
)

const DefaultSpec = "@every 1m"

// TickFunc is invoked once per cron fire with the tick truncated to the
// minute.
type TickFunc func(ctx context.Context, tick time.Time) error

type SchedulerService interface {
	RunScheduled(ctx context.Context, tick time.Time) (core.ScheduledRunResult, error)
}

type TickEnqueuer interface {
	Enqueue(ctx context.Context, tick time.Time) error
}

// RunService runs ticks in process against the service.
func RunService(svc SchedulerService, logger core.Logger) TickFunc {
	return func(ctx context.Context, tick time.Time) error {
		result, err := svc.RunScheduled(ctx, tick)
		core.LogInfo(ctx, logger, "scheduled tick completed", map[string]any{
			"tick":    result.Tick.Format(time.RFC3339),
			"invoked": result.Invoked,
			"failed":  result.Failed,
		})
		return err
	}
}

// Enqueue hands ticks to a job queue so a worker pool runs them.
func Enqueue(enqueuer TickEnqueuer) TickFunc {
	return func(ctx context.Context, tick time.Time) error {
		return enqueuer.Enqueue(ctx, tick)
	}
}

type Option func(*Scheduler)

func WithSpec(spec string) Option {
	return func(s *Scheduler) {
		if strings.TrimSpace(spec) != "" {
			s.spec = strings.TrimSpace(spec)
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

type Scheduler struct {
	run      TickFunc
	spec     string
	location *time.Location
	logger   core.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

func New(run TickFunc, opts ...Option) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("scheduler: tick func is required")
	}
	s := &Scheduler{
		run:      run,
		spec:     DefaultSpec,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start registers the tick entry and starts the cron loop. Overlapping
// fires are skipped while a previous tick is still running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler: already started")
	}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	id, err := c.AddFunc(s.spec, func() { s.fire(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid spec %q: %w", s.spec, err)
	}
	s.cron = c
	s.entryID = id
	c.Start()
	core.LogInfo(ctx, s.logger, "scheduler started", map[string]any{"spec": s.spec})
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// NextRun reports the next planned fire, zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tick := s.now().UTC().Truncate(time.Minute)
	if err := s.run(ctx, tick); err != nil {
		core.LogError(ctx, s.logger, "scheduled tick failed", map[string]any{
			"tick":  tick.Format(time.RFC3339),
			"error": err.Error(),
		})
	}
}
