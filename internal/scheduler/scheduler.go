// Package scheduler triggers decision cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Agrid-Dev/stmq/internal/applog"
)

const DefaultSpec = "*/15 * * * *"

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

type Config struct {
	Spec       string
	Location   *time.Location
	RunOnStart bool
}

// Scheduler runs a Task on a cron spec. Runs never overlap: a tick that
// arrives while the previous run is still busy is skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	cfg      Config
	task     Task
	log      *applog.Logger

	ctx  atomic.Value // runContext
	job  cron.Job
	runs atomic.Int64
}

type runContext struct{ ctx context.Context }

func New(cfg Config, task Task, log *applog.Logger) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	schedule, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}

	s := &Scheduler{schedule: schedule, cfg: cfg, task: task, log: log.With("scheduler")}
	cl := cron.PrintfLogger(s.log)
	s.cron = cron.New(cron.WithLocation(cfg.Location), cron.WithLogger(cl))
	// Recover sits inside SkipIfStillRunning so a panicking run still
	// releases the slot for the next tick.
	s.job = cron.NewChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)).Then(cron.FuncJob(s.fire))
	s.ctx.Store(runContext{context.Background()})
	return s, nil
}

func (s *Scheduler) fire() {
	ctx := s.ctx.Load().(runContext).ctx
	if ctx.Err() != nil {
		return
	}
	s.runs.Add(1)
	if err := s.task(ctx); err != nil {
		s.log.Errorf("scheduled run failed: %v", err)
	}
}

// Trigger runs the task now through the same guard as scheduled ticks.
func (s *Scheduler) Trigger() { s.job.Run() }

// Runs counts task invocations that were not skipped.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Next is the next scheduled tick after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.schedule.Next(t.In(s.cfg.Location)) }

// Run blocks until ctx is cancelled, then waits for a running task to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx.Store(runContext{ctx})
	s.cron.Schedule(s.schedule, s.job)
	s.cron.Start()
	s.log.Infof("started, spec %q in %s, next run %s", s.cfg.Spec, s.cfg.Location, s.Next(time.Now()).Format(time.RFC3339))

	if s.cfg.RunOnStart {
		go s.Trigger()
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Infof("stopped")
	return nil
}
