// Package jobs schedules the periodic batch jobs: monitoring, streak reset
// and ranking recompute.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled batch run.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on cron specs in the canonical location. A tick that
// arrives while the previous run of the same job is active is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler constructs a Scheduler; every run is bounded by timeout.
func NewScheduler(loc *time.Location, timeout time.Duration, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("jobs")
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(zap.NewStdLog(log))),
			cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(log))),
		),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, timeout: timeout, log: log, ctx: ctx, cancel: cancel}
}

// Add registers j.
func (s *Scheduler) Add(j Job) error {
	if j.Run == nil {
		return fmt.Errorf("job %s: nil Run", j.Name)
	}
	if _, err := s.cron.AddFunc(j.Spec, s.wrap(j)); err != nil {
		return fmt.Errorf("job %s: schedule %q: %w", j.Name, j.Spec, err)
	}
	s.log.Info("job scheduled", zap.String("job", j.Name), zap.String("spec", j.Spec))
	return nil
}

func (s *Scheduler) wrap(j Job) func() {
	return func() {
		ctx := s.ctx
		var cancel context.CancelFunc = func() {}
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		defer cancel()

		start := time.Now()
		err := j.Run(ctx)
		fields := []zap.Field{zap.String("job", j.Name), zap.Duration("duration", time.Since(start))}
		if err != nil {
			s.log.Error("job failed", append(fields, zap.Error(err))...)
			return
		}
		s.log.Info("job finished", fields...)
	}
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
