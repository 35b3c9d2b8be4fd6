package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/knightly/pkg/config"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "err", err)...)
}

// Runner fires the scheduler's enabled jobs on their cron specs. A job never
// overlaps itself.
type Runner struct {
	cron      *cron.Cron
	scheduler *Scheduler
	log       *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRunner(cfg *config.Config, s *Scheduler, log *zap.SugaredLogger) (*Runner, error) {
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(cfg.Scheduler.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{cron: c, scheduler: s, log: log, ctx: ctx, cancel: cancel}

	for _, e := range s.scheduled() {
		if _, err := c.AddFunc(e.status.Spec, func() { _ = s.execute(r.ctx, e) }); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule %s: %w", e.job.Name, err)
		}
	}
	return r, nil
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Infow("scheduler started", "jobs", len(r.cron.Entries()))
}

// Stop cancels running jobs and waits for them until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.log.Infow("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func registerRunner(lc fx.Lifecycle, cfg *config.Config, r *Runner, log *zap.SugaredLogger) {
	if !cfg.Scheduler.Enabled {
		log.Infow("scheduler disabled by config")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.Start()
			return nil
		},
		OnStop: r.Stop,
	})
}

// CronModule runs jobs on their schedules. Processes that only run jobs on
// demand use Module alone.
var CronModule = fx.Options(
	fx.Provide(NewRunner),
	fx.Invoke(registerRunner),
)
