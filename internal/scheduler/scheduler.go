package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rat/internal/executor"
	"rat/internal/job"
	"rat/internal/manager"
	"rat/internal/notify"
	logx "rat/pkg/logx"
	"rat/pkg/systemd"
)

// DefaultPoll is the idle and pacing interval when none is configured.
const DefaultPoll = time.Second

// Runner executes one script. *executor.Shell implements it.
type Runner interface {
	// Check reports spawn failures detectable before the job is marked Running.
	Check(script, dir string) error
	Run(script, dir string) (executor.Output, error)
}

type Option func(*Scheduler)

func WithPoll(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock replaces time.Now and the context-aware sleep.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// Scheduler is the single worker. It is not safe to call Tick or Run from
// more than one goroutine.
type Scheduler struct {
	mgr      *manager.Manager
	runner   Runner
	notifier notify.Notifier
	log      logx.Logger

	poll  time.Duration
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	executed uint64
}

func New(mgr *manager.Manager, runner Runner, log logx.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		mgr:      mgr,
		runner:   runner,
		notifier: notify.Nop{},
		poll:     DefaultPoll,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = log.With(
		logx.String("component", "scheduler"),
		logx.String("worker", uuid.NewString()),
	)
	return s
}

func (s *Scheduler) Poll() time.Duration { return s.poll }

// Executed counts jobs this scheduler finished.
func (s *Scheduler) Executed() uint64 { return s.executed }

// Run loops until ctx is done. Stale leases left by a previous process are
// recovered first. Per-tick errors are logged and paced by one poll interval;
// only ctx cancellation ends the loop, with a nil error.
func (s *Scheduler) Run(ctx context.Context) error {
	n, err := s.mgr.RecoverStale(ctx)
	if err != nil {
		return err
	}
	s.log.Info("scheduler started", logx.Duration("poll", s.poll), logx.Int("recovered", n))
	if wd := systemd.WatchdogInterval(); wd > 0 && wd < s.poll {
		s.log.Warn("watchdog interval shorter than poll interval", logx.Duration("watchdog", wd))
	}

	_, _ = systemd.Ready()
	defer func() { _, _ = systemd.Stopping() }()
	s.status()

	for {
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped", logx.Uint64("executed", s.executed))
			return nil
		}
		_, _ = systemd.Watchdog()

		ran, err := s.Tick(ctx)
		switch {
		case err == nil:
			if ran {
				s.status()
			}
		case ctx.Err() != nil:
			// shutting down; the lease has already been released
		default:
			s.logTickError(err)
			_ = s.sleep(ctx, s.poll)
		}
	}
}

// Tick processes at most one job. It reports whether a job was executed and
// saved. When nothing is queued it sleeps one poll interval; when the head
// of the queue is due later than that, it sleeps one poll interval and hands
// the job back.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	lease, err := s.mgr.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, s.sleep(ctx, s.poll)
	}
	defer lease.Release()

	j := lease.Job()
	wait := j.RunAt.Sub(s.now())
	if wait > s.poll {
		return false, s.sleep(ctx, s.poll)
	}
	if wait > 0 {
		s.log.Debug("waiting for job", logx.Int64("job_id", j.ID), logx.Duration("wait", wait))
		if err := s.sleep(ctx, wait); err != nil {
			return false, err
		}
	}

	if err := s.runner.Check(j.Script, j.Dir()); err != nil {
		return false, err
	}
	if err := lease.MarkRunning(ctx); err != nil {
		return false, err
	}
	s.log.Info("job started", logx.Int64("job_id", j.ID), logx.String("job", j.Label()))
	_, _ = systemd.Status("running job %d: %s", j.ID, j.Label())

	out, err := s.runner.Run(j.Script, j.Dir())
	if err != nil {
		return false, &RunningError{JobID: j.ID, Err: err}
	}

	// The script already ran; don't let a shutdown signal lose its result.
	saveCtx := context.WithoutCancel(ctx)
	res, err := lease.SaveResult(saveCtx, out.Result(j.ID))
	if err != nil {
		return false, err
	}
	s.executed++

	fields := []logx.Field{logx.Int64("job_id", j.ID), logx.Duration("dur", out.Duration)}
	if res.Status != nil {
		fields = append(fields, logx.Int("exit", *res.Status))
	} else {
		fields = append(fields, logx.Bool("signaled", true))
	}
	s.log.Info("job finished", fields...)

	if err := s.notifier.JobFinished(saveCtx, lease.Job(), res); err != nil {
		s.log.Warn("notification failed", logx.Int64("job_id", j.ID), logx.Err(err))
	}
	return true, nil
}

// RunningError is a start failure after the job was marked Running. No
// transition leaves Running except Done, so the job is not re-queued.
type RunningError struct {
	JobID int64
	Err   error
}

func (e *RunningError) Error() string {
	return fmt.Sprintf("job %d marked running but failed to start: %v", e.JobID, e.Err)
}

func (e *RunningError) Unwrap() error { return e.Err }

func (s *Scheduler) logTickError(err error) {
	var (
		re *RunningError
		ee *job.ExecutionError
	)
	switch {
	case errors.As(err, &re):
		s.log.Error("job failed to start after being marked running; it stays running", logx.Int64("job_id", re.JobID), logx.Err(re.Err))
	case errors.As(err, &ee):
		s.log.Error("job could not be started; re-queued", logx.String("dir", ee.Dir), logx.Err(ee.Err))
	case job.IsStorage(err):
		s.log.Error("storage error", logx.Err(err))
	default:
		s.log.Warn("tick failed", logx.Err(err))
	}
}

func (s *Scheduler) status() {
	_, _ = systemd.Status("idle, %d job(s) executed", s.executed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
