package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"rat/internal/config"
	"rat/internal/executor"
	"rat/internal/notify"
	"rat/internal/runtime/supervisor"
	"rat/internal/scheduler"
	logx "rat/pkg/logx"
)

// stopTimeout bounds the wait for the config goroutines at shutdown. The
// scheduler itself is always waited for: a job that is running has to
// finish and record its result before the store closes.
var stopTimeout = 10 * time.Second

func newRunCommand(a *app) *cobra.Command {
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Args:  cobra.NoArgs,
		Short: "Run the scheduler in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if poll <= 0 {
				poll = a.cfg.Poll()
			}
			return a.run(cmd.Context(), poll)
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 0, "poll interval (default scheduler.poll_interval, 1s)")
	return cmd
}

func (a *app) run(ctx context.Context, poll time.Duration) error {
	var sw notify.Switch
	sw.Set(a.buildNotifier(a.cfg))

	sched := scheduler.New(a.mgr, executor.New(a.cfg.Scheduler.Shell), a.log,
		scheduler.WithPoll(poll),
		scheduler.WithNotifier(&sw),
	)

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	schedDone := make(chan struct{})
	sup.Go("scheduler", func(ctx context.Context) error {
		defer close(schedDone)
		return sched.Run(ctx)
	})
	sup.GoRestart("config.watch", a.cfgMgr.Watch, time.Second, 30*time.Second)

	updates := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(updates)
	sup.Go("config.apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case loaded, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(loaded, &sw)
			}
		}
	})

	<-sup.Context().Done()
	select {
	case <-schedDone:
	default:
		a.log.Info("shutting down; waiting for the current job to finish")
		<-schedDone
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return sup.Stop(stopCtx)
}

// applyConfig swaps what can change while running: log level and sinks, and
// the notifier. Storage and scheduler changes wait for a restart.
func (a *app) applyConfig(loaded *config.Config, sw *notify.Switch) {
	next := a.effective(loaded)
	changed, attrs := config.SummarizeConfigChange(a.cfg, next)
	if len(changed) == 0 {
		return
	}
	if config.RestartRequired(a.cfg, next) {
		a.log.Warn("storage/scheduler changes take effect after restart")
	}
	a.logSvc.Apply(next.LogSettings())
	sw.Set(a.buildNotifier(next))
	a.log.Info("config applied", append(attrs, logx.Any("sections", changed))...)
	a.cfg = next
}

func (a *app) buildNotifier(cfg *config.Config) notify.Notifier {
	tg := cfg.Notify.Telegram
	if !tg.Enabled {
		return notify.Nop{}
	}
	n, err := notify.NewTelegram(notify.TelegramConfig{
		Token:        tg.Token,
		ChatID:       tg.ChatID,
		RatePerSec:   tg.RatePerSec,
		OnlyFailures: tg.OnlyFailures,
	}, a.log)
	if err != nil {
		a.log.Warn("telegram notifier disabled", logx.Err(err))
		return notify.Nop{}
	}
	return n
}
