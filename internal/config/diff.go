package config

import (
	logx "rat/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// plus fields safe to log (never the Telegram token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", newCfg.Storage.Path))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.poll_interval", newCfg.Scheduler.PollInterval),
			logx.String("scheduler.shell", newCfg.Scheduler.Shell),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		tg := newCfg.Notify.Telegram
		attrs = append(attrs,
			logx.Bool("notify.telegram.enabled", tg.Enabled),
			logx.Bool("notify.telegram.token_set", tg.Token != ""),
			logx.Int64("notify.telegram.chat_id", tg.ChatID),
		)
	}
	return changed, attrs
}

// RestartRequired reports changes that a running scheduler cannot apply in
// place. The database handle and poll loop are fixed at startup.
func RestartRequired(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	return oldCfg.Storage != newCfg.Storage || oldCfg.Scheduler != newCfg.Scheduler
}
