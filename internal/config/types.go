// Package config loads rat's optional YAML/JSON config file and, while the
// scheduler runs, watches it for changes.
package config

import (
	"time"

	"rat/internal/executor"
	"rat/internal/storage"
	logx "rat/pkg/logx"
)

// Config is the on-disk document. Every field is optional; Default fills the
// gaps and a missing file is equivalent to an empty one.
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Notify    NotifyConfig    `json:"notify"`
}

// StorageConfig locates the SQLite database.
//
// Example:
//
//	storage:
//	  path: ~/.local/share/rat/rat.db
//	  busy_timeout: 5s
type StorageConfig struct {
	Path string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	// PollInterval is a Go duration string (e.g. "1s", "500ms").
	PollInterval string `json:"poll_interval,omitempty"`
	// Shell runs each script as `<shell> -c <script>`.
	Shell string `json:"shell,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig sends a message per finished job. The token is never logged.
type TelegramConfig struct {
	Enabled      bool   `json:"enabled"`
	Token        string `json:"token,omitempty"`
	ChatID       int64  `json:"chat_id,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	OnlyFailures bool   `json:"only_failures,omitempty"`
}

const (
	DefaultPollInterval = time.Second
	DefaultLogLevel     = "info"
)

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:        DefaultDBPath(),
			BusyTimeout: storage.DefaultBusyTimeout.String(),
		},
		Scheduler: SchedulerConfig{
			PollInterval: DefaultPollInterval.String(),
			Shell:        executor.DefaultShell,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
		Notify:  NotifyConfig{Telegram: TelegramConfig{RatePerSec: 1}},
	}
}

// applyDefaults fills zero fields of a parsed document.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	c.Storage.Path = expandHome(c.Storage.Path)
	if c.Storage.BusyTimeout == "" {
		c.Storage.BusyTimeout = def.Storage.BusyTimeout
	}
	if c.Scheduler.PollInterval == "" {
		c.Scheduler.PollInterval = def.Scheduler.PollInterval
	}
	if c.Scheduler.Shell == "" {
		c.Scheduler.Shell = def.Scheduler.Shell
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	c.Logging.File.Path = expandHome(c.Logging.File.Path)
	if c.Notify.Telegram.RatePerSec <= 0 {
		c.Notify.Telegram.RatePerSec = def.Notify.Telegram.RatePerSec
	}
}

// Validate checks the fields that would otherwise fail later, at use time.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		return err
	}
	if tg := c.Notify.Telegram; tg.Enabled {
		if tg.Token == "" {
			return errorf("notify.telegram.token is required when enabled")
		}
		if tg.ChatID == 0 {
			return errorf("notify.telegram.chat_id is required when enabled")
		}
	}
	return nil
}

// StorageSettings converts the storage section for storage.Open.
func (c *Config) StorageSettings() (storage.Config, error) {
	bt, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, storage.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: c.Storage.Path, BusyTimeout: bt}, nil
}

// Poll returns the scheduler poll interval.
func (c *Config) Poll() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.poll_interval", c.Scheduler.PollInterval, DefaultPollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return d
}

// LogSettings converts the logging section for logx.
func (c *Config) LogSettings() logx.Config {
	format := logx.FormatAuto
	if c.Logging.Console {
		format = logx.FormatConsole
	}
	return logx.Config{
		Level:  c.Logging.Level,
		Format: format,
		File:   logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}
