package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appName = "rat"

// DataDir is $XDG_DATA_HOME/rat, falling back to ~/.local/share/rat.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ConfigDir is $XDG_CONFIG_HOME/rat, falling back to ~/.config/rat.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

func DefaultDBPath() string     { return filepath.Join(DataDir(), appName+".db") }
func DefaultConfigPath() string { return filepath.Join(ConfigDir(), "config.yaml") }

func xdgDir(env, fallback string) string {
	if base := strings.TrimSpace(os.Getenv(env)); base != "" && filepath.IsAbs(base) {
		return filepath.Join(base, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(home, fallback, appName)
}

// EnsureDirs creates the parent directories of the database and the log file.
func EnsureDirs(cfg *Config) error {
	dirs := []string{filepath.Dir(cfg.Storage.Path)}
	if cfg.Logging.File.Enabled && cfg.Logging.File.Path != "" {
		dirs = append(dirs, filepath.Dir(cfg.Logging.File.Path))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return errorf("create %s: %w", d, err)
		}
	}
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
