package storage

import (
	"errors"
	"time"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("storage closed")

// DefaultBusyTimeout bounds how long a writer waits on another process's
// write lock (e.g. `rat add` while `rat run` commits a result).
const DefaultBusyTimeout = 5 * time.Second

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means DefaultBusyTimeout
}
