package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// Store is the SQLite-backed job store. One Store is opened per process and
// shared by every component; it is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the database file and applies the schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &job.StorageError{Op: "create data dir", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &job.StorageError{Op: "open", Err: err}
	}
	// SQLite prefers a single writer; this also keeps :memory: databases on
	// one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	s := &Store{db: db, log: log.With(logx.String("component", "storage"))}
	if err := s.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("store opened", logx.String("path", path))
	return s, nil
}

// CreateSchema is idempotent and runs on every Open. Databases from older
// releases are migrated first.
func (s *Store) CreateSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if err := s.migrateLegacy(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return &job.StorageError{Op: "create schema", Err: err}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
