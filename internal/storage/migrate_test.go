package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

// writeLegacyDB creates a database the way earlier releases did: NOT NULL
// status and run_at stored as "2006-01-02 15:04:05+00:00".
func writeLegacyDB(t *testing.T, withCwd bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rat.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	defer db.Close()

	jobsDDL := `CREATE TABLE jobs (
		id INTEGER PRIMARY KEY, name TEXT, state INTEGER NOT NULL,
		script TEXT NOT NULL, run_at TEXT NOT NULL`
	if withCwd {
		jobsDDL += `, cwd BLOB NOT NULL`
	}
	jobsDDL += `)`
	stmts := []string{
		jobsDDL,
		`CREATE TABLE job_results (
			id INTEGER PRIMARY KEY, job_id INTEGER NOT NULL, status INTEGER NOT NULL,
			stdout TEXT NOT NULL, stderr TEXT NOT NULL)`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("legacy DDL: %v", err)
		}
	}

	insert := `INSERT INTO jobs (id, name, state, script, run_at) VALUES (?, ?, ?, ?, ?)`
	if withCwd {
		insert = `INSERT INTO jobs (id, name, state, script, run_at, cwd) VALUES (?, ?, ?, ?, ?, x'2f746d70')`
	}
	rows := []struct {
		id    int64
		name  string
		state job.State
		runAt string
	}{
		{1, "done", job.StateDone, "2030-01-01 01:00:00+00:00"},
		{2, "legacy-noon", job.StateQueued, "2030-01-01 12:00:00+00:00"},
	}
	for _, r := range rows {
		if _, err := db.Exec(insert, r.id, r.name, int64(r.state), "true", r.runAt); err != nil {
			t.Fatalf("legacy insert: %v", err)
		}
	}
	if _, err := db.Exec(`INSERT INTO job_results (job_id, status, stdout, stderr) VALUES (1, 0, 'ok', '')`); err != nil {
		t.Fatalf("legacy result insert: %v", err)
	}
	return path
}

func openPath(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() on legacy database error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLegacyDatabaseAcceptsSignaledResult(t *testing.T) {
	s := openPath(t, writeLegacyDB(t, true))
	ctx := context.Background()

	old, err := s.SelectJobResult(ctx, 1)
	if err != nil || old.Stdout != "ok" || old.Status == nil || *old.Status != 0 {
		t.Fatalf("existing result = %+v, %v; want it preserved", old, err)
	}

	if err := s.UpdateJobState(ctx, 2, job.StateRunning); err != nil {
		t.Fatalf("UpdateJobState() error: %v", err)
	}
	if _, err := s.InsertJobResult(ctx, job.Result{JobID: 2, Stderr: "Killed"}); err != nil {
		t.Fatalf("InsertJobResult(status=nil) error: %v", err)
	}
	j, err := s.SelectJob(ctx, 2)
	if err != nil || j.State != job.StateDone {
		t.Fatalf("job 2 = %v, %v; want done", j.State, err)
	}
	r, err := s.SelectJobResult(ctx, 2)
	if err != nil || r.Status != nil {
		t.Fatalf("result = %+v, %v; want nil status", r, err)
	}

	// The unique index is back after the rebuild.
	if _, err := s.db.ExecContext(ctx, `INSERT INTO job_results (job_id, status, stdout, stderr) VALUES (2, 1, '', '')`); err == nil {
		t.Fatal("second result row for job 2 accepted")
	}
}

func TestLegacyRunAtIsNormalized(t *testing.T) {
	s := openPath(t, writeLegacyDB(t, true))
	ctx := context.Background()
	morning := mustInsert(t, s, "morning", time.Date(2030, 1, 1, 6, 0, 0, 0, time.UTC))

	got, err := s.ClaimNextQueued(ctx)
	if err != nil || got == nil {
		t.Fatalf("ClaimNextQueued() = %v, %v", got, err)
	}
	if got.ID != morning {
		t.Fatalf("claimed job %d (%s), want %d due at 06:00", got.ID, got.RunAt, morning)
	}

	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT run_at FROM jobs WHERE id = 2`).Scan(&raw); err != nil {
		t.Fatalf("select run_at: %v", err)
	}
	if raw != "2030-01-01T12:00:00.000000000Z" {
		t.Fatalf("stored run_at = %q, want normalized layout", raw)
	}
}

func TestLegacyJobsWithoutCwd(t *testing.T) {
	s := openPath(t, writeLegacyDB(t, false))
	j, err := s.SelectJob(context.Background(), 2)
	if err != nil {
		t.Fatalf("SelectJob() error: %v", err)
	}
	if len(j.Cwd) != 0 || j.Name != "legacy-noon" {
		t.Fatalf("job = %+v", j)
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	path := writeLegacyDB(t, true)
	s := openPath(t, path)
	for i := 0; i < 2; i++ {
		if err := s.CreateSchema(context.Background()); err != nil {
			t.Fatalf("CreateSchema() #%d error: %v", i, err)
		}
	}
}
