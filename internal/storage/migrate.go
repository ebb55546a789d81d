package storage

import (
	"context"
	"database/sql"
	"fmt"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

// migrateLegacy upgrades databases written by earlier releases in place:
//   - job_results.status declared NOT NULL (signaled processes have none)
//   - jobs without a cwd column
//   - run_at values in a layout other than runAtLayout, which would break
//     ORDER BY run_at
//
// It runs in one transaction before the schema is applied and is a no-op on
// a current or empty database.
func (s *Store) migrateLegacy(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &job.StorageError{Op: "migrate: begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	results, err := tableColumns(ctx, tx, "job_results")
	if err != nil {
		return err
	}
	if col, ok := results["status"]; ok && col.notNull {
		if err := rebuildJobResults(ctx, tx); err != nil {
			return err
		}
		s.log.Info("migrated job_results: status is now nullable")
	}

	jobs, err := tableColumns(ctx, tx, "jobs")
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		if _, ok := jobs["cwd"]; !ok {
			if _, err := tx.ExecContext(ctx, `ALTER TABLE jobs ADD COLUMN cwd BLOB NOT NULL DEFAULT x''`); err != nil {
				return &job.StorageError{Op: "migrate: add cwd", Err: err}
			}
			s.log.Info("migrated jobs: added cwd column")
		}
		n, err := normalizeRunAt(ctx, tx)
		if err != nil {
			return err
		}
		if n > 0 {
			s.log.Info("migrated jobs: normalized run_at", logx.Int("rows", n))
		}
	}

	if err := tx.Commit(); err != nil {
		return &job.StorageError{Op: "migrate: commit", Err: err}
	}
	return nil
}

type column struct {
	notNull bool
}

// tableColumns returns the columns of table, or an empty map if it does not
// exist yet.
func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]column, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, &job.StorageError{Op: "migrate: table_info " + table, Err: err}
	}
	defer rows.Close()

	cols := map[string]column{}
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, &job.StorageError{Op: "migrate: table_info " + table, Err: err}
		}
		cols[name] = column{notNull: notNull != 0}
	}
	if err := rows.Err(); err != nil {
		return nil, &job.StorageError{Op: "migrate: table_info " + table, Err: err}
	}
	return cols, nil
}

func rebuildJobResults(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE job_results_new (
			id      INTEGER PRIMARY KEY,
			job_id  INTEGER NOT NULL,
			status  INTEGER,
			stdout  TEXT NOT NULL,
			stderr  TEXT NOT NULL
		)`,
		`INSERT INTO job_results_new (id, job_id, status, stdout, stderr)
			SELECT id, job_id, status, stdout, stderr FROM job_results`,
		`DROP TABLE job_results`,
		`ALTER TABLE job_results_new RENAME TO job_results`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return &job.StorageError{Op: "migrate: rebuild job_results", Err: err}
		}
	}
	return nil
}

// normalizeRunAt rewrites every run_at not already in runAtLayout.
func normalizeRunAt(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, run_at FROM jobs WHERE run_at NOT GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]T[0-9][0-9]:[0-9][0-9]:[0-9][0-9].[0-9][0-9][0-9][0-9][0-9][0-9][0-9][0-9][0-9]Z'`)
	if err != nil {
		return 0, &job.StorageError{Op: "migrate: scan run_at", Err: err}
	}
	type fix struct {
		id    int64
		runAt string
	}
	var fixes []fix
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, &job.StorageError{Op: "migrate: scan run_at", Err: err}
		}
		t, err := parseRunAt(raw)
		if err != nil {
			rows.Close()
			return 0, &job.StorageError{Op: "migrate: job " + fmt.Sprint(id), Err: err}
		}
		fixes = append(fixes, fix{id: id, runAt: formatRunAt(t)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &job.StorageError{Op: "migrate: scan run_at", Err: err}
	}

	for _, f := range fixes {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET run_at = ? WHERE id = ?`, f.runAt, f.id); err != nil {
			return 0, &job.StorageError{Op: "migrate: update run_at", Err: err}
		}
	}
	return len(fixes), nil
}
