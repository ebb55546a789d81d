package storage

import (
	"context"
	"database/sql"
	"errors"

	"rat/internal/job"
)

// InsertJobResult stores r and moves its job from Running to Done in one
// transaction. If the job is not Running nothing is written and
// job.ErrInvalidState is returned.
func (s *Store) InsertJobResult(ctx context.Context, r job.Result) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &job.StorageError{Op: "insert result: begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ? WHERE id = ? AND state = ?`,
		int64(job.StateDone), r.JobID, int64(job.StateRunning),
	)
	if err != nil {
		return 0, &job.StorageError{Op: "insert result: update job", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var state int64
		err := tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, r.JobID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, job.ErrNotFound
		}
		if err != nil {
			return 0, &job.StorageError{Op: "insert result: select job", Err: err}
		}
		return 0, job.InvalidTransition(r.JobID, job.State(state), job.StateDone)
	}

	var status any
	if r.Status != nil {
		status = int64(*r.Status)
	}
	res, err = tx.ExecContext(ctx,
		`INSERT INTO job_results (job_id, status, stdout, stderr) VALUES (?, ?, ?, ?)`,
		r.JobID, status, r.Stdout, r.Stderr,
	)
	if err != nil {
		return 0, &job.StorageError{Op: "insert result: insert", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &job.StorageError{Op: "insert result: id", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &job.StorageError{Op: "insert result: commit", Err: err}
	}
	return id, nil
}

// SelectJobResult returns job.ErrNotFound when the job has no result.
func (s *Store) SelectJobResult(ctx context.Context, jobID int64) (job.Result, error) {
	if s == nil || s.db == nil {
		return job.Result{}, ErrClosed
	}
	var (
		r      job.Result
		status sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, status, stdout, stderr FROM job_results WHERE job_id = ?`, jobID,
	).Scan(&r.ID, &r.JobID, &status, &r.Stdout, &r.Stderr)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Result{}, job.ErrNotFound
	}
	if err != nil {
		return job.Result{}, &job.StorageError{Op: "select result", Err: err}
	}
	if status.Valid {
		v := int(status.Int64)
		r.Status = &v
	}
	return r, nil
}
