package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rat/internal/job"
)

const jobColumns = `id, name, state, script, run_at, cwd`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j     job.Job
		name  sql.NullString
		state int64
		runAt string
		cwd   []byte
	)
	if err := row.Scan(&j.ID, &name, &state, &j.Script, &runAt, &cwd); err != nil {
		return job.Job{}, err
	}
	t, err := parseRunAt(runAt)
	if err != nil {
		return job.Job{}, err
	}
	j.Name = name.String
	j.State = job.State(state)
	j.RunAt = t
	j.Cwd = cwd
	return j, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// InsertJob persists j as Queued and returns the assigned id.
func (s *Store) InsertJob(ctx context.Context, j job.Job) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	cwd := j.Cwd
	if cwd == nil {
		cwd = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, state, script, run_at, cwd) VALUES (?, ?, ?, ?, ?)`,
		nullStr(j.Name), int64(job.StateQueued), j.Script, formatRunAt(j.RunAt), cwd,
	)
	if err != nil {
		return 0, &job.StorageError{Op: "insert job", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &job.StorageError{Op: "insert job id", Err: err}
	}
	return id, nil
}

// SelectJob returns job.ErrNotFound when id does not exist.
func (s *Store) SelectJob(ctx context.Context, id int64) (job.Job, error) {
	if s == nil || s.db == nil {
		return job.Job{}, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, job.ErrNotFound
	}
	if err != nil {
		return job.Job{}, &job.StorageError{Op: "select job", Err: err}
	}
	return j, nil
}

// SelectAllJobs returns every job ordered by id.
func (s *Store) SelectAllJobs(ctx context.Context) ([]job.Job, error) {
	return s.selectJobs(ctx, "select jobs", `SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
}

// SelectJobsByState returns jobs in state ordered by (run_at, id).
func (s *Store) SelectJobsByState(ctx context.Context, state job.State) ([]job.Job, error) {
	return s.selectJobs(ctx, "select jobs by state",
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY run_at ASC, id ASC`, int64(state))
}

func (s *Store) selectJobs(ctx context.Context, op, query string, args ...any) ([]job.Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &job.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, &job.StorageError{Op: op, Err: err}
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, &job.StorageError{Op: op, Err: err}
	}
	return out, nil
}

// UpdateJobState writes state unconditionally.
func (s *Store) UpdateJobState(ctx context.Context, id int64, to job.State) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = ? WHERE id = ?`, int64(to), id)
	if err != nil {
		return &job.StorageError{Op: "update job state", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return job.ErrNotFound
	}
	return nil
}

// CompareAndSwapState moves job id from -> to only if its persisted state is
// still from. A mismatch (or a missing row) is reported as false, not as an
// error.
func (s *Store) CompareAndSwapState(ctx context.Context, id int64, from, to job.State) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ? WHERE id = ? AND state = ?`,
		int64(to), id, int64(from),
	)
	if err != nil {
		return false, &job.StorageError{Op: "swap job state", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &job.StorageError{Op: "swap job state", Err: err}
	}
	return n == 1, nil
}

// ClaimNextQueued atomically moves the queued job with the smallest
// (run_at, id) to Dequeued and returns it. It returns (nil, nil) when no job
// is queued.
func (s *Store) ClaimNextQueued(ctx context.Context) (*job.Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = ?
		WHERE state = ? AND id = (
			SELECT id FROM jobs
			WHERE state = ?
			ORDER BY run_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		int64(job.StateDequeued), int64(job.StateQueued), int64(job.StateQueued),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &job.StorageError{Op: "claim next job", Err: err}
	}
	return &j, nil
}

// ClaimQueued moves one specific job from Queued to Dequeued.
// It returns job.ErrNotFound if the job does not exist and
// job.ErrInvalidState if it is not Queued.
func (s *Store) ClaimQueued(ctx context.Context, id int64) (*job.Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET state = ? WHERE id = ? AND state = ? RETURNING `+jobColumns,
		int64(job.StateDequeued), id, int64(job.StateQueued),
	)
	j, err := scanJob(row)
	if err == nil {
		return &j, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, &job.StorageError{Op: "claim job", Err: err}
	}
	cur, err := s.SelectJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, job.InvalidTransition(id, cur.State, job.StateDequeued)
}

// DeleteJob removes a job and its result in one transaction. Running jobs
// are rejected with job.ErrInvalidState and nothing is deleted.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &job.StorageError{Op: "delete job: begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var state int64
	err = tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return job.ErrNotFound
	}
	if err != nil {
		return &job.StorageError{Op: "delete job: select", Err: err}
	}
	if job.State(state) == job.StateRunning {
		return fmt.Errorf("%w: job %d is running", job.ErrInvalidState, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_results WHERE job_id = ?`, id); err != nil {
		return &job.StorageError{Op: "delete job: results", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return &job.StorageError{Op: "delete job: row", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &job.StorageError{Op: "delete job: commit", Err: err}
	}
	return nil
}
