// Package manager is the invariant-preserving facade over the job store and
// the home of Lease, the crash-safe handle on one dequeued job.
package manager

import (
	"context"
	"fmt"
	"time"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

// Store is the persistence surface the manager needs. *storage.Store
// implements it.
type Store interface {
	InsertJob(ctx context.Context, j job.Job) (int64, error)
	SelectJob(ctx context.Context, id int64) (job.Job, error)
	SelectAllJobs(ctx context.Context) ([]job.Job, error)
	SelectJobsByState(ctx context.Context, state job.State) ([]job.Job, error)
	CompareAndSwapState(ctx context.Context, id int64, from, to job.State) (bool, error)
	ClaimNextQueued(ctx context.Context) (*job.Job, error)
	ClaimQueued(ctx context.Context, id int64) (*job.Job, error)
	InsertJobResult(ctx context.Context, r job.Result) (int64, error)
	SelectJobResult(ctx context.Context, jobID int64) (job.Result, error)
	DeleteJob(ctx context.Context, id int64) error
}

// DefaultReleaseTimeout bounds the rollback write issued by Lease.Release.
const DefaultReleaseTimeout = 5 * time.Second

type Manager struct {
	store Store
	log   logx.Logger

	releaseTimeout time.Duration
}

func New(store Store, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		store:          store,
		log:            log.With(logx.String("component", "manager")),
		releaseTimeout: DefaultReleaseTimeout,
	}
}

// Enqueue persists j as Queued and returns it with its assigned id.
// A run_at in the past means "due immediately".
func (m *Manager) Enqueue(ctx context.Context, j job.Job) (job.Job, error) {
	j.State = job.StateQueued
	id, err := m.store.InsertJob(ctx, j)
	if err != nil {
		return job.Job{}, fmt.Errorf("enqueue: %w", err)
	}
	j.ID = id
	m.log.Debug("job enqueued",
		logx.Int64("job_id", id),
		logx.String("name", j.Name),
		logx.Time("run_at", j.RunAt),
	)
	return j, nil
}

// Dequeue leases the queued job with the earliest run_at (ties by lowest id).
// It returns (nil, nil) when nothing is queued.
//
// The returned lease must be released on every path:
//
//	lease, err := m.Dequeue(ctx)
//	if err != nil || lease == nil { ... }
//	defer lease.Release()
func (m *Manager) Dequeue(ctx context.Context) (*Lease, error) {
	j, err := m.store.ClaimNextQueued(ctx)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if j == nil {
		return nil, nil
	}
	return newLease(m, *j), nil
}

// Claim leases one specific Queued job, e.g. to cancel it.
func (m *Manager) Claim(ctx context.Context, id int64) (*Lease, error) {
	j, err := m.store.ClaimQueued(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}
	return newLease(m, *j), nil
}

func (m *Manager) Get(ctx context.Context, id int64) (job.Job, error) {
	return m.store.SelectJob(ctx, id)
}

func (m *Manager) All(ctx context.Context) ([]job.Job, error) {
	return m.store.SelectAllJobs(ctx)
}

func (m *Manager) ByState(ctx context.Context, state job.State) ([]job.Job, error) {
	return m.store.SelectJobsByState(ctx, state)
}

// Result returns job.ErrNotFound when j has not finished.
func (m *Manager) Result(ctx context.Context, j job.Job) (job.Result, error) {
	return m.store.SelectJobResult(ctx, j.ID)
}

// Delete removes j and its result. Running jobs are rejected, both on the
// caller's copy and on the persisted row.
func (m *Manager) Delete(ctx context.Context, j job.Job) error {
	if j.State == job.StateRunning {
		return fmt.Errorf("%w: job %d is running", job.ErrInvalidState, j.ID)
	}
	if err := m.store.DeleteJob(ctx, j.ID); err != nil {
		return err
	}
	m.log.Debug("job deleted", logx.Int64("job_id", j.ID))
	return nil
}

// RecoverStale re-queues jobs left Dequeued by a process that died without
// releasing its lease. Only call it when no other worker is running.
// Running jobs are reported, never touched.
func (m *Manager) RecoverStale(ctx context.Context) (int, error) {
	stale, err := m.store.SelectJobsByState(ctx, job.StateDequeued)
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	n := 0
	for _, j := range stale {
		ok, err := m.store.CompareAndSwapState(ctx, j.ID, job.StateDequeued, job.StateQueued)
		if err != nil {
			return n, fmt.Errorf("recover stale job %d: %w", j.ID, err)
		}
		if ok {
			n++
			m.log.Info("stale lease recovered", logx.Int64("job_id", j.ID), logx.String("job", j.Label()))
		}
	}

	running, err := m.store.SelectJobsByState(ctx, job.StateRunning)
	if err != nil {
		return n, fmt.Errorf("recover stale: %w", err)
	}
	for _, j := range running {
		m.log.Warn("job left running by a previous process; it will not be retried",
			logx.Int64("job_id", j.ID),
			logx.String("job", j.Label()),
		)
	}
	return n, nil
}
