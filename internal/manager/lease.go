package manager

import (
	"context"
	"fmt"
	"sync"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

// Lease is exclusive custody of one Dequeued job.
//
// A lease is resolved by SaveResult or Cancel. Release must be deferred by
// whoever obtained the lease; if the lease is still unresolved at that point
// it moves the job Dequeued -> Queued with a compare-and-swap, so a job whose
// state already advanced is left alone.
type Lease struct {
	mgr *Manager

	mu       sync.Mutex
	job      job.Job
	resolved bool
	released bool
}

func newLease(m *Manager, j job.Job) *Lease {
	return &Lease{mgr: m, job: j}
}

// Job returns a copy of the leased job as the lease last saw it.
func (l *Lease) Job() job.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.job
}

// Resolved reports whether SaveResult or Cancel committed.
func (l *Lease) Resolved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolved
}

// MarkRunning records that execution is about to start.
func (l *Lease) MarkRunning(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(ctx, job.StateRunning)
}

// Cancel resolves the lease by moving the job to Canceled.
// Jobs that already started running cannot be canceled.
func (l *Lease) Cancel(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.transitionLocked(ctx, job.StateCanceled); err != nil {
		return err
	}
	l.resolved = true
	l.mgr.log.Info("job canceled", logx.Int64("job_id", l.job.ID))
	return nil
}

func (l *Lease) transitionLocked(ctx context.Context, to job.State) error {
	if l.resolved {
		return job.ErrLeaseResolved
	}
	from := l.job.State
	if from != job.StateDequeued || !job.CanTransition(from, to) {
		return job.InvalidTransition(l.job.ID, from, to)
	}
	ok, err := l.mgr.store.CompareAndSwapState(ctx, l.job.ID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job %d is no longer %s", job.ErrInvalidState, l.job.ID, from)
	}
	l.job.State = to
	return nil
}

// SaveResult stores r for the leased job and moves it to Done in one
// transaction. It can succeed at most once per lease.
func (l *Lease) SaveResult(ctx context.Context, r job.Result) (job.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolved {
		return job.Result{}, job.ErrLeaseResolved
	}
	r.JobID = l.job.ID
	id, err := l.mgr.store.InsertJobResult(ctx, r)
	if err != nil {
		return job.Result{}, fmt.Errorf("save result for job %d: %w", l.job.ID, err)
	}
	r.ID = id
	l.job.State = job.StateDone
	l.resolved = true
	return r, nil
}

// Release is the scoped-release hook. It is idempotent and never fails:
// rollback errors are logged because no caller is left to handle them.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if l.resolved {
		return
	}

	// The owner's context may already be canceled (shutdown, panic path).
	ctx, cancel := context.WithTimeout(context.Background(), l.mgr.releaseTimeout)
	defer cancel()

	ok, err := l.mgr.store.CompareAndSwapState(ctx, l.job.ID, job.StateDequeued, job.StateQueued)
	switch {
	case err != nil:
		l.mgr.log.Warn("lease rollback failed; job may stay dequeued until the next restart",
			logx.Int64("job_id", l.job.ID),
			logx.Err(err),
		)
	case ok:
		l.job.State = job.StateQueued
		l.mgr.log.Debug("lease released; job re-queued", logx.Int64("job_id", l.job.ID))
	default:
		l.mgr.log.Debug("lease released; job state already advanced",
			logx.Int64("job_id", l.job.ID),
			logx.String("last_seen", l.job.State.String()),
		)
	}
}
