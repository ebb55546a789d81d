package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rat.db")
	s, err := Open(context.Background(), Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, script string, runAt time.Time) int64 {
	t.Helper()
	j, err := job.New(script, runAt, "/tmp")
	if err != nil {
		t.Fatalf("job.New() error: %v", err)
	}
	id, err := s.InsertJob(context.Background(), j)
	if err != nil {
		t.Fatalf("InsertJob() error: %v", err)
	}
	return id
}

func TestCreateSchemaIdempotent(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.CreateSchema(context.Background()); err != nil {
			t.Fatalf("CreateSchema() #%d error: %v", i, err)
		}
	}
}

func TestInsertSelectRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2031, 5, 6, 7, 8, 9, 123456789, time.UTC)
	cwd := "/tmp/\xff-odd"

	in, err := job.New("echo hi", at, cwd, job.WithName("greet"))
	if err != nil {
		t.Fatalf("job.New() error: %v", err)
	}
	in.State = job.StateDone // ignored: inserts are always queued
	id, err := s.InsertJob(ctx, in)
	if err != nil {
		t.Fatalf("InsertJob() error: %v", err)
	}

	got, err := s.SelectJob(ctx, id)
	if err != nil {
		t.Fatalf("SelectJob() error: %v", err)
	}
	if got.ID != id || got.Name != "greet" || got.Script != "echo hi" {
		t.Fatalf("SelectJob() = %+v", got)
	}
	if !got.RunAt.Equal(at) {
		t.Fatalf("RunAt = %v, want %v", got.RunAt, at)
	}
	if got.Dir() != cwd {
		t.Fatalf("Dir() = %q, want %q", got.Dir(), cwd)
	}
	if got.State != job.StateQueued {
		t.Fatalf("State = %v, want %v", got.State, job.StateQueued)
	}

	if _, err := s.SelectJob(ctx, id+100); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("SelectJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUnnamedJobHasEmptyName(t *testing.T) {
	s := openTestStore(t)
	id := mustInsert(t, s, "true", time.Now())
	got, err := s.SelectJob(context.Background(), id)
	if err != nil {
		t.Fatalf("SelectJob() error: %v", err)
	}
	if got.Name != "" {
		t.Fatalf("Name = %q, want empty", got.Name)
	}
}

func TestClaimNextQueuedOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	late := mustInsert(t, s, "late", base.Add(time.Hour))
	tieA := mustInsert(t, s, "tie-a", base)
	tieB := mustInsert(t, s, "tie-b", base)

	for _, want := range []int64{tieA, tieB, late} {
		j, err := s.ClaimNextQueued(ctx)
		if err != nil {
			t.Fatalf("ClaimNextQueued() error: %v", err)
		}
		if j == nil {
			t.Fatalf("ClaimNextQueued() = nil, want job %d", want)
		}
		if j.ID != want {
			t.Fatalf("ClaimNextQueued() id = %d, want %d", j.ID, want)
		}
		if j.State != job.StateDequeued {
			t.Fatalf("State = %v, want %v", j.State, job.StateDequeued)
		}
	}

	j, err := s.ClaimNextQueued(ctx)
	if err != nil || j != nil {
		t.Fatalf("ClaimNextQueued() on empty queue = %v, %v; want nil, nil", j, err)
	}
}

func TestClaimQueued(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := mustInsert(t, s, "true", time.Now())

	j, err := s.ClaimQueued(ctx, id)
	if err != nil || j == nil || j.State != job.StateDequeued {
		t.Fatalf("ClaimQueued() = %v, %v", j, err)
	}
	if _, err := s.ClaimQueued(ctx, id); !errors.Is(err, job.ErrInvalidState) {
		t.Fatalf("second ClaimQueued() error = %v, want ErrInvalidState", err)
	}
	if _, err := s.ClaimQueued(ctx, id+1); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("ClaimQueued(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCompareAndSwapState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := mustInsert(t, s, "true", time.Now())

	ok, err := s.CompareAndSwapState(ctx, id, job.StateDequeued, job.StateQueued)
	if err != nil || ok {
		t.Fatalf("CAS on mismatched state = %v, %v; want false, nil", ok, err)
	}
	ok, err = s.CompareAndSwapState(ctx, id, job.StateQueued, job.StateDequeued)
	if err != nil || !ok {
		t.Fatalf("CAS on matching state = %v, %v; want true, nil", ok, err)
	}
	got, _ := s.SelectJob(ctx, id)
	if got.State != job.StateDequeued {
		t.Fatalf("State = %v, want %v", got.State, job.StateDequeued)
	}
	ok, err = s.CompareAndSwapState(ctx, id+50, job.StateQueued, job.StateDequeued)
	if err != nil || ok {
		t.Fatalf("CAS on missing row = %v, %v; want false, nil", ok, err)
	}
}

func TestInsertJobResultRequiresRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := mustInsert(t, s, "true", time.Now())

	zero := 0
	if _, err := s.InsertJobResult(ctx, job.Result{JobID: id, Status: &zero}); !errors.Is(err, job.ErrInvalidState) {
		t.Fatalf("InsertJobResult(queued) error = %v, want ErrInvalidState", err)
	}
	if _, err := s.SelectJobResult(ctx, id); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("result written despite rejected transition: %v", err)
	}

	if err := s.UpdateJobState(ctx, id, job.StateRunning); err != nil {
		t.Fatalf("UpdateJobState() error: %v", err)
	}
	rid, err := s.InsertJobResult(ctx, job.Result{JobID: id, Stdout: "out", Stderr: "err"})
	if err != nil {
		t.Fatalf("InsertJobResult() error: %v", err)
	}
	got, err := s.SelectJobResult(ctx, id)
	if err != nil {
		t.Fatalf("SelectJobResult() error: %v", err)
	}
	if got.ID != rid || got.Status != nil || got.Stdout != "out" || got.Stderr != "err" {
		t.Fatalf("SelectJobResult() = %+v", got)
	}
	j, _ := s.SelectJob(ctx, id)
	if j.State != job.StateDone {
		t.Fatalf("State = %v, want %v", j.State, job.StateDone)
	}

	if _, err := s.InsertJobResult(ctx, job.Result{JobID: id}); !errors.Is(err, job.ErrInvalidState) {
		t.Fatalf("second InsertJobResult() error = %v, want ErrInvalidState", err)
	}
}

func TestDeleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := mustInsert(t, s, "true", time.Now())

	if err := s.UpdateJobState(ctx, id, job.StateRunning); err != nil {
		t.Fatalf("UpdateJobState() error: %v", err)
	}
	if err := s.DeleteJob(ctx, id); !errors.Is(err, job.ErrInvalidState) {
		t.Fatalf("DeleteJob(running) error = %v, want ErrInvalidState", err)
	}
	if _, err := s.SelectJob(ctx, id); err != nil {
		t.Fatalf("running job was deleted: %v", err)
	}

	one := 1
	if _, err := s.InsertJobResult(ctx, job.Result{JobID: id, Status: &one}); err != nil {
		t.Fatalf("InsertJobResult() error: %v", err)
	}
	if err := s.DeleteJob(ctx, id); err != nil {
		t.Fatalf("DeleteJob() error: %v", err)
	}
	if _, err := s.SelectJob(ctx, id); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("SelectJob() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.SelectJobResult(ctx, id); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("SelectJobResult() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteJob(ctx, id); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("DeleteJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSelectJobsByState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := mustInsert(t, s, "a", time.Now())
	b := mustInsert(t, s, "b", time.Now())
	if err := s.UpdateJobState(ctx, b, job.StateCanceled); err != nil {
		t.Fatalf("UpdateJobState() error: %v", err)
	}

	queued, err := s.SelectJobsByState(ctx, job.StateQueued)
	if err != nil {
		t.Fatalf("SelectJobsByState() error: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != a {
		t.Fatalf("SelectJobsByState(queued) = %+v", queued)
	}
	all, err := s.SelectAllJobs(ctx)
	if err != nil {
		t.Fatalf("SelectAllJobs() error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(SelectAllJobs()) = %d, want 2", len(all))
	}
}

func TestClosedStore(t *testing.T) {
	s := openTestStore(t)
	_ = s.Close()
	if _, err := s.SelectAllJobs(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("SelectAllJobs() after Close error = %v, want ErrClosed", err)
	}
}
