package job

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state")

	// ErrLeaseResolved is returned by lease operations after SaveResult or
	// Cancel already committed.
	ErrLeaseResolved = fmt.Errorf("%w: lease already resolved", ErrInvalidState)
)

// InvalidTransition builds an ErrInvalidState error naming the rejected edge.
func InvalidTransition(id int64, from, to State) error {
	return fmt.Errorf("%w: job %d cannot move %s -> %s", ErrInvalidState, id, from, to)
}

// StorageError wraps a failed store operation (I/O, transaction, scan).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// ExecutionError reports that a job's command could not be spawned.
// A process that started and exited non-zero is not an ExecutionError.
type ExecutionError struct {
	Script string
	Dir    string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %q in %q: %v", e.Script, e.Dir, e.Err)
}
func (e *ExecutionError) Unwrap() error { return e.Err }

// IsStorage reports whether err came from the store.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsExecution reports whether err is a spawn failure.
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
