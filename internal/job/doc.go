// Package job defines the persisted job model shared by the store, the
// manager and the scheduler loop.
//
// A job moves through a small forward-only state machine:
//
//	Queued -> Dequeued -> Running -> Done
//	          Dequeued -> Canceled
//	          Dequeued -> Queued   (lease rollback only)
package job
