// Package storage is the durable job store.
//
// It owns the SQLite schema (jobs, job_results) and exposes raw
// read/write/transaction operations. Multi-step invariants (who may move a
// job between states) live in internal/manager; the store only guarantees
// that compound writes are atomic and that conditional writes are
// compare-and-swap.
package storage
