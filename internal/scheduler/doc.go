// Package scheduler drives job execution: one goroutine that dequeues the
// earliest queued job, waits until it is due, runs it and records the
// result.
//
// Jobs due later than one poll interval are handed back to the queue every
// tick instead of being held, so a newly added job with an earlier run_at is
// picked up on the next poll.
package scheduler
