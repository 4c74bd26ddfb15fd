// Package worker provides a fixed-size goroutine pool fed by a shared,
// unbounded job queue.
//
// The Pool spawns exactly Size workers at construction. Each worker blocks on
// the queue, runs one job to completion, and goes back to the queue. Every
// job is delivered to exactly one worker. Jobs leave the queue in submission
// order; completion order across workers is unspecified.
//
// # Basic Usage
//
//	pool := worker.New(4) // panics if size <= 0
//	defer pool.Shutdown()
//
//	for i := 0; i < 100; i++ {
//	    pool.Submit(func() {
//	        // do work
//	    })
//	}
//
// # Shutdown
//
// Shutdown closes the queue first and then joins each worker in id order.
// Jobs that were already queued are still run before the workers see the
// disconnect. Shutdown runs once; later calls return the first result.
// Submit after Shutdown panics with ErrSendFailed; TrySubmit returns it.
//
// # Failing Jobs
//
// A job that panics takes its worker down. The panic is recorded as a
// *PanicError, the remaining workers keep serving the queue, and Shutdown
// returns every recorded failure joined with errors.Join. The pool never
// replaces dead workers on its own; Respawn lets a supervisor do it.
package worker
