// Package workflow supervises the worker pool.
//
// The Manager keeps one lane per registered processor type, bounded by the
// type's declared concurrency. A single loop goroutine polls the queue for
// every lane with spare capacity and hands each claimed job to its own worker
// goroutine, so a slow processor never stalls dispatch of other types.
// Workers report completion over a channel read by the loop, which is the
// only writer of lane counts.
//
// Stop raises the interruption signal (cause services.ErrShutdown) for every
// running job and waits a bounded grace period. Jobs still claimed after that
// are recovered by queue.Store.ReleaseAll at the next startup.
package workflow
