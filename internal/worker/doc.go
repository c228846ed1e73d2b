// Package worker executes a single claimed job.
//
// A Worker resolves the job's processor from the registry, validates the
// dataset parameters, runs the processor under a watchdog in its own
// goroutine, and converts every outcome into exactly one queue action:
// Finish or Reschedule on success and permanent failure, Retry with backoff
// on transient failure, Release on interruption. Successful runs fan out to
// the consumers of the produced type.
package worker
