// Package queue persists jobs and datasets in SQLite and exposes the claim,
// release, and finish operations the scheduler is built on.
//
// Jobs are the durable work list. GetJob claims the oldest eligible job of a
// type with a single conditional UPDATE, so any number of pollers (in this
// process or another) can share one database without double execution.
// Release, Retry, and Reschedule hand a job back with an optional eligibility
// delay; Finish deletes it. ReleaseAll clears every claim and must run once at
// startup before polling begins.
//
// Datasets are the durable artifacts jobs produce. Their status only moves
// forward (created, queued, processing, finished) except for error, which is
// terminal and reachable from any unfinished status. The scheduler never
// deletes datasets.
//
// Schema changes bump the version in schema.go; the database is treated as
// disposable across schema versions.
package queue
