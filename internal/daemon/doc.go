// Package daemon coordinates the long-running fourcat process.
//
// It wires configuration, queue storage and the workflow manager into a single
// lifecycle with flock-based locking to prevent multiple instances. Start is
// the only place that clears stale job claims, so a second daemon can never
// release work a live one is still running. The daemon also owns top-level
// dataset submission and manual retries.
//
// Keep orchestration logic here: processors and the worker state machine live
// in their own packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
