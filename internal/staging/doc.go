// Package staging manages per-run scratch directories below the configured
// staging directory.
//
// Each worker run opens an Area, may unpack archives into it, and closes it
// on every exit path. CleanStale removes areas left behind by a crashed
// daemon and runs once at startup.
package staging
