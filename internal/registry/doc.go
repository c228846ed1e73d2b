// Package registry holds the static pipeline description: every processor
// type, what it accepts, what it produces, and the options it takes.
//
// A Registry is built once at startup and is read-only afterwards. Build
// validates each descriptor, rejects duplicate type ids, and refuses any set
// of descriptors whose accepts/produces edges form a cycle, so fan-out always
// terminates. The worker resolves processors and coerces stored options
// through it; the queue uses it to reject jobs of unknown types.
package registry
