// Command fourcat runs the processing daemon and manages its queue.
//
// The daemon (`fourcat run`) claims jobs from the SQLite queue and runs them
// through the registered processors. Every other command opens the same
// database directly, so queue inspection and submission work whether or not
// the daemon is running. Commands that must not race a live daemon, such as
// `queue release-all`, take the daemon lock first.
package main
