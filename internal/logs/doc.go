// Package logs reads the daemon log file for the CLI.
//
// Reads are offset based so `fourcat logs --follow` can poll the file with
// bounded memory. Only newline-terminated lines are returned; a line the
// daemon is still writing is picked up on the next poll. A file that shrinks
// below the caller's offset is treated as rotated and read from the start.
package logs
