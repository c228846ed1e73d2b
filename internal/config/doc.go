// Package config loads, normalizes, and validates fourcat configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the FOURCAT_DATA_DIR environment
// fallback. The Config type centralizes every knob the scheduler daemon and the
// CLI need: storage directories, polling cadence, the retry policy for
// transient failures, and per-processor concurrency overrides.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
