// Package services defines the shared error taxonomy and context annotations
// used by the queue, the worker, and the processors.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, job types, dataset keys, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so every failure leaving a
//     processor can be classified as transient, permanent, configuration, or
//     interruption before the queue or dataset is touched.
//
// Use these helpers when writing processors so retry behaviour stays uniform
// across the pipeline.
package services
