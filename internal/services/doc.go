// Package services defines shared utilities consumed by the pipeline steps
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, job IDs, step names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that separate
//     caller-visible precondition failures from retryable external failures.
//
// Use these helpers when wiring new step logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
