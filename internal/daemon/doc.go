// Package daemon assembles the long-running postflow process: the pipeline
// manager that drains the job queue, the publish dispatcher, and the HTTP
// API. A lock file in the log directory enforces one instance per data
// directory.
package daemon
