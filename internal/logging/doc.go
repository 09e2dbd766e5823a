// Package logging centralizes slog construction and the structured field
// conventions shared by the daemon, pipeline, and CLI.
package logging
