// Package stages defines the project lifecycle graph: the fixed stage set,
// the table of legal transitions, and the per-stage progress lookup.
package stages
