// Package project defines the aggregate root of the content pipeline: the
// project with its insights, posts, scheduled posts, jobs, and event log.
//
// Mutating operations follow an outbox discipline: each returns the events
// it produced alongside the updated in-memory state, and the caller is
// responsible for persisting both atomically. Nothing in this package
// touches storage or the clock directly.
package project
