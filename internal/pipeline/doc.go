// Package pipeline drives projects through the automated content stages.
//
// The Manager polls the job queue, reclaims stale work, and feeds jobs into
// typed step handlers (transcript cleaning, insight extraction, post
// generation, scheduling) while recording progress and failure metadata.
// Handlers mutate the loaded aggregate and report their events; the manager
// persists both in one transaction, enqueues the follow-up step, and retries
// retryable failures with escalating backoff. Terminal processing failures
// roll the project back to raw content.
//
// The Service is the synchronous front door used by the API and CLI: it
// applies review decisions, starts processing, and chains the next automated
// step when the project's workflow allows it.
package pipeline
